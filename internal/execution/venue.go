package execution

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound means the venue has no order for the queried id. It is
	// the one answer that makes resubmission safe.
	ErrNotFound = errors.New("execution: order not found on venue")

	// ErrRejected wraps a venue-side rejection (bad parameters,
	// insufficient balance). Terminal; never retried.
	ErrRejected = errors.New("execution: order rejected by venue")
)

type SubmitRequest struct {
	ClientOrderID string
	Instrument    string
	Side          string
	Kind          string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
}

type SubmitAck struct {
	VenueOrderID string
}

// VenueOrder is the venue's view of an order on query. FilledQuantity and
// Fee are cumulative.
type VenueOrder struct {
	VenueOrderID   string
	Status         string
	FilledQuantity decimal.Decimal
	FilledPrice    decimal.Decimal
	Fee            decimal.Decimal
}

// FillEvent is a pushed order update from the venue's private stream.
// Quantities are cumulative; duplicates and reordering are expected.
type FillEvent struct {
	ClientOrderID  string
	VenueOrderID   string
	FilledQuantity decimal.Decimal
	FilledPrice    decimal.Decimal
	Fee            decimal.Decimal
	At             time.Time
}

// VenueClient is the abstract submit/query/cancel/fill-notify contract.
// Query is keyed by the client-assigned idempotency id so an order whose
// submission ack was lost can still be found.
type VenueClient interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitAck, error)
	Query(ctx context.Context, instrument, clientOrderID string) (VenueOrder, error)
	Cancel(ctx context.Context, instrument, venueOrderID string) error
	Fills(ctx context.Context) (<-chan FillEvent, error)
}
