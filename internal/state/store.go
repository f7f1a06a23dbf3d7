package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/repository"
)

var (
	// ErrConflict marks an operator transition that is invalid in the
	// current state (engage an engaged switch, reset an untripped breaker).
	ErrConflict = errors.New("state: conflicting transition")

	// ErrVersionConflict is returned when the optimistic retry budget is
	// exhausted without winning the compare-and-set.
	ErrVersionConflict = errors.New("state: version conflict")

	ErrReasonRequired = errors.New("state: reason is required")
)

const mutateAttempts = 5

// Store owns the singleton SystemState row. Every mutation goes through a
// versioned compare-and-set; nothing in here ever clears the kill switch
// or the circuit breaker on its own.
type Store struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

// Get loads the state row, rolling the daily counters over to the current
// UTC day first if they belong to an earlier one.
func (s *Store) Get(ctx context.Context) (*models.SystemState, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("state: store not configured")
	}
	cur, err := s.Repo.GetSystemState(ctx)
	if err != nil {
		return nil, err
	}
	if cur.CountersDate == dayOf(time.Now().UTC()) {
		return cur, nil
	}
	return s.Mutate(ctx, func(st *models.SystemState) error { return nil })
}

// Mutate applies fn to a copy of the current state and writes it back
// conditioned on the version it read, retrying on conflict. The daily
// rollover happens before fn so counters never mix days.
func (s *Store) Mutate(ctx context.Context, fn func(*models.SystemState) error) (*models.SystemState, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("state: store not configured")
	}
	for attempt := 0; attempt < mutateAttempts; attempt++ {
		cur, err := s.Repo.GetSystemState(ctx)
		if err != nil {
			return nil, err
		}
		next := *cur
		rollover(&next, time.Now().UTC())
		if err := fn(&next); err != nil {
			return nil, err
		}
		next.Version = cur.Version + 1
		ok, err := s.Repo.UpdateSystemStateCAS(ctx, &next, cur.Version)
		if err != nil {
			return nil, err
		}
		if ok {
			return &next, nil
		}
		if s.Logger != nil {
			s.Logger.Debug("system state cas conflict, retrying", zap.Int("attempt", attempt+1))
		}
	}
	return nil, ErrVersionConflict
}

// MutateTx is the single-attempt variant bound to a caller transaction.
// A version conflict propagates as ErrVersionConflict so the caller can
// roll back and retry the whole transaction.
func (s *Store) MutateTx(tx *gorm.DB, fn func(*models.SystemState) error) (*models.SystemState, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("state: store not configured")
	}
	cur, err := s.Repo.GetSystemStateTx(tx)
	if err != nil {
		return nil, err
	}
	next := *cur
	rollover(&next, time.Now().UTC())
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1
	ok, err := s.Repo.UpdateSystemStateCASTx(tx, &next, cur.Version)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVersionConflict
	}
	return &next, nil
}

func (s *Store) EngageKillSwitch(ctx context.Context, reason, operator string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	_, err := s.Mutate(ctx, func(st *models.SystemState) error {
		if st.KillSwitchActive {
			return fmt.Errorf("%w: kill switch already engaged", ErrConflict)
		}
		now := time.Now().UTC()
		st.KillSwitchActive = true
		st.KillSwitchReason = auditReason(reason, operator)
		st.KillSwitchAt = &now
		return nil
	})
	if err == nil && s.Logger != nil {
		s.Logger.Warn("kill switch engaged", zap.String("reason", reason), zap.String("operator", operator))
	}
	return err
}

func (s *Store) ClearKillSwitch(ctx context.Context, reason, operator string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	_, err := s.Mutate(ctx, func(st *models.SystemState) error {
		if !st.KillSwitchActive {
			return fmt.Errorf("%w: kill switch is not engaged", ErrConflict)
		}
		st.KillSwitchActive = false
		st.KillSwitchReason = auditReason(reason, operator)
		st.KillSwitchAt = nil
		return nil
	})
	if err == nil && s.Logger != nil {
		s.Logger.Info("kill switch cleared", zap.String("reason", reason), zap.String("operator", operator))
	}
	return err
}

// ResetBreaker clears a tripped circuit breaker. It refuses while the kill
// switch is engaged: the stronger halt wins.
func (s *Store) ResetBreaker(ctx context.Context, reason, operator string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	_, err := s.Mutate(ctx, func(st *models.SystemState) error {
		if st.KillSwitchActive {
			return fmt.Errorf("%w: kill switch is engaged", ErrConflict)
		}
		if !st.CircuitBreakerActive {
			return fmt.Errorf("%w: circuit breaker is not tripped", ErrConflict)
		}
		st.CircuitBreakerActive = false
		st.CircuitBreakerReason = auditReason(reason, operator)
		st.CircuitBreakerAt = nil
		// A manual reset also clears the loss streak that tripped it.
		st.ConsecutiveLosses = 0
		return nil
	})
	if err == nil && s.Logger != nil {
		s.Logger.Info("circuit breaker reset", zap.String("reason", reason), zap.String("operator", operator))
	}
	return err
}

// Rollover is the cheap cron tick that flips the counters to a new UTC day.
func (s *Store) Rollover(ctx context.Context) error {
	cur, err := s.Repo.GetSystemState(ctx)
	if err != nil {
		return err
	}
	if cur.CountersDate == dayOf(time.Now().UTC()) {
		return nil
	}
	_, err = s.Mutate(ctx, func(st *models.SystemState) error { return nil })
	return err
}

// rollover zeroes the daily counters when the stored date is stale. The
// loss streak is not daily; only a winning trade or a breaker reset
// clears it.
func rollover(st *models.SystemState, now time.Time) {
	today := dayOf(now)
	if st.CountersDate == today {
		return
	}
	st.CountersDate = today
	st.DailyPnLUSDT = decimal.Zero
	st.DailyTradesCount = 0
}

func dayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func auditReason(reason, operator string) string {
	reason = strings.TrimSpace(reason)
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return reason
	}
	return operator + ": " + reason
}
