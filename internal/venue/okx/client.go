package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/e-mzungu/okx-bot/internal/config"
	"github.com/e-mzungu/okx-bot/internal/execution"
	"github.com/e-mzungu/okx-bot/internal/models"
)

const (
	pathPlaceOrder  = "/api/v5/trade/order"
	pathCancelOrder = "/api/v5/trade/cancel-order"

	codeOK            = "0"
	codeOrderNotFound = "51603"
)

// Client is the live venue adapter: signed REST for place/query/cancel and
// a private websocket orders channel for fill pushes. It satisfies
// execution.VenueClient; paper and shadow modes never construct one.
type Client struct {
	cfg        config.OKXConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg config.OKXConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type apiEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type placeOrderResult struct {
	OrdID string `json:"ordId"`
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

type orderDetail struct {
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	State     string `json:"state"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	Fee       string `json:"fee"`
}

func (c *Client) Submit(ctx context.Context, req execution.SubmitRequest) (execution.SubmitAck, error) {
	body := map[string]string{
		"instId":  req.Instrument,
		"tdMode":  "cash",
		"clOrdId": req.ClientOrderID,
		"side":    req.Side,
		"ordType": req.Kind,
		"sz":      req.Quantity.String(),
	}
	if req.Kind == models.OrderKindLimit {
		body["px"] = req.Price.String()
	}

	var results []placeOrderResult
	if err := c.do(ctx, http.MethodPost, pathPlaceOrder, body, &results); err != nil {
		return execution.SubmitAck{}, err
	}
	if len(results) == 0 {
		return execution.SubmitAck{}, fmt.Errorf("okx: empty place-order response")
	}
	res := results[0]
	if res.SCode != codeOK {
		return execution.SubmitAck{}, fmt.Errorf("%w: %s (%s)", execution.ErrRejected, res.SMsg, res.SCode)
	}
	return execution.SubmitAck{VenueOrderID: res.OrdID}, nil
}

func (c *Client) Query(ctx context.Context, instrument, clientOrderID string) (execution.VenueOrder, error) {
	path := fmt.Sprintf("%s?instId=%s&clOrdId=%s", pathPlaceOrder, instrument, clientOrderID)
	var details []orderDetail
	if err := c.do(ctx, http.MethodGet, path, nil, &details); err != nil {
		return execution.VenueOrder{}, err
	}
	if len(details) == 0 {
		return execution.VenueOrder{}, execution.ErrNotFound
	}
	return toVenueOrder(details[0]), nil
}

func (c *Client) Cancel(ctx context.Context, instrument, venueOrderID string) error {
	body := map[string]string{
		"instId": instrument,
		"ordId":  venueOrderID,
	}
	var results []placeOrderResult
	if err := c.do(ctx, http.MethodPost, pathCancelOrder, body, &results); err != nil {
		return err
	}
	if len(results) > 0 && results[0].SCode != codeOK {
		return fmt.Errorf("okx: cancel failed: %s (%s)", results[0].SMsg, results[0].SCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = raw
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("okx: build request: %w", err)
	}
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", c.cfg.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", Sign(c.cfg.APISecret, ts, method, path, string(payload)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	if c.cfg.Sandbox {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("okx: request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("okx: read response: %w", err)
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("okx: decode response (%d): %w", resp.StatusCode, err)
	}
	if env.Code == codeOrderNotFound {
		return execution.ErrNotFound
	}
	if env.Code != codeOK {
		// Per-order errors still arrive with code "1" and details in data.
		if len(env.Data) > 0 && out != nil {
			_ = json.Unmarshal(env.Data, out)
		}
		var results []placeOrderResult
		if json.Unmarshal(env.Data, &results) == nil && len(results) > 0 && results[0].SCode != "" {
			return fmt.Errorf("%w: %s (%s)", execution.ErrRejected, results[0].SMsg, results[0].SCode)
		}
		return fmt.Errorf("okx: api error %s: %s", env.Code, env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("okx: decode data: %w", err)
		}
	}
	return nil
}

// Sign computes the OK-ACCESS-SIGN header: base64 HMAC-SHA256 over
// timestamp + method + requestPath + body.
func Sign(secret, timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func toVenueOrder(d orderDetail) execution.VenueOrder {
	return execution.VenueOrder{
		VenueOrderID:   d.OrdID,
		Status:         mapState(d.State),
		FilledQuantity: parseDecimal(d.AccFillSz),
		FilledPrice:    parseDecimal(d.AvgPx),
		Fee:            parseDecimal(d.Fee).Abs(),
	}
}

func mapState(state string) string {
	switch state {
	case "live":
		return models.OrderStatusSubmitted
	case "partially_filled":
		return models.OrderStatusPartiallyFilled
	case "filled":
		return models.OrderStatusFilled
	case "canceled", "mmp_canceled":
		return models.OrderStatusCancelled
	default:
		return models.OrderStatusSubmitted
	}
}

func parseDecimal(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}
