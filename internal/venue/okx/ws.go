package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/e-mzungu/okx-bot/internal/execution"
)

const (
	wsPingInterval = 25 * time.Second
	wsBackoffMin   = time.Second
	wsBackoffMax   = 30 * time.Second
)

type wsRequest struct {
	Op   string         `json:"op"`
	Args []wsRequestArg `json:"args"`
}

type wsRequestArg struct {
	APIKey     string `json:"apiKey,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	Sign       string `json:"sign,omitempty"`
	Channel    string `json:"channel,omitempty"`
	InstType   string `json:"instType,omitempty"`
}

type wsEnvelope struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
	} `json:"arg"`
	Data []orderUpdate `json:"data"`
}

type orderUpdate struct {
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	Fee       string `json:"fee"`
	FillTime  string `json:"fillTime"`
	State     string `json:"state"`
}

// Fills opens the private "orders" channel and translates its updates into
// fill events. The read loop reconnects with backoff until ctx ends; the
// returned channel closes only when ctx does.
func (c *Client) Fills(ctx context.Context) (<-chan execution.FillEvent, error) {
	out := make(chan execution.FillEvent, 128)
	go func() {
		defer close(out)
		backoff := wsBackoffMin
		for {
			if ctx.Err() != nil {
				return
			}
			err := c.streamOrders(ctx, out)
			if ctx.Err() != nil {
				return
			}
			if err != nil && c.logger != nil {
				c.logger.Warn("okx orders stream dropped", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > wsBackoffMax {
				backoff = wsBackoffMax
			}
		}
	}()
	return out, nil
}

func (c *Client) streamOrders(ctx context.Context, out chan<- execution.FillEvent) error {
	conn, _, err := websocket.Dial(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(1 << 20)

	if err := c.wsLogin(ctx, conn); err != nil {
		return err
	}
	if err := writeJSON(ctx, conn, wsRequest{
		Op:   "subscribe",
		Args: []wsRequestArg{{Channel: "orders", InstType: "SPOT"}},
	}); err != nil {
		return err
	}
	if c.logger != nil {
		c.logger.Info("okx orders stream connected")
	}

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		t := time.NewTicker(wsPingInterval)
		defer t.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-t.C:
				_ = conn.Write(pingCtx, websocket.MessageText, []byte("ping"))
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if string(data) == "pong" {
			continue
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Event == "error" {
			return fmt.Errorf("okx ws error %s: %s", env.Code, env.Msg)
		}
		if env.Arg.Channel != "orders" {
			continue
		}
		for _, upd := range env.Data {
			if upd.ClOrdID == "" {
				continue
			}
			filled := parseDecimal(upd.AccFillSz)
			if !filled.IsPositive() {
				continue
			}
			out <- execution.FillEvent{
				ClientOrderID:  upd.ClOrdID,
				VenueOrderID:   upd.OrdID,
				FilledQuantity: filled,
				FilledPrice:    parseDecimal(upd.AvgPx),
				Fee:            parseDecimal(upd.Fee).Abs(),
				At:             parseMillis(upd.FillTime),
			}
		}
	}
}

// wsLogin signs the canonical "GET /users/self/verify" prehash with the
// unix-seconds timestamp the private endpoint expects.
func (c *Client) wsLogin(ctx context.Context, conn *websocket.Conn) error {
	ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	if err := writeJSON(ctx, conn, wsRequest{
		Op: "login",
		Args: []wsRequestArg{{
			APIKey:     c.cfg.APIKey,
			Passphrase: c.cfg.Passphrase,
			Timestamp:  ts,
			Sign:       Sign(c.cfg.APISecret, ts, http.MethodGet, "/users/self/verify", ""),
		}},
	}); err != nil {
		return err
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("okx ws login: %w", err)
	}
	if env.Event != "login" || env.Code != codeOK {
		return fmt.Errorf("okx ws login failed %s: %s", env.Code, env.Msg)
	}
	return nil
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

func parseMillis(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
