// Package broker is the trading-venue client used by the live bot: REST for
// history, account state and bracket orders, websocket for the bar stream.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orb-backtest/services/engine"
)

// Client is the REST side of the venue API.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(baseURL, apiKey, apiSecret string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: logger,
	}
}

type wireBar struct {
	TimestampMs int64  `json:"t"`
	Open        string `json:"o"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Close       string `json:"c"`
	Volume      string `json:"v"`
	VWAP        string `json:"vw,omitempty"`
}

func (w wireBar) toBar() (engine.Bar, error) {
	open, err := decimal.NewFromString(w.Open)
	if err != nil {
		return engine.Bar{}, fmt.Errorf("bad open %q: %w", w.Open, err)
	}
	high, err := decimal.NewFromString(w.High)
	if err != nil {
		return engine.Bar{}, fmt.Errorf("bad high %q: %w", w.High, err)
	}
	low, err := decimal.NewFromString(w.Low)
	if err != nil {
		return engine.Bar{}, fmt.Errorf("bad low %q: %w", w.Low, err)
	}
	cls, err := decimal.NewFromString(w.Close)
	if err != nil {
		return engine.Bar{}, fmt.Errorf("bad close %q: %w", w.Close, err)
	}
	volume, err := decimal.NewFromString(w.Volume)
	if err != nil {
		volume = decimal.Zero
	}
	b := engine.Bar{
		TimestampMs: w.TimestampMs,
		Open:        open, High: high, Low: low, Close: cls, Volume: volume,
	}
	if w.VWAP != "" {
		if vw, err := decimal.NewFromString(w.VWAP); err == nil {
			b.VWAP = vw
			b.HasVWAP = true
		}
	}
	return b, nil
}

// FetchBars pulls historical bars for the warmup window.
func (c *Client) FetchBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]engine.Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("start", fmt.Sprintf("%d", start.UnixMilli()))
	q.Set("end", fmt.Sprintf("%d", end.UnixMilli()))

	var payload struct {
		Bars []wireBar `json:"bars"`
	}
	if err := c.get(ctx, "/v1/bars?"+q.Encode(), &payload); err != nil {
		return nil, err
	}

	bars := make([]engine.Bar, 0, len(payload.Bars))
	for _, w := range payload.Bars {
		b, err := w.toBar()
		if err != nil {
			c.log.Warn("bad bar skipped", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// AccountEquity returns the account's current equity.
func (c *Client) AccountEquity(ctx context.Context) (decimal.Decimal, error) {
	var payload struct {
		Equity string `json:"equity"`
	}
	if err := c.get(ctx, "/v1/account", &payload); err != nil {
		return decimal.Zero, err
	}
	eq, err := decimal.NewFromString(payload.Equity)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad equity %q: %w", payload.Equity, err)
	}
	return eq, nil
}

// BracketOrder is a stop-entry order with an attached protective stop and an
// optional take-profit leg.
type BracketOrder struct {
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"` // BUY or SELL
	Quantity   int64           `json:"qty"`
	EntryStop  decimal.Decimal `json:"entry_stop"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit,omitempty"`
	HasTP      bool            `json:"-"`
	ClientID   string          `json:"client_id"`
}

// OrderAck is the venue's acceptance of a bracket.
type OrderAck struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// PlaceBracket submits the bracket. The venue manages the OCO legs; the bot
// only tracks the order id.
func (c *Client) PlaceBracket(ctx context.Context, order BracketOrder) (OrderAck, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return OrderAck{}, fmt.Errorf("marshal order: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/orders/bracket", bytes.NewReader(body))
	if err != nil {
		return OrderAck{}, fmt.Errorf("request error: %w", err)
	}
	c.auth(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return OrderAck{}, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return OrderAck{}, fmt.Errorf("broker error %d: %s", resp.StatusCode, string(raw))
	}

	var ack OrderAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return OrderAck{}, fmt.Errorf("decode ack: %w", err)
	}
	c.log.Info("bracket placed",
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.Int64("qty", order.Quantity),
		zap.String("order_id", ack.OrderID))
	return ack, nil
}

// CancelOrder cancels a resting order, used at the session teardown.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/v1/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	c.auth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("broker error %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	c.auth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("broker error %d: %s", resp.StatusCode, string(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) auth(req *http.Request) {
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-API-Secret", c.apiSecret)
}
