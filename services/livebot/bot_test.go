package livebot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"orb-backtest/services/broker"
	"orb-backtest/services/engine"
)

// fakeVenue serves warmup history, equity and order endpoints.
type fakeVenue struct {
	placed    []broker.BracketOrder
	cancelled []string
}

func (v *fakeVenue) handler(t *testing.T, warmupBars string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/bars"):
			w.Write([]byte(warmupBars))
		case r.URL.Path == "/v1/account":
			w.Write([]byte(`{"equity":"50000"}`))
		case r.URL.Path == "/v1/orders/bracket":
			var o broker.BracketOrder
			require.NoError(t, json.NewDecoder(r.Body).Decode(&o))
			v.placed = append(v.placed, o)
			json.NewEncoder(w).Encode(broker.OrderAck{OrderID: "ord-1", Status: "ACCEPTED"})
		case r.Method == http.MethodDelete:
			v.cancelled = append(v.cancelled, strings.TrimPrefix(r.URL.Path, "/v1/orders/"))
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}
}

// warmupJSON builds 14 flat one-bar days ending the day before the live one.
func warmupJSON(t *testing.T, loc *time.Location) string {
	t.Helper()
	var rows []string
	day := time.Date(2024, 2, 12, 0, 0, 0, 0, loc)
	for i := 0; i < 14; i++ {
		ts := time.Date(day.Year(), day.Month(), day.Day(), 9, 30, 0, 0, loc)
		rows = append(rows, fmt.Sprintf(
			`{"t":%d,"o":"100","h":"101","l":"99","c":"100","v":"1000"}`, ts.UnixMilli()))
		day = day.AddDate(0, 0, 1)
	}
	return `{"bars":[` + strings.Join(rows, ",") + `]}`
}

func newTestBot(t *testing.T, venue *fakeVenue) (*Bot, *time.Location) {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	srv := httptest.NewServer(venue.handler(t, warmupJSON(t, loc)))
	t.Cleanup(srv.Close)

	client := broker.NewClient(srv.URL, "k", "s", nil)
	bot, err := New(Config{
		Symbol:   "QQQ",
		Interval: "5m",
		Engine:   engine.DefaultConfig(),
	}, client, nil, nil)
	require.NoError(t, err)
	require.NoError(t, bot.Warmup(context.Background()))
	return bot, loc
}

func liveBar(loc *time.Location, hour, minute int, o, h, l, c, v float64) engine.Bar {
	ts := time.Date(2024, 2, 26, hour, minute, 0, 0, loc)
	return engine.Bar{
		TimestampMs: ts.UnixMilli(),
		Open:        decimal.NewFromFloat(o), High: decimal.NewFromFloat(h),
		Low: decimal.NewFromFloat(l), Close: decimal.NewFromFloat(c),
		Volume: decimal.NewFromFloat(v),
	}
}

func TestBotArmsOnBullishOpeningBar(t *testing.T) {
	venue := &fakeVenue{}
	bot, loc := newTestBot(t, venue)

	// bullish opening bar at double the usual volume
	require.NoError(t, bot.OnBar(context.Background(), liveBar(loc, 9, 30, 100, 104, 98, 102, 2000)))

	require.Len(t, venue.placed, 1)
	o := venue.placed[0]
	require.Equal(t, "BUY", o.Side)
	require.True(t, o.EntryStop.Equal(decimal.NewFromInt(104)))
	// stop = 104 - ATR(2) * 0.1
	require.True(t, o.StopLoss.Equal(decimal.NewFromFloat(103.8)), "stop %s", o.StopLoss)
	// floor(50000*0.01 / 0.2)
	require.Equal(t, int64(2500), o.Quantity)
}

func TestBotArmsAtMostOncePerDay(t *testing.T) {
	venue := &fakeVenue{}
	bot, loc := newTestBot(t, venue)

	ctx := context.Background()
	require.NoError(t, bot.OnBar(ctx, liveBar(loc, 9, 30, 100, 104, 98, 102, 2000)))
	require.NoError(t, bot.OnBar(ctx, liveBar(loc, 9, 35, 102, 105, 101, 104, 1000)))
	require.NoError(t, bot.OnBar(ctx, liveBar(loc, 9, 40, 104, 106, 103, 105, 1000)))

	require.Len(t, venue.placed, 1)
}

func TestBotSkipsQuietOpen(t *testing.T) {
	venue := &fakeVenue{}
	bot, loc := newTestBot(t, venue)

	// relative volume 0.5 fails the 1.0 gate
	require.NoError(t, bot.OnBar(context.Background(), liveBar(loc, 9, 30, 100, 104, 98, 102, 500)))
	require.Empty(t, venue.placed)
}

func TestBotCancelsRestingOrderAtSessionEnd(t *testing.T) {
	venue := &fakeVenue{}
	bot, loc := newTestBot(t, venue)

	ctx := context.Background()
	require.NoError(t, bot.OnBar(ctx, liveBar(loc, 9, 30, 100, 104, 98, 102, 2000)))
	require.Len(t, venue.placed, 1)

	require.NoError(t, bot.OnBar(ctx, liveBar(loc, 16, 0, 102, 103, 101, 102, 1000)))
	require.Equal(t, []string{"ord-1"}, venue.cancelled)
}
