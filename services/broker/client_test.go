package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFetchBarsSkipsBadRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "QQQ", r.URL.Query().Get("symbol"))
		require.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		w.Write([]byte(`{"bars":[
			{"t":1709562600000,"o":"100","h":"104","l":"98","c":"102","v":"1500","vw":"101.2"},
			{"t":1709562900000,"o":"not-a-price","h":"105","l":"101","c":"104","v":"1200"},
			{"t":1709563200000,"o":"104","h":"107","l":"103","c":"106","v":"900"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "test-secret", nil)
	bars, err := c.FetchBars(context.Background(), "QQQ", "5m", time.UnixMilli(0), time.Now())
	require.NoError(t, err)
	require.Len(t, bars, 2, "unparseable row dropped")
	require.True(t, bars[0].HasVWAP)
	require.True(t, bars[0].VWAP.Equal(decimal.NewFromFloat(101.2)))
	require.False(t, bars[1].HasVWAP)
}

func TestAccountEquity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"equity":"50000.25"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "s", nil)
	eq, err := c.AccountEquity(context.Background())
	require.NoError(t, err)
	require.True(t, eq.Equal(decimal.NewFromFloat(50000.25)))
}

func TestPlaceBracket(t *testing.T) {
	var got BracketOrder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(OrderAck{OrderID: "ord-1", Status: "ACCEPTED"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "s", nil)
	ack, err := c.PlaceBracket(context.Background(), BracketOrder{
		Symbol: "QQQ", Side: "BUY", Quantity: 166,
		EntryStop: decimal.NewFromInt(104),
		StopLoss:  decimal.NewFromFloat(103.8),
		ClientID:  "day-2024-03-04",
	})
	require.NoError(t, err)
	require.Equal(t, "ord-1", ack.OrderID)
	require.Equal(t, int64(166), got.Quantity)
	require.Equal(t, "BUY", got.Side)
}

func TestBrokerErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"insufficient buying power"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "s", nil)
	_, err := c.AccountEquity(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "broker error 403")
}
