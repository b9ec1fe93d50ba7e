package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"orb-backtest/services/engine"
)

// dropVenue accepts websocket connections, records the first message of each,
// and drops the first connection to force a reconnect.
type dropVenue struct {
	upgrader websocket.Upgrader
	messages chan string
	conns    int
}

func (v *dropVenue) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := v.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		v.conns++
		first := v.conns == 1
		_, data, err := conn.ReadMessage()
		if err == nil {
			v.messages <- string(data)
		}
		if first {
			conn.Close()
			return
		}
		// keep the second connection open until the test ends
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func TestStreamReconnectsAfterDrop(t *testing.T) {
	venue := &dropVenue{messages: make(chan string, 4)}
	srv := httptest.NewServer(venue.handler(t))
	t.Cleanup(srv.Close)
	wsURL := strings.Replace(srv.URL, "http", "ws", 1)

	s := NewStream(wsURL, nil)
	t.Cleanup(func() { s.Disconnect() })

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.SubscribeBars("QQQ", "5m", func(engine.Bar) {}))

	select {
	case msg := <-venue.messages:
		require.Contains(t, msg, "QQQ@bars_5m")
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe message")
	}

	// the venue drops the first connection after the subscribe
	select {
	case <-s.Reconnects():
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect signal after the drop")
	}
	require.False(t, s.IsConnected(), "dead connection must be cleared")

	// redialing must succeed and replay the subscription
	require.NoError(t, s.Connect(context.Background()))
	select {
	case msg := <-venue.messages:
		require.Contains(t, msg, "QQQ@bars_5m")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not replayed on reconnect")
	}

	// re-subscribing an already-known stream only swaps the handler
	require.NoError(t, s.SubscribeBars("QQQ", "5m", func(engine.Bar) {}))
}
