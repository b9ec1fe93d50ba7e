package clickhouse

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchClientFlushesOnFill(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
		gz, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		raw, err := io.ReadAll(gz)
		require.NoError(t, err)
		bodies = append(bodies, string(raw))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewBatchClient(srv.URL, "backtest", "backtest", "backtest123", 2)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Add(ctx, RawBar{
			Symbol: "QQQ", Interval: "5m",
			TimestampMs: "1709562600000",
			Open:        "100", High: "104", Low: "98", Close: "102", Volume: "1500",
		}))
	}
	// two rows flushed on fill, one still buffered
	require.Len(t, bodies, 1)
	require.Equal(t, 2, strings.Count(bodies[0], "\n"))

	require.NoError(t, c.Close(ctx))
	require.Len(t, bodies, 2)
}

func TestBatchClientSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Code: 62. DB::Exception: syntax error", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewBatchClient(srv.URL, "backtest", "backtest", "backtest123", 1)
	err := c.Add(context.Background(), RawBar{Symbol: "QQQ"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "clickhouse error 400")
}
