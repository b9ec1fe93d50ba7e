package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRouter(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	srv := &backtestServer{log: zap.NewNop()}
	srv.routes(router)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func writeBarsCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.csv")
	csv := "timestamp,open,high,low,close,volume\n"
	ts := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC).UnixMilli()
	for i := 0; i < 4; i++ {
		csv += fmt.Sprintf("%d,100,101,99,100,1000\n", ts+int64(i)*300_000)
	}
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))
	return path
}

func submitJob(t *testing.T, ts *httptest.Server, body string) jobView {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/backtest", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var job jobView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	return job
}

func pollStatus(t *testing.T, ts *httptest.Server, id string) jobView {
	t.Helper()
	resp, err := http.Get(ts.URL + "/api/v1/backtest/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var job jobView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	return job
}

// Status reads race the background run; the poller goroutines plus the
// executing job exercise the job locking.
func TestBacktestJobConcurrentStatusReads(t *testing.T) {
	ts := testRouter(t)
	body := fmt.Sprintf(`{"strategy":"orb_5min","symbol":"QQQ","csv_path":%q}`, writeBarsCSV(t))
	job := submitJob(t, ts, body)
	require.NotEmpty(t, job.ID)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				resp, err := http.Get(ts.URL + "/api/v1/backtest/" + job.ID)
				if err != nil {
					return
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(5 * time.Second)
	for {
		got := pollStatus(t, ts, job.ID)
		if got.Status == "completed" {
			require.NotNil(t, got.Summary)
			return
		}
		require.NotEqual(t, "failed", got.Status, "run failed: %s", got.Error)
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %q", got.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestBacktestUnknownJob(t *testing.T) {
	ts := testRouter(t)
	resp, err := http.Get(ts.URL + "/api/v1/backtest/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBacktestRejectsMissingSource(t *testing.T) {
	ts := testRouter(t)
	resp, err := http.Post(ts.URL+"/api/v1/backtest", "application/json",
		bytes.NewBufferString(`{"strategy":"orb_5min","symbol":"QQQ"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
