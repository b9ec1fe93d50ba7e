package clickhouse

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// BatchClient bulk-loads bar rows over the ClickHouse HTTP interface with
// gzip-compressed JSONEachRow bodies. Used by the ingest command where the
// native connection is not available (HTTP-only deployments).
type BatchClient struct {
	baseURL    string
	database   string
	username   string
	password   string
	httpClient *http.Client
	buffer     []RawBar
	batchSize  int
}

// RawBar is the wire row: everything as strings, cast server-side.
type RawBar struct {
	Symbol      string `json:"symbol"`
	Interval    string `json:"interval"`
	TimestampMs string `json:"timestamp_ms"`
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Close       string `json:"close"`
	Volume      string `json:"volume"`
	VWAP        string `json:"vwap,omitempty"`
}

func NewBatchClient(baseURL, database, username, password string, batchSize int) *BatchClient {
	return &BatchClient{
		baseURL:   baseURL,
		database:  database,
		username:  username,
		password:  password,
		batchSize: batchSize,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		buffer: make([]RawBar, 0, batchSize),
	}
}

// Add buffers a row and flushes when the batch fills.
func (c *BatchClient) Add(ctx context.Context, bar RawBar) error {
	c.buffer = append(c.buffer, bar)
	if len(c.buffer) >= c.batchSize {
		return c.Flush(ctx)
	}
	return nil
}

// Flush posts the buffered rows as one gzip JSONEachRow insert.
func (c *BatchClient) Flush(ctx context.Context) error {
	if len(c.buffer) == 0 {
		return nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	for _, bar := range c.buffer {
		row, err := json.Marshal(bar)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		if _, err := gz.Write(row); err != nil {
			return fmt.Errorf("gzip error: %w", err)
		}
		if _, err := gz.Write([]byte("\n")); err != nil {
			return fmt.Errorf("gzip error: %w", err)
		}
	}
	gz.Close()

	query := fmt.Sprintf("INSERT INTO %s.bars (symbol, interval, timestamp_ms, open, high, low, close, volume, vwap) FORMAT JSONEachRow", c.database)
	settings := "input_format_null_as_default=1&date_time_input_format=best_effort"
	target := fmt.Sprintf("%s/?query=%s&%s", c.baseURL, url.QueryEscape(query), settings)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &buf)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Content-Encoding", "gzip")
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("X-ClickHouse-Settings", "max_insert_block_size=1000000,input_format_allow_errors_num=0,insert_deduplicate=1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("clickhouse error %d: %s", resp.StatusCode, string(body))
	}

	c.buffer = c.buffer[:0]
	return nil
}

// Close flushes any remainder.
func (c *BatchClient) Close(ctx context.Context) error {
	return c.Flush(ctx)
}
