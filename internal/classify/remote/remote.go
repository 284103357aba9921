// Package remote provides a classify.Scorer that delegates scoring to one or
// more model-serving sidecars over HTTP. Requests are signed, spread over the
// configured endpoints round-robin, and retried on a different endpoint when
// one fails.
//
// Sidecar contract:
//
//	GET  /schema   -> {"schema_version": "v1", "feature_names": [...]}
//	POST /predict  {"feature_names": [...], "rows": [[...], ...]} -> {"labels": [0, 1, ...]}
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/gonkalabs/pii-sentinel/internal/signer"
)

const maxAttempts = 3

// Client talks to the scoring sidecars.
type Client struct {
	endpoints []string
	counter   atomic.Uint64
	signer    *signer.Signer // nil disables signing

	mu            sync.RWMutex
	names         []string
	schemaVersion string

	http *http.Client
}

// New creates a Client. At least one endpoint is required.
func New(urls []string, s *signer.Signer) (*Client, error) {
	var eps []string
	for _, u := range urls {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u != "" {
			eps = append(eps, u)
		}
	}
	if len(eps) == 0 {
		return nil, fmt.Errorf("remote: at least one endpoint is required")
	}
	slog.Info("remote: scorer pool initialised", "endpoints", len(eps), "signed", s != nil)
	return &Client{
		endpoints: eps,
		signer:    s,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Discover fetches the feature names the sidecar was trained on. It must
// succeed before the Client is used as a Scorer.
func (c *Client) Discover(ctx context.Context) error {
	body, err := c.do(ctx, http.MethodGet, "/schema", nil)
	if err != nil {
		return fmt.Errorf("remote: discover: %w", err)
	}
	var schema struct {
		SchemaVersion string   `json:"schema_version"`
		FeatureNames  []string `json:"feature_names"`
	}
	if err := json.Unmarshal(body, &schema); err != nil {
		return fmt.Errorf("remote: discover: decode: %w", err)
	}
	if len(schema.FeatureNames) == 0 {
		return fmt.Errorf("remote: discover: sidecar reported no feature names")
	}
	c.mu.Lock()
	c.names = schema.FeatureNames
	c.schemaVersion = schema.SchemaVersion
	c.mu.Unlock()
	slog.Info("remote: schema discovered", "version", schema.SchemaVersion, "features", len(schema.FeatureNames))
	return nil
}

// FeatureNames implements classify.Scorer.
func (c *Client) FeatureNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.names...)
}

type predictRequest struct {
	FeatureNames []string    `json:"feature_names"`
	Rows         [][]float64 `json:"rows"`
}

type predictResponse struct {
	Labels []int `json:"labels"`
}

// Predict implements classify.Scorer.
func (c *Client) Predict(ctx context.Context, rows [][]float64) ([]int, error) {
	payload, err := json.Marshal(predictRequest{FeatureNames: c.FeatureNames(), Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("remote: marshal: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, "/predict", payload)
	if err != nil {
		return nil, fmt.Errorf("remote: predict: %w", err)
	}
	var resp predictResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("remote: predict: decode: %w", err)
	}
	return resp.Labels, nil
}

// next returns the next endpoint not in tried, round-robin.
func (c *Client) next(tried map[string]bool) (string, bool) {
	for range c.endpoints {
		idx := c.counter.Add(1) - 1
		ep := c.endpoints[idx%uint64(len(c.endpoints))]
		if !tried[ep] {
			return ep, true
		}
	}
	return "", false
}

// do sends a request and retries up to maxAttempts times on distinct
// endpoints. Transport errors and 5xx responses are retried; 4xx are not.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var lastErr error
	tried := map[string]bool{}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ep, ok := c.next(tried)
		if !ok {
			break
		}
		tried[ep] = true

		body, status, err := c.doWith(ctx, ep, method, path, payload)
		switch {
		case err != nil:
			lastErr = err
		case status >= 500:
			lastErr = fmt.Errorf("%s: status %d: %s", ep, status, truncate(body))
		case status >= 400:
			return nil, fmt.Errorf("%s: status %d: %s", ep, status, truncate(body))
		default:
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("remote: request failed, retrying with different endpoint", "attempt", attempt+1, "err", lastErr)
	}
	return nil, lastErr
}

func (c *Client) doWith(ctx context.Context, ep, method, path string, payload []byte) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, ep+path, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.signer != nil {
		sig, ts, err := c.signer.Sign(payload, ep)
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("Authorization", sig)
		req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
		req.Header.Set("X-Signer-Address", c.signer.Address())
	}

	slog.Debug("remote: request", "method", method, "url", ep+path)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return b, resp.StatusCode, err
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
