// Package analyzer provides a Recognizer that calls an entity-analysis
// sidecar (Presidio analyzer API) over HTTP. If the sidecar is unreachable,
// it logs a warning and returns no spans so the rest of the redaction
// pipeline can still run.
package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/gonkalabs/pii-sentinel/internal/sanitize"
)

// Client calls the analyzer's /analyze endpoint.
type Client struct {
	url       string
	language  string
	threshold float32
	http      *http.Client
}

// New creates an analyzer Client pointing at the given base URL
// (e.g. "http://presidio-analyzer:3000"). Spans scoring below threshold are
// dropped.
func New(baseURL, language string, threshold float32) *Client {
	if language == "" {
		language = "en"
	}
	return &Client{
		url:       strings.TrimRight(baseURL, "/") + "/analyze",
		language:  language,
		threshold: threshold,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type analyzeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type analyzeResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float32 `json:"score"`
}

// Recognize sends text to the analyzer and returns sensitive spans.
// It is safe for concurrent use.
func (c *Client) Recognize(ctx context.Context, text string) ([]sanitize.Span, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	body, err := json.Marshal(analyzeRequest{Text: text, Language: c.language})
	if err != nil {
		return nil, fmt.Errorf("analyzer: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("analyzer: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("analyzer: sidecar unreachable, skipping analyzer layer", "err", err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("analyzer: unexpected status", "code", resp.StatusCode)
		return nil, nil
	}

	var results []analyzeResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("analyzer: decode: %w", err)
	}

	// The analyzer reports offsets in code points; spans use byte offsets.
	offsets := runeOffsets(text)
	spans := make([]sanitize.Span, 0, len(results))
	for _, r := range results {
		if r.Score < c.threshold {
			continue
		}
		if r.Start < 0 || r.End >= len(offsets) || r.Start >= r.End {
			continue
		}
		spans = append(spans, sanitize.Span{
			Start: offsets[r.Start],
			End:   offsets[r.End],
			Label: r.EntityType,
			Score: r.Score,
		})
	}
	return spans, nil
}

// runeOffsets maps code-point index to byte offset, with a final entry for
// len(text).
func runeOffsets(text string) []int {
	out := make([]int, 0, len(text)+1)
	for i := range text {
		out = append(out, i)
	}
	return append(out, len(text))
}
