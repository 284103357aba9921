// Package llmrecognizer provides a Recognizer that uses a local
// OpenAI-compatible LLM (e.g. Ollama with qwen3:4b) to detect entities the
// pattern and analyzer layers miss, such as names written in free text.
//
// The model returns matched substrings, not offsets; every occurrence of each
// substring in the value becomes a span.
package llmrecognizer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/gonkalabs/pii-sentinel/internal/sanitize"
)

// DefaultLabel is used when the model returns a value without a type.
const DefaultLabel = "PII"

const systemPrompt = `Extract personal data from the text. Return a JSON array of objects {"text": "<exact substring>", "type": "<ENTITY_TYPE>"}. Return [] if nothing is found.

Entity types:
- PERSON: full person names (e.g. John Smith)
- EMAIL_ADDRESS, PHONE_NUMBER, US_SSN, CREDIT_CARD, IBAN_CODE
- LOCATION: street addresses
- DATE_TIME: birth dates

Do NOT flag: placeholders like <PERSON> or [REDACTED_HEALTH], city names alone, common words, regular numbers.

Return ONLY the JSON array. No explanation.

Examples:
Input: "call me at +1 555 010 9999, John Smith"
Output: [{"text": "+1 555 010 9999", "type": "PHONE_NUMBER"}, {"text": "John Smith", "type": "PERSON"}]

Input: "how are you?"
Output: []`

// Recognizer calls a local LLM to detect entities.
type Recognizer struct {
	url   string
	model string
	http  *http.Client
}

// New creates a Recognizer.
// baseURL is the Ollama (or any OpenAI-compatible) server, e.g. "http://ollama:11434".
func New(baseURL, model string) *Recognizer {
	return &Recognizer{
		url:   strings.TrimRight(baseURL, "/") + "/v1/chat/completions",
		model: model,
		http: &http.Client{
			Timeout: 125 * time.Second,
		},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	// Qwen3 and some others honour this; stripThinkBlock handles the rest.
	Think bool `json:"think"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			Reasoning        string `json:"reasoning"`         // Qwen3 via Ollama
			ReasoningContent string `json:"reasoning_content"` // Qwen3 direct API
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type finding struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// Recognize sends text to the LLM and returns entity spans.
// It is safe for concurrent use.
func (r *Recognizer) Recognize(ctx context.Context, text string) ([]sanitize.Span, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	slog.Debug("llmrecognizer: classifying", "url", r.url, "model", r.model, "text_len", len(text))

	body, err := json.Marshal(chatRequest{
		Model: r.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			// /no_think is Qwen3's control token to skip thinking.
			{Role: "user", Content: "Text to classify:\n" + text + "\n/no_think"},
		},
		MaxTokens: 4096,
	})
	if err != nil {
		return nil, fmt.Errorf("llmrecognizer: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llmrecognizer: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		slog.Warn("llmrecognizer: LLM unreachable, skipping", "err", err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Warn("llmrecognizer: unexpected status", "code", resp.StatusCode, "body", string(errBody))
		return nil, nil
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		slog.Warn("llmrecognizer: decode response", "err", err)
		return nil, nil
	}
	if len(chat.Choices) == 0 {
		return nil, nil
	}

	choice := chat.Choices[0]
	if choice.FinishReason == "length" {
		slog.Warn("llmrecognizer: response truncated by token limit")
	}

	// If content is empty the model ran out of tokens before answering; dig
	// the array out of the reasoning field instead.
	raw := strings.TrimSpace(choice.Message.Content)
	if raw == "" {
		raw = strings.TrimSpace(choice.Message.Reasoning)
		if raw == "" {
			raw = strings.TrimSpace(choice.Message.ReasoningContent)
		}
	}
	content := extractJSONArray(stripCodeFence(stripThinkBlock(raw)))

	var findings []finding
	if err := json.Unmarshal([]byte(content), &findings); err != nil {
		slog.Warn("llmrecognizer: could not parse LLM output", "content", content, "err", err)
		return nil, nil
	}

	spans := locate(text, findings)
	if len(spans) > 0 {
		slog.Debug("llmrecognizer: detected spans", "count", len(spans), "findings", len(findings))
	}
	return spans, nil
}

// locate finds every occurrence of each finding in text. Boundary and marker
// checks happen later in sanitize.Apply.
func locate(text string, findings []finding) []sanitize.Span {
	var spans []sanitize.Span
	for _, f := range findings {
		val := strings.TrimSpace(f.Text)
		if val == "" {
			continue
		}
		label := strings.ToUpper(strings.TrimSpace(f.Type))
		if label == "" {
			label = DefaultLabel
		}
		for start := 0; ; {
			idx := strings.Index(text[start:], val)
			if idx < 0 {
				break
			}
			abs := start + idx
			spans = append(spans, sanitize.Span{Start: abs, End: abs + len(val), Label: label, Score: 1.0})
			start = abs + len(val)
		}
	}
	return spans
}

// extractJSONArray finds the outermost [...] substring in s.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	if start < 0 {
		return s
	}
	end := strings.LastIndex(s, "]")
	if end < start {
		return s
	}
	return s[start : end+1]
}

// stripThinkBlock removes a <think>...</think> block that precedes the answer
// when thinking mode is active.
func stripThinkBlock(s string) string {
	const open, close = "<think>", "</think>"
	start := strings.Index(s, open)
	if start < 0 {
		return s
	}
	end := strings.Index(s, close)
	if end < 0 {
		return strings.TrimSpace(s[:start])
	}
	return strings.TrimSpace(s[:start] + s[end+len(close):])
}

// stripCodeFence removes ```json ... ``` or ``` ... ``` wrappers.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
