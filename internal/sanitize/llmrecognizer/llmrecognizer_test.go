package llmrecognizer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/pii-sentinel/internal/sanitize"
)

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen3:4b", req.Model)
		resp := map[string]any{
			"choices": []any{
				map[string]any{
					"message":       map[string]any{"content": content},
					"finish_reason": "stop",
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestRecognize(t *testing.T) {
	srv := chatServer(t, "<think>hmm</think>\n```json\n"+
		`[{"text": "John Smith", "type": "person"}, {"text": "acme-42", "type": ""}]`+"\n```")
	defer srv.Close()

	text := "John Smith met John Smith, ref acme-42"
	spans, err := New(srv.URL, "qwen3:4b").Recognize(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, spans, 3)
	assert.Equal(t, "PERSON", spans[0].Label)
	assert.Equal(t, "John Smith", text[spans[1].Start:spans[1].End])
	assert.Equal(t, DefaultLabel, spans[2].Label)

	assert.Equal(t, "<PERSON> met <PERSON>, ref <PII>", sanitize.Apply(text, spans))
}

func TestRecognizeUnparseable(t *testing.T) {
	srv := chatServer(t, "I could not find anything")
	defer srv.Close()

	spans, err := New(srv.URL, "qwen3:4b").Recognize(context.Background(), "John Smith")
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestRecognizeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	spans, err := New(url, "qwen3:4b").Recognize(context.Background(), "John Smith")
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestStripHelpers(t *testing.T) {
	assert.Equal(t, "[]", stripThinkBlock("<think>x</think>[]"))
	assert.Equal(t, "", stripThinkBlock("<think>never closed"))
	assert.Equal(t, `["a"]`, stripCodeFence("```json\n[\"a\"]\n```"))
	assert.Equal(t, `["a"]`, extractJSONArray(`Sure: ["a"] done`))
}
