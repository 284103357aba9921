package analyzer

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

func TestRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		var req analyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "en", req.Language)
		_ = json.NewEncoder(w).Encode([]analyzeResult{
			{EntityType: "PERSON", Start: 3, End: 11, Score: 0.85},
			{EntityType: "LOCATION", Start: 15, End: 20, Score: 0.2},
		})
	}))
	defer srv.Close()

	// "Ñá " is three code points but five bytes.
	text := "Ñá Jane Doe in Paris"
	spans, err := New(srv.URL+"/", "", 0.5).Recognize(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "PERSON", spans[0].Label)
	assert.Equal(t, "Jane Doe", text[spans[0].Start:spans[0].End])

	assert.Equal(t, "Ñá <PERSON> in Paris", sanitize.Apply(text, spans))
}

func TestRecognizeSidecarDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	spans, err := New(srv.URL, "en", 0).Recognize(context.Background(), "Jane Doe")
	require.NoError(t, err)
	assert.Empty(t, spans)

	srv.Close()
	spans, err = New(srv.URL, "en", 0).Recognize(context.Background(), "Jane Doe")
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestRecognizeBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "en", 0).Recognize(context.Background(), "Jane Doe")
	assert.Error(t, err)
}
