package api

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/pii-sentinel/internal/audit"
	"github.com/gonkalabs/pii-sentinel/internal/classify"
	"github.com/gonkalabs/pii-sentinel/internal/classify/treemodel"
	"github.com/gonkalabs/pii-sentinel/internal/gate"
	"github.com/gonkalabs/pii-sentinel/internal/pipeline"
	"github.com/gonkalabs/pii-sentinel/internal/redact"
	"github.com/gonkalabs/pii-sentinel/internal/testutil"
)

const modelPath = "../classify/treemodel/testdata/pii_model.json"

const people = "name,email,notes\n" +
	"Jane Doe,jane@x.com,loves hiking\n" +
	"John Smith,john@x.com,has diabetes\n"

func newScanner(t *testing.T, rec pipeline.Recorder) *pipeline.Scanner {
	t.Helper()
	m, err := treemodel.Load(modelPath)
	require.NoError(t, err)
	log := testutil.NewTestLogger(t)
	s, err := pipeline.New(pipeline.Options{
		Classifier: classify.New(m),
		Engine:     redact.New(redact.Options{Logger: log}),
		OutputDir:  t.TempDir(),
		Recorder:   rec,
		Logger:     log,
	})
	require.NoError(t, err)
	return s
}

// tokens authorizes "Bearer <id>" for the listed ids.
type tokens map[string]gate.Subject

func (tk tokens) Authorize(_ context.Context, bearer string) (gate.Subject, error) {
	if bearer == "down" {
		return gate.Subject{}, gate.ErrUnavailable
	}
	s, ok := tk[bearer]
	if !ok {
		return gate.Subject{}, gate.ErrUnauthorized
	}
	return s, nil
}

func upload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func predict(t *testing.T, h http.Handler, token, filename, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := upload(t, filename, content, fields)
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", ct)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestHealth(t *testing.T) {
	h := New(Options{Scanner: newScanner(t, nil)}).Routes()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPredict(t *testing.T) {
	h := New(Options{Scanner: newScanner(t, nil)}).Routes()
	rec := predict(t, h, "", "people.csv", people, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "people.csv", res.Filename)
	assert.Equal(t, []string{"name", "email", "notes"}, res.PIIColumns)
	assert.Equal(t, 0.5, res.RiskScore)
	assert.Equal(t, 3, res.RedactedCount)
	assert.Equal(t, 6, res.TotalValues)

	data, err := os.ReadFile(res.RedactedFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<EMAIL_ADDRESS>")
	assert.Equal(t, ".csv", filepath.Ext(res.RedactedFile))
}

func TestPredictPurpose(t *testing.T) {
	h := New(Options{Scanner: newScanner(t, nil)}).Routes()
	rec := predict(t, h, "", "people.csv", people, map[string]string{"purpose": "marketing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.RedactedCount)
}

func TestPredictErrors(t *testing.T) {
	h := New(Options{Scanner: newScanner(t, nil)}).Routes()

	tests := []struct {
		name     string
		filename string
		content  string
		status   int
	}{
		{"unsupported", "setup.exe", "MZ\x90\x00", http.StatusUnsupportedMediaType},
		{"malformed", "bad.json", `[{"a":`, http.StatusBadRequest},
		{"empty", "empty.csv", "", http.StatusBadRequest},
		{"missing file", "", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := predict(t, h, "", tt.filename, tt.content, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, errorOf(t, rec))
		})
	}
}

type stubScorer struct{}

func (stubScorer) FeatureNames() []string { return []string{"length", "entropy"} }
func (stubScorer) Predict(context.Context, [][]float64) ([]int, error) {
	return nil, nil
}

func TestPredictSchemaMismatch(t *testing.T) {
	s, err := pipeline.New(pipeline.Options{
		Classifier: classify.New(stubScorer{}),
		OutputDir:  t.TempDir(),
		Logger:     testutil.NewTestLogger(t),
	})
	require.NoError(t, err)

	rec := predict(t, New(Options{Scanner: s}).Routes(), "", "people.csv", people, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, errorOf(t, rec), "entropy")
}

// countingScanner records whether Scan was reached.
type countingScanner struct{ calls int }

func (c *countingScanner) Scan(context.Context, pipeline.Upload) (*pipeline.Result, error) {
	c.calls++
	return &pipeline.Result{PIIColumns: []string{}}, nil
}

func TestPredictGate(t *testing.T) {
	scanner := &countingScanner{}
	h := New(Options{
		Scanner: scanner,
		Authorizer: tokens{
			"free-token": {ID: "u1", Tier: gate.TierFree},
			"pro-token":  {ID: "u2", Tier: gate.TierPro},
		},
		Quota: gate.NewDailyLimiter(nil),
	}).Routes()

	assert.Equal(t, http.StatusUnauthorized, predict(t, h, "", "a.csv", people, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, predict(t, h, "stolen", "a.csv", people, nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, predict(t, h, "down", "a.csv", people, nil).Code)
	assert.Zero(t, scanner.calls)

	assert.Equal(t, http.StatusOK, predict(t, h, "free-token", "a.csv", people, nil).Code)
	// The quota is charged before the upload is looked at.
	rec := predict(t, h, "free-token", "setup.exe", "MZ", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, errorOf(t, rec), "limit")

	for range 3 {
		assert.Equal(t, http.StatusOK, predict(t, h, "pro-token", "a.csv", people, nil).Code)
	}
	assert.Equal(t, 4, scanner.calls)
}

func TestPredictTooLarge(t *testing.T) {
	scanner := &countingScanner{}
	h := New(Options{Scanner: scanner, MaxUploadBytes: 64}).Routes()

	rec := predict(t, h, "", "big.csv", "name\n"+strings.Repeat("x", 1024), nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)
	assert.Zero(t, scanner.calls)
}

func TestHistory(t *testing.T) {
	store, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := New(Options{
		Scanner: newScanner(t, store),
		Authorizer: tokens{
			"a": {ID: "alice", Tier: gate.TierPro},
			"b": {ID: "bob", Tier: gate.TierPro},
		},
		History: store,
	}).Routes()

	require.Equal(t, http.StatusOK, predict(t, h, "a", "people.csv", people, nil).Code)
	require.Equal(t, http.StatusOK, predict(t, h, "b", "people.csv", people, nil).Code)

	get := func(token, query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/history"+query, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := get("a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Scans []audit.Entry `json:"scans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Scans, 1)
	assert.Equal(t, "alice", body.Scans[0].SubjectID)
	assert.Equal(t, "people.csv", body.Scans[0].Filename)
	assert.Equal(t, audit.Digest([]byte(people)), body.Scans[0].Digest)

	assert.Equal(t, http.StatusUnauthorized, get("", "").Code)
	assert.Equal(t, http.StatusBadRequest, get("a", "?limit=zero").Code)
}

func TestHistoryOwnScansBehindOthers(t *testing.T) {
	store, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	_, err = store.Record(ctx, audit.Entry{CreatedAt: base, SubjectID: "alice", Filename: "mine.csv", Format: "csv", Digest: "d"})
	require.NoError(t, err)
	for i := range 25 {
		_, err := store.Record(ctx, audit.Entry{
			CreatedAt: base.Add(time.Duration(i+1) * time.Second),
			SubjectID: "bob",
			Filename:  "bob.csv",
			Format:    "csv",
			Digest:    "d",
		})
		require.NoError(t, err)
	}

	h := New(Options{
		Scanner:    &countingScanner{},
		Authorizer: tokens{"a": {ID: "alice", Tier: gate.TierPro}},
		History:    store,
	}).Routes()
	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	req.Header.Set("Authorization", "Bearer a")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Scans []audit.Entry `json:"scans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Scans, 1)
	assert.Equal(t, "mine.csv", body.Scans[0].Filename)
}

func TestHistoryDisabled(t *testing.T) {
	h := New(Options{Scanner: &countingScanner{}}).Routes()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
