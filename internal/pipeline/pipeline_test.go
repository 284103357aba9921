package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/pii-sentinel/internal/audit"
	"github.com/gonkalabs/pii-sentinel/internal/classify"
	"github.com/gonkalabs/pii-sentinel/internal/classify/treemodel"
	"github.com/gonkalabs/pii-sentinel/internal/parse"
	"github.com/gonkalabs/pii-sentinel/internal/redact"
	"github.com/gonkalabs/pii-sentinel/internal/testutil"
)

const modelPath = "../classify/treemodel/testdata/pii_model.json"

func newScanner(t *testing.T, rec Recorder) (*Scanner, string) {
	t.Helper()
	m, err := treemodel.Load(modelPath)
	require.NoError(t, err)
	dir := t.TempDir()
	log := testutil.NewTestLogger(t)
	s, err := New(Options{
		Classifier: classify.New(m),
		Engine:     redact.New(redact.Options{Logger: log}),
		OutputDir:  dir,
		Recorder:   rec,
		Logger:     log,
	})
	require.NoError(t, err)
	return s, dir
}

const people = "name,email,notes\n" +
	"Jane Doe,jane@x.com,loves hiking\n" +
	"John Smith,john@x.com,has diabetes\n"

func TestScanCSV(t *testing.T) {
	s, dir := newScanner(t, nil)

	res, err := s.Scan(context.Background(), Upload{Filename: "people.csv", Data: []byte(people)})
	require.NoError(t, err)

	assert.Equal(t, "people.csv", res.Filename)
	assert.Equal(t, []string{"name", "email", "notes"}, res.PIIColumns)
	assert.Equal(t, 3, res.RedactedCount)
	assert.Equal(t, 6, res.TotalValues)
	assert.Equal(t, 0.5, res.RiskScore)

	assert.Equal(t, dir, filepath.Dir(res.RedactedFile))
	assert.True(t, strings.HasPrefix(filepath.Base(res.RedactedFile), "redacted_"))
	assert.Equal(t, ".csv", filepath.Ext(res.RedactedFile))

	data, err := os.ReadFile(res.RedactedFile)
	require.NoError(t, err)
	assert.Equal(t, "name,email,notes\n"+
		"Jane Doe,<EMAIL_ADDRESS>,loves hiking\n"+
		"John Smith,<EMAIL_ADDRESS>,[REDACTED_HEALTH]\n", string(data))

	// Only the output file is left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestScanJSONLines(t *testing.T) {
	s, _ := newScanner(t, nil)
	in := `[{"name":"Jane Doe","contact":{"email":"jane@x.com"},"visits":3},` +
		`{"name":"John Smith","contact":{"email":"john@x.com"},"visits":4}]`

	res, err := s.Scan(context.Background(), Upload{Filename: "people.json", Data: []byte(in)})
	require.NoError(t, err)
	assert.Contains(t, res.PIIColumns, "contact.email")
	assert.NotContains(t, res.PIIColumns, "visits")
	assert.Equal(t, ".json", filepath.Ext(res.RedactedFile))

	data, err := os.ReadFile(res.RedactedFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"contact.email":"<EMAIL_ADDRESS>"`)
	assert.Contains(t, string(data), `"visits":3`)
}

func TestScanNoPII(t *testing.T) {
	s, _ := newScanner(t, nil)
	res, err := s.Scan(context.Background(), Upload{Filename: "counts.csv", Data: []byte("count\n1\n2\n3\n")})
	require.NoError(t, err)
	assert.Empty(t, res.PIIColumns)
	assert.NotNil(t, res.PIIColumns)
	assert.Zero(t, res.RiskScore)
	assert.Zero(t, res.RedactedCount)
	assert.Zero(t, res.TotalValues)
}

func TestScanUnsupported(t *testing.T) {
	s, dir := newScanner(t, nil)
	_, err := s.Scan(context.Background(), Upload{Filename: "setup.exe", Data: []byte("MZ\x90\x00")})
	var unsupported *parse.UnsupportedFormatError
	require.ErrorAs(t, err, &unsupported)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScanMalformedWritesNothing(t *testing.T) {
	s, dir := newScanner(t, nil)
	_, err := s.Scan(context.Background(), Upload{Filename: "bad.json", Data: []byte(`[{"a":`)})
	var malformed *parse.MalformedInputError
	require.ErrorAs(t, err, &malformed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type stubScorer struct{ names []string }

func (s stubScorer) FeatureNames() []string { return s.names }
func (s stubScorer) Predict(context.Context, [][]float64) ([]int, error) {
	return nil, errors.New("unused")
}

func TestScanSchemaMismatch(t *testing.T) {
	s, err := New(Options{
		Classifier: classify.New(stubScorer{names: []string{"length", "entropy"}}),
		OutputDir:  t.TempDir(),
		Logger:     testutil.NewTestLogger(t),
	})
	require.NoError(t, err)

	_, err = s.Scan(context.Background(), Upload{Filename: "people.csv", Data: []byte(people)})
	var mismatch *classify.FeatureSchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Contains(t, mismatch.Missing, "entropy")
}

type memRecorder struct{ entries []audit.Entry }

func (m *memRecorder) Record(_ context.Context, e audit.Entry) (audit.Entry, error) {
	m.entries = append(m.entries, e)
	return e, nil
}

func TestScanRecordsAudit(t *testing.T) {
	rec := &memRecorder{}
	s, _ := newScanner(t, rec)

	res, err := s.Scan(context.Background(), Upload{
		Filename:  "people.csv",
		Data:      []byte(people),
		Purpose:   "marketing",
		SubjectID: "u1",
	})
	require.NoError(t, err)
	// Marketing keeps e-mail addresses in clear.
	assert.Equal(t, 1, res.RedactedCount)

	require.Len(t, rec.entries, 1)
	e := rec.entries[0]
	assert.Equal(t, "u1", e.SubjectID)
	assert.Equal(t, "csv", e.Format)
	assert.Equal(t, "marketing", e.Purpose)
	assert.Equal(t, audit.Digest([]byte(people)), e.Digest)
	assert.Equal(t, res.RedactedFile, e.RedactedFile)
}

func TestRisk(t *testing.T) {
	assert.Equal(t, Report{}, Risk(nil))
	assert.Equal(t, Report{RedactedCount: 0, TotalValues: 4}, Risk([]redact.Outcome{{Total: 4}}))
	r := Risk([]redact.Outcome{{Redacted: 1, Total: 3}, {Redacted: 1, Total: 3}})
	assert.Equal(t, 0.33, r.RiskScore)
	assert.Equal(t, 2, r.RedactedCount)
	assert.Equal(t, 6, r.TotalValues)

	// Exact ties round to even.
	assert.Equal(t, 0.12, Risk([]redact.Outcome{{Redacted: 1, Total: 8}}).RiskScore)
	assert.Equal(t, 0.38, Risk([]redact.Outcome{{Redacted: 3, Total: 8}}).RiskScore)
}

func TestNewRequiresClassifier(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
