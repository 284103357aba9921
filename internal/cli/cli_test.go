package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/pii-sentinel/internal/audit"
	"github.com/gonkalabs/pii-sentinel/internal/config"
	"github.com/gonkalabs/pii-sentinel/internal/gate"
	"github.com/gonkalabs/pii-sentinel/internal/parse"
	"github.com/gonkalabs/pii-sentinel/internal/pipeline"
)

const people = "name,email,notes\n" +
	"Jane Doe,jane@x.com,loves hiking\n" +
	"John Smith,john@x.com,has diabetes\n"

// workspace moves into a fresh directory holding people.csv and returns the
// absolute path of the test model.
func workspace(t *testing.T) string {
	t.Helper()
	model, err := filepath.Abs("../classify/treemodel/testdata/pii_model.json")
	require.NoError(t, err)
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile("people.csv", []byte(people), 0o644))
	return model
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	t.Log(errOut.String())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "piisentinel v"+Version)
}

func TestScanTable(t *testing.T) {
	model := workspace(t)
	out, err := run(t, "scan", "people.csv", "--model", model, "--out", "redacted")
	require.NoError(t, err)

	assert.Contains(t, out, "name, email, notes")
	assert.Contains(t, out, "3 / 6")
	assert.Contains(t, out, "0.50")

	files, err := filepath.Glob(filepath.Join("redacted", "redacted_*.csv"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "[REDACTED_HEALTH]")
}

func TestScanJSONAndHistory(t *testing.T) {
	model := workspace(t)
	out, err := run(t, "scan", "people.csv", "--model", model, "--purpose", "marketing", "--format", "json")
	require.NoError(t, err)

	var res pipeline.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "people.csv", res.Filename)
	assert.Equal(t, 1, res.RedactedCount)

	out, err = run(t, "history", "--model", model, "--format", "json")
	require.NoError(t, err)
	var entries []audit.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, LocalSubject.ID, entries[0].SubjectID)
	assert.Equal(t, "marketing", entries[0].Purpose)
	assert.Equal(t, res.RedactedFile, entries[0].RedactedFile)

	out, err = run(t, "history", "--model", model)
	require.NoError(t, err)
	assert.Contains(t, out, "people.csv")
	assert.Contains(t, out, "(1 scans)")
}

func TestHistoryDisabled(t *testing.T) {
	model := workspace(t)
	_, err := run(t, "history", "--model", model, "--audit-db", "")
	// An explicitly empty flag still counts as set.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit.path")
}

func TestScanErrors(t *testing.T) {
	model := workspace(t)
	require.NoError(t, os.WriteFile("setup.exe", []byte("MZ"), 0o644))

	_, err := run(t, "scan", "setup.exe", "--model", model)
	var unsupported *parse.UnsupportedFormatError
	assert.ErrorAs(t, err, &unsupported)

	_, err = run(t, "scan", "missing.csv", "--model", model)
	assert.Error(t, err)

	_, err = run(t, "scan", "people.csv", "--model", model, "--format", "yaml")
	assert.ErrorContains(t, err, "unknown format")

	_, err = run(t, "scan", "people.csv", "--model", "nope.json")
	assert.Error(t, err)

	_, err = run(t, "scan")
	assert.Error(t, err)
}

func TestScanConfigFile(t *testing.T) {
	model := workspace(t)
	yml := "model:\n  path: " + model + "\noutput_dir: from-file\naudit:\n  path: \"\"\n"
	require.NoError(t, os.WriteFile("custom.yaml", []byte(yml), 0o644))

	_, err := run(t, "--config", "custom.yaml", "scan", "people.csv")
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join("from-file", "redacted_*"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
	_, err = os.Stat("piisentinel.db")
	assert.True(t, os.IsNotExist(err))
}

func TestBuild(t *testing.T) {
	model := workspace(t)
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.Model.Path = model
	cfg.Audit.Path = filepath.Join("state", "audit.db")

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	require.NotNil(t, app.Audit)
	assert.Equal(t, gate.Static{Subject: LocalSubject}, app.Authorizer)
	for range 3 {
		require.NoError(t, app.Quota.Allow(context.Background(), LocalSubject))
	}

	cfg.Auth.URL = "http://accounts.internal"
	cfg.Audit.Path = ""
	app2, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, app2.Audit)
	_, remote := app2.Authorizer.(*gate.RemoteAuthorizer)
	assert.True(t, remote)
}

func TestRenderHistoryEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderHistory(&buf, formatTable, nil))
	assert.Equal(t, "(no scans)", strings.TrimSpace(buf.String()))

	buf.Reset()
	require.NoError(t, renderHistory(&buf, formatJSON, nil))
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}
