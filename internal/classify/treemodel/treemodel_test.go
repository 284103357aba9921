package treemodel

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/pii-sentinel/internal/classify"
	"github.com/gonkalabs/pii-sentinel/internal/features"
	"github.com/gonkalabs/pii-sentinel/internal/table"
)

func leaf(v float64) *float64 { return &v }

func TestLoadTestdataModel(t *testing.T) {
	m, err := Load("testdata/pii_model.json")
	require.NoError(t, err)
	assert.Equal(t, features.SchemaV1, m.FeatureNames())
}

func TestPredictWithExtractedFeatures(t *testing.T) {
	m, err := Load("testdata/pii_model.json")
	require.NoError(t, err)

	doc, err := table.FromRows(
		[]string{"name", "email", "notes", "count", "phone"},
		[][]table.Value{
			{table.Str("Jane Doe"), table.Str("jane@x.com"), table.Str("loves hiking"), table.Num("1"), table.Str("555-123-4567")},
			{table.Str("John Smith"), table.Str("john@x.com"), table.Str("has diabetes"), table.Num("2"), table.Str("555-000-1111")},
		},
	)
	require.NoError(t, err)

	tbl := features.New(features.DefaultOptions()).Extract(doc)
	labels, err := classify.New(m).Classify(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "email", "notes", "phone"}, classify.PIIColumns(labels))
}

func TestMissingGoesToMissingBranch(t *testing.T) {
	m, err := FromArtifact(Artifact{
		Objective:    "binary:logitraw",
		FeatureNames: []string{"x"},
		Trees: []Node{{
			NodeID: 0, Split: "x", SplitCondition: 1, Yes: 1, No: 2, Missing: 2,
			Children: []Node{{NodeID: 1, Leaf: leaf(-1)}, {NodeID: 2, Leaf: leaf(1)}},
		}},
	})
	require.NoError(t, err)

	got, err := m.Predict(context.Background(), [][]float64{{0}, {5}, {math.NaN()}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 1}, got)
}

func TestBaseScoreShiftsMargin(t *testing.T) {
	m, err := FromArtifact(Artifact{
		BaseScore:    0.9,
		FeatureNames: []string{"x"},
		Trees:        []Node{{NodeID: 0, Leaf: leaf(-1)}},
	})
	require.NoError(t, err)
	assert.InDelta(t, math.Log(9)-1, m.Margin([]float64{0}), 1e-9)
}

func TestInvalidArtifacts(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"not json", `{`},
		{"no features", `{"trees":[]}`},
		{"wrong schema", `{"schema_version":"v0","feature_names":["x"]}`},
		{"unknown split feature", `{"feature_names":["x"],"trees":[{"nodeid":0,"split":"y","yes":1,"no":2,"children":[{"nodeid":1,"leaf":1},{"nodeid":2,"leaf":1}]}]}`},
		{"dangling child", `{"feature_names":["x"],"trees":[{"nodeid":0,"split":"x","yes":1,"no":7,"children":[{"nodeid":1,"leaf":1}]}]}`},
		{"bad objective", `{"objective":"multi:softmax","feature_names":["x"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.json))
			assert.Error(t, err)
		})
	}
}

func TestPredictRejectsShortRows(t *testing.T) {
	m, err := FromArtifact(Artifact{FeatureNames: []string{"a", "b"}})
	require.NoError(t, err)
	_, err = m.Predict(context.Background(), [][]float64{{1}})
	assert.Error(t, err)
}
