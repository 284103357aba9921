// Package treemodel provides a classify.Scorer backed by a gradient-boosted
// tree ensemble exported as JSON (the per-tree node dump format of XGBoost,
// wrapped with the feature names and base score).
//
// The model is loaded once and never modified, so a single Model may be
// shared across requests.
package treemodel

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/goccy/go-json"

	"github.com/gonkalabs/pii-sentinel/internal/features"
)

// Artifact is the on-disk model format.
type Artifact struct {
	SchemaVersion string   `json:"schema_version"`
	Objective     string   `json:"objective"`
	BaseScore     float64  `json:"base_score"`
	FeatureNames  []string `json:"feature_names"`
	Trees         []Node   `json:"trees"`
}

// Node is one node of a dumped tree. Leaves carry Leaf; split nodes carry
// Split, SplitCondition and the ids of their children.
type Node struct {
	NodeID         int      `json:"nodeid"`
	Split          string   `json:"split,omitempty"`
	SplitCondition float64  `json:"split_condition,omitempty"`
	Yes            int      `json:"yes,omitempty"`
	No             int      `json:"no,omitempty"`
	Missing        int      `json:"missing,omitempty"`
	Leaf           *float64 `json:"leaf,omitempty"`
	Children       []Node   `json:"children,omitempty"`
}

type flatNode struct {
	feature   int
	threshold float64
	yes       int
	no        int
	missing   int
	leaf      float64
	isLeaf    bool
}

type tree map[int]flatNode

// Model is a loaded ensemble.
type Model struct {
	names      []string
	trees      []tree
	roots      []int
	baseMargin float64
}

// Load reads an artifact from path.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("treemodel: open: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read decodes and validates an artifact.
func Read(r io.Reader) (*Model, error) {
	var a Artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("treemodel: decode: %w", err)
	}
	return FromArtifact(a)
}

// FromArtifact compiles a decoded artifact.
func FromArtifact(a Artifact) (*Model, error) {
	if a.SchemaVersion != "" && a.SchemaVersion != features.SchemaVersion {
		return nil, fmt.Errorf("treemodel: schema version %q, want %q", a.SchemaVersion, features.SchemaVersion)
	}
	if len(a.FeatureNames) == 0 {
		return nil, fmt.Errorf("treemodel: artifact lists no feature names")
	}
	index := make(map[string]int, len(a.FeatureNames))
	for i, n := range a.FeatureNames {
		if _, dup := index[n]; dup {
			return nil, fmt.Errorf("treemodel: duplicate feature %q", n)
		}
		index[n] = i
	}

	m := &Model{names: append([]string(nil), a.FeatureNames...)}
	switch a.Objective {
	case "", "binary:logistic":
		base := a.BaseScore
		if base == 0 {
			base = 0.5
		}
		if base <= 0 || base >= 1 {
			return nil, fmt.Errorf("treemodel: base_score %v outside (0,1)", a.BaseScore)
		}
		m.baseMargin = math.Log(base / (1 - base))
	case "binary:logitraw":
		m.baseMargin = a.BaseScore
	default:
		return nil, fmt.Errorf("treemodel: unsupported objective %q", a.Objective)
	}

	for i, root := range a.Trees {
		t := tree{}
		if err := flatten(t, root, index); err != nil {
			return nil, fmt.Errorf("treemodel: tree %d: %w", i, err)
		}
		if err := t.check(root.NodeID); err != nil {
			return nil, fmt.Errorf("treemodel: tree %d: %w", i, err)
		}
		m.trees = append(m.trees, t)
		m.roots = append(m.roots, root.NodeID)
	}
	return m, nil
}

func flatten(t tree, n Node, index map[string]int) error {
	if _, dup := t[n.NodeID]; dup {
		return fmt.Errorf("duplicate node id %d", n.NodeID)
	}
	if n.Leaf != nil {
		t[n.NodeID] = flatNode{leaf: *n.Leaf, isLeaf: true}
		return nil
	}
	fi, ok := index[n.Split]
	if !ok {
		return fmt.Errorf("node %d splits on unknown feature %q", n.NodeID, n.Split)
	}
	missing := n.Missing
	if missing == 0 {
		missing = n.Yes
	}
	t[n.NodeID] = flatNode{feature: fi, threshold: n.SplitCondition, yes: n.Yes, no: n.No, missing: missing}
	for _, c := range n.Children {
		if err := flatten(t, c, index); err != nil {
			return err
		}
	}
	return nil
}

// check verifies every split points at existing nodes.
func (t tree) check(root int) error {
	if _, ok := t[root]; !ok {
		return fmt.Errorf("empty tree")
	}
	for id, n := range t {
		if n.isLeaf {
			continue
		}
		for _, c := range []int{n.yes, n.no, n.missing} {
			if _, ok := t[c]; !ok {
				return fmt.Errorf("node %d references missing child %d", id, c)
			}
		}
	}
	return nil
}

func (t tree) eval(root int, x []float64) float64 {
	id := root
	for steps := 0; steps <= len(t); steps++ {
		n := t[id]
		if n.isLeaf {
			return n.leaf
		}
		v := x[n.feature]
		switch {
		case math.IsNaN(v):
			id = n.missing
		case v < n.threshold:
			id = n.yes
		default:
			id = n.no
		}
	}
	return 0
}

// FeatureNames implements classify.Scorer.
func (m *Model) FeatureNames() []string { return append([]string(nil), m.names...) }

// Margin returns the raw ensemble output for one row.
func (m *Model) Margin(x []float64) float64 {
	sum := m.baseMargin
	for i, t := range m.trees {
		sum += t.eval(m.roots[i], x)
	}
	return sum
}

// Predict implements classify.Scorer. A row scores 1 when its probability
// exceeds 0.5.
func (m *Model) Predict(ctx context.Context, rows [][]float64) ([]int, error) {
	out := make([]int, len(rows))
	for i, x := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(x) != len(m.names) {
			return nil, fmt.Errorf("treemodel: row %d has %d features, want %d", i, len(x), len(m.names))
		}
		if sigmoid(m.Margin(x)) > 0.5 {
			out[i] = 1
		}
	}
	return out, nil
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
