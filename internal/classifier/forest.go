package classifier

import (
	"encoding/json"
	"fmt"
	"os"
)

// Forest is a random-forest artifact loaded from the JSON dump the
// training pipeline exports. The dump is treated as opaque: nodes,
// split values, and class counts are consumed as-is, never inspected
// for meaning. Immutable after load; safe for concurrent scoring.
type Forest struct {
	ModelType string     `json:"model_type"`
	Features  int        `json:"n_features"`
	Classes   []int      `json:"classes"`
	Trees     []treeDump `json:"trees"`
}

// treeDump mirrors the flattened node-array encoding of a decision
// tree: node i splits on Feature[i] at Threshold[i], descending to
// ChildrenLeft[i] when the value is <= the threshold. A node with
// ChildrenLeft[i] < 0 is a leaf holding per-class sample counts.
type treeDump struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

// LoadForest reads and validates a forest artifact from disk.
func LoadForest(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}

	var f Forest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact: %w", err)
	}

	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("invalid model artifact %s: %w", path, err)
	}

	return &f, nil
}

func (f *Forest) validate() error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("artifact contains no trees")
	}
	if f.Features <= 0 {
		return fmt.Errorf("artifact declares no features")
	}
	if len(f.Classes) == 0 {
		return fmt.Errorf("artifact declares no classes")
	}

	for i, t := range f.Trees {
		n := len(t.ChildrenLeft)
		if n == 0 {
			return fmt.Errorf("tree %d is empty", i)
		}
		if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
			return fmt.Errorf("tree %d has inconsistent node arrays", i)
		}
		for j, v := range t.Value {
			if len(v) != len(f.Classes) {
				return fmt.Errorf("tree %d node %d: %d class counts, expected %d", i, j, len(v), len(f.Classes))
			}
		}
	}

	return nil
}

// NumFeatures implements Artifact.
func (f *Forest) NumFeatures() int {
	return f.Features
}

// PredictProba implements ProbabilityArtifact: the per-class leaf
// distributions are averaged across all trees.
func (f *Forest) PredictProba(vector []float64) ([]float64, error) {
	if len(vector) != f.Features {
		return nil, fmt.Errorf("vector length %d, artifact expects %d", len(vector), f.Features)
	}

	probs := make([]float64, len(f.Classes))
	for i := range f.Trees {
		leaf, err := f.Trees[i].walk(vector)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}

		var total float64
		for _, c := range leaf {
			total += c
		}
		if total <= 0 {
			continue
		}
		for c, count := range leaf {
			probs[c] += count / total
		}
	}

	for c := range probs {
		probs[c] /= float64(len(f.Trees))
	}
	return probs, nil
}

// Predict implements Artifact via argmax over PredictProba.
func (f *Forest) Predict(vector []float64) (int, error) {
	probs, err := f.PredictProba(vector)
	if err != nil {
		return 0, err
	}

	best := 0
	for c := 1; c < len(probs); c++ {
		if probs[c] > probs[best] {
			best = c
		}
	}
	return f.Classes[best], nil
}

// walk descends from the root to a leaf and returns its class counts.
func (t *treeDump) walk(vector []float64) ([]float64, error) {
	node := 0
	for steps := 0; steps <= len(t.ChildrenLeft); steps++ {
		if node < 0 || node >= len(t.ChildrenLeft) {
			return nil, fmt.Errorf("node index %d out of range", node)
		}
		if t.ChildrenLeft[node] < 0 {
			return t.Value[node], nil
		}

		feat := t.Feature[node]
		if feat < 0 || feat >= len(vector) {
			return nil, fmt.Errorf("node %d references feature %d", node, feat)
		}

		if vector[feat] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	return nil, fmt.Errorf("cycle detected in tree traversal")
}
