// Package classifier wraps opaque trained model artifacts behind the
// scoring capability the decision engine consumes. The artifact's
// internal interface never leaks past this package.
package classifier

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/opensource-security/kestrel/internal/domain"
)

// Artifact is an opaque trained classifier. At minimum it supports a
// binary prediction over a fixed-length feature vector.
type Artifact interface {
	// NumFeatures returns the vector length the artifact was trained on.
	NumFeatures() int

	// Predict returns the predicted class label: 0 benign, 1 malicious.
	Predict(vector []float64) (int, error)
}

// ProbabilityArtifact is implemented by artifacts that expose class
// probability mass in addition to hard predictions.
type ProbabilityArtifact interface {
	Artifact

	// PredictProba returns one probability per class, summing to 1.
	PredictProba(vector []float64) ([]float64, error)
}

// Adapter exposes an Artifact as a domain.Classifier. If the artifact
// supports probability output, the score is the mass assigned to the
// malicious class; otherwise the binary prediction is returned as a
// degenerate 0/1 score.
type Adapter struct {
	artifact Artifact
}

// NewAdapter wraps an artifact.
func NewAdapter(artifact Artifact) *Adapter {
	return &Adapter{artifact: artifact}
}

// ScoreVector implements domain.Classifier.
func (a *Adapter) ScoreVector(vector []float64) (float64, error) {
	if n := a.artifact.NumFeatures(); n > 0 && len(vector) != n {
		return 0, fmt.Errorf("vector length %d does not match artifact features %d", len(vector), n)
	}

	if p, ok := a.artifact.(ProbabilityArtifact); ok {
		probs, err := p.PredictProba(vector)
		if err != nil {
			return 0, err
		}
		if len(probs) > 1 {
			return probs[1], nil
		}
		if len(probs) == 1 {
			return probs[0], nil
		}
		return 0, fmt.Errorf("artifact returned empty probability output")
	}

	label, err := a.artifact.Predict(vector)
	if err != nil {
		return 0, err
	}
	return float64(label), nil
}

// New creates the classifier for an event type based on configuration.
// For "file" source: loads the JSON model dump for that event type.
// For "remote": returns a client for the external scoring service.
func New(cfg domain.ClassifierConfig, eventType domain.EventType) (domain.Classifier, error) {
	switch cfg.Source {
	case "file":
		name := cfg.HandshakeFile
		if eventType == domain.EventFile {
			name = cfg.FileFile
		}
		forest, err := LoadForest(filepath.Join(cfg.ModelDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load %s model: %w", eventType, err)
		}
		return NewAdapter(forest), nil

	case "remote":
		if cfg.ScorerURL == "" {
			return nil, fmt.Errorf("remote classifier requires a scorer URL")
		}
		timeout := time.Duration(cfg.TimeoutSecs) * time.Second
		return NewRemote(cfg.ScorerURL, eventType, timeout), nil

	default:
		return nil, fmt.Errorf("unsupported classifier source: %s", cfg.Source)
	}
}
