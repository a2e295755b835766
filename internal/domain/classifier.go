package domain

// Classifier is the abstract scoring capability exposed by a trained
// model artifact. The vector must follow the fixed feature schema for
// the event type the artifact was trained on.
//
// Implementations are loaded once during startup, are immutable for the
// process lifetime, and may be invoked concurrently without coordination.
// The invocation is synchronous and non-cancelable; implementations that
// perform I/O apply their own timeout.
type Classifier interface {
	// ScoreVector returns the probability mass in [0,1] assigned to the
	// malicious class for the given feature vector.
	ScoreVector(vector []float64) (float64, error)
}

// ClassifierConfig holds configuration for classifier initialization.
type ClassifierConfig struct {
	// Source is the artifact source: "file" or "remote"
	Source string

	// File artifact settings: JSON model dumps exported by the
	// training pipeline, one per event type.
	ModelDir      string
	HandshakeFile string
	FileFile      string

	// Remote scorer settings (external scoring service)
	ScorerURL   string
	TimeoutSecs int
}
