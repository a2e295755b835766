package domain

import (
	"time"
)

// Verdict is the binary classification output for an event.
type Verdict string

const (
	// VerdictNormal means the event scored at or below the decision threshold.
	VerdictNormal Verdict = "normal"

	// VerdictSuspicious means the event scored above the decision threshold.
	VerdictSuspicious Verdict = "suspicious"
)

// PredictionResult is the terminal output of the decision engine:
// the anomaly score in [0,1], the verdict, and the confidence
// (defined as the raw score). Created per request, never stored by
// the decision engine itself.
type PredictionResult struct {
	Score      float64 `json:"anomaly_score"`
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence"`
}

// Evaluation is the persisted record of a scored event.
type Evaluation struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenantId"`
	EventID  string    `json:"eventId"`
	Type     EventType `json:"type"`

	Score      float64 `json:"score"`
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence"`

	// Threshold is the effective decision threshold used for this event
	// after risk adjustments and any configured overrides.
	Threshold float64 `json:"threshold"`

	// Fallback is true when an internal failure was absorbed and the
	// safe default result was returned instead of a model score.
	Fallback bool `json:"fallback"`

	Timestamp time.Time `json:"timestamp"`

	Metadata EvaluationMetadata `json:"metadata"`
}

// EvaluationMetadata contains processing information.
type EvaluationMetadata struct {
	TraceID       string `json:"traceId"`
	EnrichMs      int64  `json:"enrichMs"`
	ScoreMs       int64  `json:"scoreMs"`
	TotalMs       int64  `json:"totalMs"`
	VectorLen     int    `json:"vectorLen"`
	OverrideRule  string `json:"overrideRule,omitempty"`
	EngineVersion string `json:"engineVersion"`
}

// EvaluationResponse is the API response for an evaluate call. Field
// names match the wire contract the secure-transfer backend consumes.
type EvaluationResponse struct {
	EvaluationID string  `json:"evaluationId"`
	EventID      string  `json:"eventId,omitempty"`
	AnomalyScore float64 `json:"anomaly_score"`
	Verdict      Verdict `json:"verdict"`
	Confidence   float64 `json:"confidence"`
	Metadata     struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}
