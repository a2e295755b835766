// Package decision implements the evaluation pipeline: parse the raw
// feature mapping, enrich it, build the classifier vector, score it,
// and decide a verdict against the adaptive threshold.
//
// The pipeline never fails outwardly. Any internal error collapses to
// the safe fallback result and is reported through the logger, so a
// scoring outage degrades detection quality without blocking the
// transfer path that calls us.
package decision

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-security/kestrel/internal/domain"
	"github.com/opensource-security/kestrel/internal/features"
	"github.com/opensource-security/kestrel/internal/rules"
	"github.com/opensource-security/kestrel/internal/threshold"
)

// EngineVersion is stamped into evaluation metadata.
const EngineVersion = "kestrel-1.0"

// Fallback result returned when any pipeline stage fails. Low but
// non-zero, distinguishable from a genuine clean score in downstream
// analytics.
const (
	FallbackScore      = 0.1
	FallbackConfidence = 0.1
)

// Engine runs the evaluation pipeline for both event types.
type Engine struct {
	handshake domain.Classifier
	file      domain.Classifier
	overrides *rules.Engine
	logger    *slog.Logger
}

// NewEngine creates a decision engine. The override engine is optional;
// when nil only the built-in threshold policy applies.
func NewEngine(handshake, file domain.Classifier, overrides *rules.Engine, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		handshake: handshake,
		file:      file,
		overrides: overrides,
		logger:    logger,
	}
}

// Evaluate scores an event and returns its evaluation record. It never
// returns an error: failures inside the pipeline yield the fallback
// evaluation with Fallback set.
func (e *Engine) Evaluate(ctx context.Context, event *domain.Event) *domain.Evaluation {
	start := time.Now()

	eval := &domain.Evaluation{
		ID:        uuid.New().String(),
		TenantID:  event.TenantID,
		EventID:   event.ID,
		Type:      event.Type,
		Timestamp: time.Now().UTC(),
	}
	eval.Metadata.TraceID = traceID(ctx)
	eval.Metadata.EngineVersion = EngineVersion

	switch event.Type {
	case domain.EventHandshake:
		e.evaluateHandshake(event, eval, start)
	case domain.EventFile:
		e.evaluateFile(event, eval, start)
	default:
		e.fallback(eval, "unknown event type", nil, start)
	}

	eval.Metadata.TotalMs = time.Since(start).Milliseconds()
	return eval
}

func (e *Engine) evaluateHandshake(event *domain.Event, eval *domain.Evaluation, start time.Time) {
	parsed, err := features.ParseHandshake(event.Features)
	if err != nil {
		e.fallback(eval, "handshake feature parsing failed", err, start)
		return
	}

	enrichStart := time.Now()
	enriched := parsed.Enrich()
	vector := enriched.Vector()
	eval.Metadata.EnrichMs = time.Since(enrichStart).Milliseconds()
	eval.Metadata.VectorLen = len(vector)

	scoreStart := time.Now()
	score, err := e.handshake.ScoreVector(vector)
	eval.Metadata.ScoreMs = time.Since(scoreStart).Milliseconds()
	if err != nil {
		e.fallback(eval, "handshake scoring failed", err, start)
		return
	}

	cutoff := threshold.ForHandshake(enriched)
	cutoff = e.applyOverrides(eval, domain.EventHandshake, enriched.Fields(), cutoff)

	e.decide(eval, score, cutoff)
}

func (e *Engine) evaluateFile(event *domain.Event, eval *domain.Evaluation, start time.Time) {
	parsed, err := features.ParseFile(event.Features)
	if err != nil {
		e.fallback(eval, "file feature parsing failed", err, start)
		return
	}

	enrichStart := time.Now()
	enriched := parsed.Enrich()
	vector := enriched.Vector()
	eval.Metadata.EnrichMs = time.Since(enrichStart).Milliseconds()
	eval.Metadata.VectorLen = len(vector)

	scoreStart := time.Now()
	score, err := e.file.ScoreVector(vector)
	eval.Metadata.ScoreMs = time.Since(scoreStart).Milliseconds()
	if err != nil {
		e.fallback(eval, "file scoring failed", err, start)
		return
	}

	cutoff := threshold.ForFile(enriched)
	cutoff = e.applyOverrides(eval, domain.EventFile, enriched.Fields(), cutoff)

	e.decide(eval, score, cutoff)
}

// applyOverrides evaluates operator overrides after the built-in
// policy. A matching rule pins the threshold; no match keeps the
// policy's value.
func (e *Engine) applyOverrides(eval *domain.Evaluation, t domain.EventType, fields map[string]float64, cutoff float64) float64 {
	if e.overrides == nil {
		return cutoff
	}

	result, matched := e.overrides.Apply(t, fields)
	if !matched {
		return cutoff
	}

	eval.Metadata.OverrideRule = result.RuleID
	return result.Threshold
}

// decide finalizes a successfully scored evaluation. The verdict is
// suspicious strictly above the cutoff; a score equal to the cutoff
// stays normal.
func (e *Engine) decide(eval *domain.Evaluation, score, cutoff float64) {
	eval.Score = score
	eval.Confidence = score
	eval.Threshold = cutoff
	eval.Verdict = domain.VerdictNormal
	if score > cutoff {
		eval.Verdict = domain.VerdictSuspicious
	}
}

// fallback fills the evaluation with the safe default result and logs
// the absorbed failure. Callers of the engine see a normal verdict,
// never the error.
func (e *Engine) fallback(eval *domain.Evaluation, reason string, err error, start time.Time) {
	e.logger.Error("evaluation fell back to safe default",
		"reason", reason,
		"error", err,
		"event_id", eval.EventID,
		"tenant_id", eval.TenantID,
		"type", eval.Type,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	eval.Score = FallbackScore
	eval.Confidence = FallbackConfidence
	eval.Verdict = domain.VerdictNormal
	eval.Threshold = 0
	eval.Fallback = true
}

// Result converts an evaluation to the terminal prediction shape.
func Result(eval *domain.Evaluation) domain.PredictionResult {
	return domain.PredictionResult{
		Score:      eval.Score,
		Verdict:    eval.Verdict,
		Confidence: eval.Confidence,
	}
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
