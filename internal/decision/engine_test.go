package decision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/opensource-security/kestrel/internal/domain"
	"github.com/opensource-security/kestrel/internal/rules"
)

// fixedScore always returns the same probability.
type fixedScore struct {
	score float64
}

func (f *fixedScore) ScoreVector(vector []float64) (float64, error) { return f.score, nil }

// failingScore simulates a broken classifier.
type failingScore struct{}

func (f *failingScore) ScoreVector(vector []float64) (float64, error) {
	return 0, fmt.Errorf("model unavailable")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(handshake, file domain.Classifier) *Engine {
	return NewEngine(handshake, file, nil, quietLogger())
}

func handshakeEvent(feats map[string]any) *domain.Event {
	return &domain.Event{
		ID:        "evt-1",
		TenantID:  "tenant-1",
		Type:      domain.EventHandshake,
		Features:  feats,
		Timestamp: time.Now().UTC(),
	}
}

func fileEvent(feats map[string]any) *domain.Event {
	return &domain.Event{
		ID:        "evt-2",
		TenantID:  "tenant-1",
		Type:      domain.EventFile,
		Features:  feats,
		Timestamp: time.Now().UTC(),
	}
}

func TestEvaluateCleanHandshake(t *testing.T) {
	engine := testEngine(&fixedScore{score: 0.05}, &fixedScore{score: 0.05})

	eval := engine.Evaluate(context.Background(), handshakeEvent(map[string]any{
		"handshake_duration": 0.5,
		"signature_valid":    true,
		"ip_reputation":      0.9,
	}))

	if eval.Verdict != domain.VerdictNormal {
		t.Errorf("expected normal verdict, got %s", eval.Verdict)
	}
	if eval.Score != 0.05 {
		t.Errorf("expected score 0.05, got %v", eval.Score)
	}
	if eval.Threshold != 0.35 {
		t.Errorf("expected base threshold, got %v", eval.Threshold)
	}
	if eval.Fallback {
		t.Error("clean evaluation must not be marked fallback")
	}
	if eval.Metadata.VectorLen != 15 {
		t.Errorf("expected 15-element vector, got %d", eval.Metadata.VectorLen)
	}
}

func TestEvaluateInvalidSignatureLowersThreshold(t *testing.T) {
	// 0.30 sits between the elevated cutoff (0.25) and the base (0.35):
	// the same score flips verdict when the signature is invalid.
	engine := testEngine(&fixedScore{score: 0.30}, &fixedScore{score: 0.30})

	eval := engine.Evaluate(context.Background(), handshakeEvent(map[string]any{
		"signature_valid": true,
	}))
	if eval.Verdict != domain.VerdictNormal {
		t.Errorf("valid signature: expected normal, got %s", eval.Verdict)
	}

	eval = engine.Evaluate(context.Background(), handshakeEvent(map[string]any{
		"signature_valid": false,
	}))
	if eval.Verdict != domain.VerdictSuspicious {
		t.Errorf("invalid signature: expected suspicious, got %s", eval.Verdict)
	}
	if eval.Threshold != 0.25 {
		t.Errorf("expected elevated threshold, got %v", eval.Threshold)
	}
}

func TestEvaluateHighEntropyFile(t *testing.T) {
	engine := testEngine(&fixedScore{score: 0.30}, &fixedScore{score: 0.30})

	eval := engine.Evaluate(context.Background(), fileEvent(map[string]any{
		"file_size":    1024,
		"file_entropy": 7.9,
	}))

	if eval.Verdict != domain.VerdictSuspicious {
		t.Errorf("expected suspicious verdict, got %s", eval.Verdict)
	}
	if eval.Threshold != 0.25 {
		t.Errorf("expected elevated threshold, got %v", eval.Threshold)
	}
	if eval.Metadata.VectorLen != 18 {
		t.Errorf("expected 18-element vector, got %d", eval.Metadata.VectorLen)
	}
}

func TestEvaluateScoreEqualToThresholdIsNormal(t *testing.T) {
	engine := testEngine(&fixedScore{score: 0.35}, &fixedScore{score: 0.35})

	eval := engine.Evaluate(context.Background(), handshakeEvent(nil))
	if eval.Verdict != domain.VerdictNormal {
		t.Errorf("score at threshold must stay normal, got %s", eval.Verdict)
	}
}

func TestEvaluateEmptyMapping(t *testing.T) {
	engine := testEngine(&fixedScore{score: 0.1}, &fixedScore{score: 0.1})

	for _, event := range []*domain.Event{
		handshakeEvent(map[string]any{}),
		fileEvent(map[string]any{}),
	} {
		eval := engine.Evaluate(context.Background(), event)
		if eval.Fallback {
			t.Errorf("%s: defaults-only evaluation must not fall back", event.Type)
		}
		if eval.Verdict != domain.VerdictNormal {
			t.Errorf("%s: expected normal verdict, got %s", event.Type, eval.Verdict)
		}
	}
}

func TestEvaluateFallbackOnMalformedFeature(t *testing.T) {
	engine := testEngine(&fixedScore{score: 0.9}, &fixedScore{score: 0.9})

	eval := engine.Evaluate(context.Background(), handshakeEvent(map[string]any{
		"handshake_duration": "not a number",
	}))

	if !eval.Fallback {
		t.Fatal("expected fallback evaluation")
	}
	if eval.Score != FallbackScore {
		t.Errorf("expected fallback score %v, got %v", FallbackScore, eval.Score)
	}
	if eval.Verdict != domain.VerdictNormal {
		t.Errorf("fallback verdict must be normal, got %s", eval.Verdict)
	}
	if eval.Confidence != FallbackConfidence {
		t.Errorf("expected fallback confidence %v, got %v", FallbackConfidence, eval.Confidence)
	}
}

func TestEvaluateFallbackOnClassifierFailure(t *testing.T) {
	engine := testEngine(&failingScore{}, &failingScore{})

	eval := engine.Evaluate(context.Background(), fileEvent(map[string]any{
		"file_entropy": 7.9,
	}))

	if !eval.Fallback {
		t.Fatal("expected fallback evaluation")
	}
	if eval.Verdict != domain.VerdictNormal {
		t.Errorf("fallback verdict must be normal, got %s", eval.Verdict)
	}
}

func TestEvaluateFallbackOnUnknownType(t *testing.T) {
	engine := testEngine(&fixedScore{score: 0.9}, &fixedScore{score: 0.9})

	eval := engine.Evaluate(context.Background(), &domain.Event{
		ID:       "evt-3",
		TenantID: "tenant-1",
		Type:     "packet",
	})

	if !eval.Fallback {
		t.Fatal("expected fallback for unknown event type")
	}
}

func TestEvaluateOverridePinsThreshold(t *testing.T) {
	overrides, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create override engine: %v", err)
	}
	defer overrides.Close()

	err = overrides.LoadRule(&domain.OverrideRule{
		ID:         "ovr-lab",
		Name:       "Lab tuning",
		EventType:  domain.EventHandshake,
		Expression: "retry_count >= 3.0",
		Threshold:  0.1,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	engine := NewEngine(&fixedScore{score: 0.2}, &fixedScore{score: 0.2}, overrides, quietLogger())

	eval := engine.Evaluate(context.Background(), handshakeEvent(map[string]any{
		"retry_count": 5,
	}))

	if eval.Threshold != 0.1 {
		t.Errorf("expected pinned threshold 0.1, got %v", eval.Threshold)
	}
	if eval.Verdict != domain.VerdictSuspicious {
		t.Errorf("expected suspicious verdict under pinned threshold, got %s", eval.Verdict)
	}
	if eval.Metadata.OverrideRule != "ovr-lab" {
		t.Errorf("expected override rule id recorded, got %q", eval.Metadata.OverrideRule)
	}

	// Without a match the built-in policy value stands.
	eval = engine.Evaluate(context.Background(), handshakeEvent(map[string]any{
		"retry_count": 1,
	}))
	if eval.Threshold != 0.35 {
		t.Errorf("expected base threshold when no override matches, got %v", eval.Threshold)
	}
}

func TestResult(t *testing.T) {
	eval := &domain.Evaluation{Score: 0.42, Verdict: domain.VerdictSuspicious, Confidence: 0.42}
	r := Result(eval)
	if r.Score != 0.42 || r.Verdict != domain.VerdictSuspicious || r.Confidence != 0.42 {
		t.Errorf("unexpected result %+v", r)
	}
}
