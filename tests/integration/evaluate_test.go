//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel anomaly
// scoring engine.
//
// These tests verify the COMPLETE evaluation pipeline:
//
//	Raw feature mapping → Enrichment → Vector → Classifier → Threshold → Verdict
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. EVENT: A cryptographic handshake or a file upload, described by a
//    flat mapping of feature names to values.
//
// 2. ENRICHMENT: Missing features get defaults, derived features are
//    computed (entropy ratios, risk composites), and the result is
//    flattened into a fixed-order vector.
//
// 3. CLASSIFIER: A trained model scores the vector with a probability
//    of maliciousness in [0,1].
//
// 4. THRESHOLD: The cutoff adapts to context. A failed signature or a
//    low-reputation source tightens the handshake cutoff; high entropy,
//    risky file types, and metadata anomalies tighten the file cutoff.
//    Threshold overrides (CEL rules) can pin it outright.
//
// 5. VERDICT: "suspicious" when the score strictly exceeds the cutoff,
//    "normal" otherwise. Internal failures degrade to a conservative
//    fallback result instead of surfacing an error.
//
// NOTE: Verdicts depend on the model artifacts the server loaded, so
// these tests assert the contract (shape, ranges, monotonic threshold
// behavior) rather than exact scores.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:6000"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "test-tenant",
	}
}

// ============================================================================
// API Response Types (matching Kestrel's API contract)
// ============================================================================

// EvaluateResponse is what POST /evaluate/{type} returns
type EvaluateResponse struct {
	EvaluationID string           `json:"evaluationId"`
	EventID      string           `json:"eventId"`
	AnomalyScore float64          `json:"anomaly_score"`
	Verdict      string           `json:"verdict"` // "suspicious" or "normal"
	Confidence   float64          `json:"confidence"`
	Metadata     ResponseMetadata `json:"metadata"`
}

type ResponseMetadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func evaluate(t *testing.T, config TestConfig, eventType string, features map[string]any) EvaluateResponse {
	t.Helper()

	body, err := json.Marshal(features)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+"/evaluate/"+eventType, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var result EvaluateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}

	return result
}

func assertContract(t *testing.T, result EvaluateResponse) {
	t.Helper()

	if result.Verdict != "suspicious" && result.Verdict != "normal" {
		t.Errorf("Invalid verdict: %s (expected suspicious or normal)", result.Verdict)
	}
	if result.AnomalyScore < 0 || result.AnomalyScore > 1 {
		t.Errorf("Score out of range: %.4f (expected 0-1)", result.AnomalyScore)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		t.Errorf("Confidence out of range: %.4f (expected 0-1)", result.Confidence)
	}
}

// ============================================================================
// SCENARIO 1: Clean Handshake
// ============================================================================

func TestCleanHandshake(t *testing.T) {
	/*
	   SCENARIO: A well-formed handshake from a reputable source

	   EXPECTED BEHAVIOR:
	   - Signature valid, good reputation → base cutoff 0.35 applies
	   - A trained model should score this low → "normal"
	*/
	config := getTestConfig()

	result := evaluate(t, config, "handshake", map[string]any{
		"handshake_duration": 0.4,
		"key_exchange_size":  256,
		"signature_valid":    true,
		"client_hello_bytes": 512,
		"server_hello_bytes": 1400,
		"entropy_client":     5.2,
		"entropy_server":     5.4,
		"retry_count":        0,
		"hour_of_day":        14,
		"ip_reputation":      0.95,
		"geolocation_risk":   0.1,
		"protocol_version":   1.3,
	})

	assertContract(t, result)

	if result.Verdict != "normal" {
		t.Errorf("Expected normal verdict for clean handshake, got %s (score %.4f)",
			result.Verdict, result.AnomalyScore)
	}

	t.Logf("Clean handshake: verdict=%s, score=%.4f", result.Verdict, result.AnomalyScore)
}

// ============================================================================
// SCENARIO 2: Invalid Signature Tightens the Cutoff
// ============================================================================

func TestInvalidSignatureTightensCutoff(t *testing.T) {
	/*
	   SCENARIO: Two identical handshakes, one with a failed signature check

	   EXPECTED BEHAVIOR:
	   - The feature vector changes (signature_valid column), so the score
	     may differ, but the CUTOFF always drops from 0.35 to 0.25.
	   - A mid-band score (0.25 < s <= 0.35) flips verdict on signature
	     failure alone. We can't force a mid-band score from outside, so
	     we assert the weaker invariant: the invalid-signature verdict is
	     never MORE permissive than the valid one at the same score.
	*/
	config := getTestConfig()

	base := map[string]any{
		"handshake_duration": 0.4,
		"ip_reputation":      0.9,
	}

	valid := map[string]any{}
	invalid := map[string]any{}
	for k, v := range base {
		valid[k] = v
		invalid[k] = v
	}
	valid["signature_valid"] = true
	invalid["signature_valid"] = false

	validResult := evaluate(t, config, "handshake", valid)
	invalidResult := evaluate(t, config, "handshake", invalid)

	assertContract(t, validResult)
	assertContract(t, invalidResult)

	if validResult.Verdict == "suspicious" && invalidResult.Verdict == "normal" &&
		invalidResult.AnomalyScore >= validResult.AnomalyScore {
		t.Errorf("Invalid signature must never be judged more leniently: valid=%s(%.4f) invalid=%s(%.4f)",
			validResult.Verdict, validResult.AnomalyScore,
			invalidResult.Verdict, invalidResult.AnomalyScore)
	}

	t.Logf("Signature check: valid=%s(%.4f), invalid=%s(%.4f)",
		validResult.Verdict, validResult.AnomalyScore,
		invalidResult.Verdict, invalidResult.AnomalyScore)
}

// ============================================================================
// SCENARIO 3: High-Entropy File Upload
// ============================================================================

func TestHighEntropyFile(t *testing.T) {
	/*
	   SCENARIO: A file with near-maximal byte entropy (7.9 of 8.0),
	   typical of encrypted or packed payloads

	   EXPECTED BEHAVIOR:
	   - entropy > 7.8 tightens the file cutoff to 0.25
	   - Combined with a risky type, a trained model tends to flag this
	*/
	config := getTestConfig()

	result := evaluate(t, config, "file", map[string]any{
		"file_size":         5242880,
		"file_entropy":      7.9,
		"file_type_risk":    0.9,
		"upload_speed":      2.0,
		"compression_ratio": 1.0,
		"metadata_anomaly":  6.0,
	})

	assertContract(t, result)

	t.Logf("High-entropy file: verdict=%s, score=%.4f", result.Verdict, result.AnomalyScore)
}

// ============================================================================
// SCENARIO 4: Defaults and Unknown Keys
// ============================================================================

func TestEmptyMappingUsesDefaults(t *testing.T) {
	/*
	   SCENARIO: An empty feature mapping

	   EXPECTED BEHAVIOR:
	   - Every feature falls back to its documented default
	   - Evaluation succeeds; no fallback, no error
	*/
	config := getTestConfig()

	result := evaluate(t, config, "handshake", map[string]any{})
	assertContract(t, result)

	t.Logf("Empty mapping: verdict=%s, score=%.4f", result.Verdict, result.AnomalyScore)
}

func TestUnknownKeysIgnored(t *testing.T) {
	/*
	   SCENARIO: The mapping carries keys the schema does not know

	   EXPECTED BEHAVIOR:
	   - Unknown keys are dropped silently
	   - The result matches the same request without them
	*/
	config := getTestConfig()

	with := evaluate(t, config, "file", map[string]any{
		"file_size":       1024,
		"file_entropy":    4.0,
		"unknown_gadget":  "whatever",
		"another_unknown": 42,
	})
	without := evaluate(t, config, "file", map[string]any{
		"file_size":    1024,
		"file_entropy": 4.0,
	})

	if with.AnomalyScore != without.AnomalyScore {
		t.Errorf("Unknown keys changed the score: %.4f vs %.4f",
			with.AnomalyScore, without.AnomalyScore)
	}
	if with.Verdict != without.Verdict {
		t.Errorf("Unknown keys changed the verdict: %s vs %s", with.Verdict, without.Verdict)
	}

	t.Logf("Unknown keys ignored: verdict=%s, score=%.4f", with.Verdict, with.AnomalyScore)
}

// ============================================================================
// SCENARIO 5: Fallback Contract
// ============================================================================

func TestMalformedFeatureFallsBack(t *testing.T) {
	/*
	   SCENARIO: A feature value of the wrong type (string where a number
	   is required)

	   EXPECTED BEHAVIOR:
	   - HTTP 200, never a 5xx
	   - The conservative fallback result: score 0.1, verdict normal,
	     confidence 0.1
	*/
	config := getTestConfig()

	result := evaluate(t, config, "handshake", map[string]any{
		"handshake_duration": "definitely-not-a-number",
	})

	if result.AnomalyScore != 0.1 {
		t.Errorf("Expected fallback score 0.1, got %.4f", result.AnomalyScore)
	}
	if result.Verdict != "normal" {
		t.Errorf("Expected normal verdict on fallback, got %s", result.Verdict)
	}
	if result.Confidence != 0.1 {
		t.Errorf("Expected fallback confidence 0.1, got %.4f", result.Confidence)
	}

	t.Logf("Malformed feature degraded cleanly: score=%.4f", result.AnomalyScore)
}

// ============================================================================
// SCENARIO 6: Determinism
// ============================================================================

func TestIdenticalMappingsScoreIdentically(t *testing.T) {
	/*
	   SCENARIO: The same mapping evaluated twice

	   EXPECTED BEHAVIOR:
	   - Identical score, verdict, and confidence. The pipeline is pure:
	     same input, same vector, same model, same result.
	*/
	config := getTestConfig()

	features := map[string]any{
		"file_size":      2048,
		"file_entropy":   5.5,
		"file_type_risk": 0.3,
	}

	first := evaluate(t, config, "file", features)
	second := evaluate(t, config, "file", features)

	if first.AnomalyScore != second.AnomalyScore {
		t.Errorf("Non-deterministic score: %.6f vs %.6f", first.AnomalyScore, second.AnomalyScore)
	}
	if first.Verdict != second.Verdict {
		t.Errorf("Non-deterministic verdict: %s vs %s", first.Verdict, second.Verdict)
	}

	t.Logf("Deterministic: score=%.4f both times", first.AnomalyScore)
}

// ============================================================================
// SCENARIO 7: Input Validation
// ============================================================================

func TestInvalidJSON_Error(t *testing.T) {
	/*
	   SCENARIO: Body that is not valid JSON

	   EXPECTED: HTTP 400 Bad Request. This is the only outward failure
	   the evaluate endpoints produce.
	*/
	config := getTestConfig()

	httpReq, _ := http.NewRequest("POST", config.BaseURL+"/evaluate/handshake",
		bytes.NewReader([]byte("not-json-at-all")))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid JSON, got %d", resp.StatusCode)
	}

	t.Logf("Validation test passed: invalid JSON → HTTP %d", resp.StatusCode)
}

func TestMissingTenantHeader_Error(t *testing.T) {
	/*
	   SCENARIO: Request without X-Tenant-ID header

	   EXPECTED: HTTP 400 Bad Request. Tenant ID is validated as a
	   required field, not as auth.
	*/
	config := getTestConfig()

	httpReq, _ := http.NewRequest("POST", config.BaseURL+"/evaluate/handshake",
		bytes.NewReader([]byte("{}")))
	httpReq.Header.Set("Content-Type", "application/json")
	// NO X-Tenant-ID header!

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 400 or 401 for missing tenant, got %d", resp.StatusCode)
	}

	t.Logf("Validation test passed: missing tenant → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 8: Persistence Round Trip
// ============================================================================

func TestEvaluationPersisted(t *testing.T) {
	/*
	   SCENARIO: Evaluate, then fetch the evaluation and event back

	   EXPECTED BEHAVIOR:
	   - GET /evaluations/{id} returns the stored evaluation
	   - GET /events/{id} returns the ingested event
	*/
	config := getTestConfig()

	result := evaluate(t, config, "handshake", map[string]any{
		"handshake_duration": 0.3,
	})

	client := &http.Client{Timeout: 10 * time.Second}

	for _, path := range []string{
		"/evaluations/" + result.EvaluationID,
		"/events/" + result.EventID,
	} {
		httpReq, _ := http.NewRequest("GET", config.BaseURL+path, nil)
		httpReq.Header.Set("X-Tenant-ID", config.TenantID)

		resp, err := client.Do(httpReq)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
	}

	t.Logf("Round trip complete: evaluation=%s event=%s", result.EvaluationID, result.EventID)
}

// ============================================================================
// SCENARIO 9: Response Metadata Verification
// ============================================================================

func TestResponseMetadata(t *testing.T) {
	/*
	   SCENARIO: Verify response includes all required metadata

	   This ensures the API contract is stable for clients.
	*/
	config := getTestConfig()

	result := evaluate(t, config, "handshake", map[string]any{
		"handshake_duration": 0.5,
	})

	if result.EvaluationID == "" {
		t.Error("Missing evaluationId")
	}
	if result.EventID == "" {
		t.Error("Missing eventId")
	}
	assertContract(t, result)

	if result.Metadata.TraceID == "" {
		t.Error("Missing metadata.traceId")
	}

	// Note: TotalMs can be 0 for very fast operations (sub-millisecond)
	if result.Metadata.TotalMs < 0 {
		t.Error("Invalid metadata.totalMs (negative)")
	}

	if result.Metadata.Version == "" {
		t.Error("Missing metadata.version")
	}

	t.Logf("Metadata complete: evalId=%s, eventId=%s, traceId=%s, totalMs=%d",
		result.EvaluationID[:8], result.EventID[:8], result.Metadata.TraceID[:8], result.Metadata.TotalMs)
}
