package features

import (
	"math"
)

// epsilon guards the entropy ratio against division by zero. The
// enrichment must stay total: every numeric input has a defined output.
const epsilon = 1e-10

// HandshakeFeatures is the typed form of a raw handshake feature
// mapping with per-field defaults applied.
type HandshakeFeatures struct {
	HandshakeDuration float64
	KeySize           float64
	SignatureValid    bool
	ClientEntropy     float64
	ServerEntropy     float64
	RetryCount        float64
	TimestampHour     float64
	IPReputation      float64
	GeolocationRisk   float64
	ProtocolVersion   float64
}

// EnrichedHandshake is a HandshakeFeatures record plus the derived
// signals computed deterministically from it.
type EnrichedHandshake struct {
	HandshakeFeatures

	EntropyDiff     float64
	EntropyRatio    float64
	DurationPerByte float64
	RiskComposite   float64
	RetryRatio      float64
}

// ParseHandshake converts an arbitrary raw mapping into a typed
// handshake record. Missing keys take their documented defaults;
// unrecognized keys are ignored; malformed values are errors that the
// decision engine resolves via the fallback policy.
func ParseHandshake(raw map[string]any) (*HandshakeFeatures, error) {
	f := &HandshakeFeatures{}
	var err error

	if f.HandshakeDuration, err = numberField(raw, "handshake_duration", 0); err != nil {
		return nil, err
	}
	if f.KeySize, err = numberField(raw, "key_size", 256); err != nil {
		return nil, err
	}
	if f.SignatureValid, err = boolField(raw, "signature_valid", true); err != nil {
		return nil, err
	}
	if f.ClientEntropy, err = numberField(raw, "client_entropy", 0); err != nil {
		return nil, err
	}
	if f.ServerEntropy, err = numberField(raw, "server_entropy", 0); err != nil {
		return nil, err
	}
	if f.RetryCount, err = numberField(raw, "retry_count", 0); err != nil {
		return nil, err
	}
	if f.TimestampHour, err = numberField(raw, "timestamp_hour", 12); err != nil {
		return nil, err
	}
	if f.IPReputation, err = numberField(raw, "ip_reputation", 0.5); err != nil {
		return nil, err
	}
	if f.GeolocationRisk, err = numberField(raw, "geolocation_risk", 0.2); err != nil {
		return nil, err
	}
	if f.ProtocolVersion, err = numberField(raw, "protocol_version", 1.0); err != nil {
		return nil, err
	}

	return f, nil
}

// Enrich computes the derived handshake signals. Pure and total: it
// never fails for any numeric input.
func (f *HandshakeFeatures) Enrich() *EnrichedHandshake {
	e := &EnrichedHandshake{HandshakeFeatures: *f}

	e.EntropyDiff = math.Abs(f.ClientEntropy - f.ServerEntropy)
	e.EntropyRatio = f.ClientEntropy / (f.ServerEntropy + epsilon)
	e.DurationPerByte = f.HandshakeDuration / (f.KeySize + 1)
	e.RiskComposite = (f.IPReputation + f.GeolocationRisk) / 2
	e.RetryRatio = f.RetryCount / (f.HandshakeDuration + 1)

	return e
}

// Fields returns the enriched record as a name-to-value map, keyed by
// schema column names. Used for vector building and override-rule
// activation.
func (e *EnrichedHandshake) Fields() map[string]float64 {
	return map[string]float64{
		"handshake_duration": e.HandshakeDuration,
		"key_size":           e.KeySize,
		"signature_valid":    boolToFloat(e.SignatureValid),
		"client_entropy":     e.ClientEntropy,
		"server_entropy":     e.ServerEntropy,
		"retry_count":        e.RetryCount,
		"timestamp_hour":     e.TimestampHour,
		"ip_reputation":      e.IPReputation,
		"geolocation_risk":   e.GeolocationRisk,
		"protocol_version":   e.ProtocolVersion,
		"entropy_diff":       e.EntropyDiff,
		"entropy_ratio":      e.EntropyRatio,
		"duration_per_byte":  e.DurationPerByte,
		"risk_composite":     e.RiskComposite,
		"retry_ratio":        e.RetryRatio,
	}
}

// Vector builds the fixed-order feature vector for the handshake
// classifier.
func (e *EnrichedHandshake) Vector() []float64 {
	return BuildVector(e.Fields(), HandshakeSchema)
}
