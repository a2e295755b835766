// Package threshold implements the adaptive decision threshold policy.
//
// The base cutoff is lowered when independent corroborating risk
// signals are present: the classifier alone is not fully trusted in
// those regimes, so sensitivity is increased at the cost of more false
// positives. Adjustment rules are non-cumulative: they are evaluated
// in a fixed order and each applicable rule overrides the prior value.
package threshold

import (
	"github.com/opensource-security/kestrel/internal/features"
)

const (
	// Base is the default decision threshold for both event types.
	Base = 0.35

	// Elevated is the lowered threshold applied when a known
	// high-risk indicator is present.
	Elevated = 0.25
)

// ForHandshake returns the decision threshold for a handshake event.
func ForHandshake(e *features.EnrichedHandshake) float64 {
	t := Base
	if !e.SignatureValid {
		t = Elevated
	} else if e.IPReputation < 0.3 {
		t = Elevated
	}
	return t
}

// ForFile returns the decision threshold for a file-transfer event.
// Rules are sequential overwrites, not a combined adjustment:
// compounding signals do not lower the threshold further.
func ForFile(e *features.EnrichedFile) float64 {
	t := Base
	if e.FileEntropy > 7.8 {
		t = Elevated
	}
	if e.FileTypeRisk > 0.7 {
		t = Elevated
	}
	if e.MetadataAnomaly > 5.0 {
		t = Elevated
	}
	return t
}
