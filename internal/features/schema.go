// Package features implements feature parsing, enrichment, and
// vectorization for the two event types Kestrel scores.
package features

import (
	"fmt"

	"github.com/opensource-security/kestrel/internal/domain"
)

// HandshakeSchema is the fixed ordered set of columns the handshake
// classifier was trained on: 10 raw features followed by 5 derived.
// Length and order are the integration contract with the artifact and
// must never change without retraining.
var HandshakeSchema = []string{
	"handshake_duration",
	"key_size",
	"signature_valid",
	"client_entropy",
	"server_entropy",
	"retry_count",
	"timestamp_hour",
	"ip_reputation",
	"geolocation_risk",
	"protocol_version",
	"entropy_diff",
	"entropy_ratio",
	"duration_per_byte",
	"risk_composite",
	"retry_ratio",
}

// FileSchema is the fixed ordered column set for the file classifier:
// 10 raw features followed by 8 derived.
var FileSchema = []string{
	"file_size",
	"file_entropy",
	"file_type_risk",
	"encryption_strength",
	"upload_duration",
	"compression_ratio",
	"metadata_anomaly",
	"transfer_speed",
	"packet_loss",
	"concurrent_uploads",
	"size_log",
	"entropy_per_byte",
	"speed_per_mb",
	"risk_score",
	"suspicious_ratio",
	"high_entropy",
	"low_entropy",
	"suspicious_size",
}

// SchemaFor returns the ordered feature schema for an event type.
func SchemaFor(t domain.EventType) ([]string, error) {
	switch t {
	case domain.EventHandshake:
		return HandshakeSchema, nil
	case domain.EventFile:
		return FileSchema, nil
	default:
		return nil, fmt.Errorf("unknown event type: %s", t)
	}
}
