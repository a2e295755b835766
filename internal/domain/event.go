// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"
)

// EventType identifies the kind of security event being scored.
// Each event type has its own feature schema and classifier artifact.
type EventType string

const (
	// EventHandshake is a cryptographic key-exchange event.
	EventHandshake EventType = "handshake"

	// EventFile is a file upload / transfer event.
	EventFile EventType = "file"
)

// Valid reports whether the event type is one Kestrel can score.
func (t EventType) Valid() bool {
	return t == EventHandshake || t == EventFile
}

// Event represents an incoming security event submitted for scoring.
type Event struct {
	// Core identifiers
	ID       string    `json:"id"`
	TenantID string    `json:"tenantId"`
	Type     EventType `json:"type"`

	// Features is the raw feature mapping exactly as submitted by the
	// caller. Values are numbers or booleans; arbitrary keys are permitted
	// and unrecognized keys are ignored downstream. Immutable once received.
	Features map[string]any `json:"features"`

	// ClientIP is the source address of the transfer backend's peer,
	// if supplied. Used by the reputation provider, never by the core.
	ClientIP string `json:"clientIp,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// Reserved keys in the submitted mapping that are metadata rather than
// classifier features. They are stripped before enrichment.
const (
	MetaKeyClientIP = "client_ip"
)
