package bus

import (
	"fmt"

	"github.com/opensource-security/kestrel/internal/domain"
)

// New creates the event bus for the configured tier. Community runs
// in-process on channels; Pro runs on NATS so workers and alert
// consumers can live outside the API server.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
