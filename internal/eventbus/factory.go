package eventbus

import (
	"github.com/agor/agor/internal/common/config"
	"github.com/agor/agor/internal/common/logger"
)

// New selects the NATS backend when NATSConfig.URL is set, otherwise the
// in-memory backend. A single-user local daemon (spec.md §1 Non-goals: "no
// multi-host distribution") never requires NATS; it exists for operators
// who want events carried over an external NATS server. Neither backend
// persists events.
func New(cfg config.NATSConfig, log *logger.Logger) (EventBus, error) {
	if cfg.URL == "" {
		return NewMemoryEventBus(), nil
	}
	return NewNATSEventBus(cfg, log)
}
