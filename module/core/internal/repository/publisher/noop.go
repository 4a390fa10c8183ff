package publisher

import (
	"context"

	"github.com/nandanugg/nxt-bus/module/core/domain"
)

var _ EventPublisher = Noop{}

// Noop discards events. Used when no event backend is configured.
type Noop struct{}

func (Noop) PublishEvent(context.Context, *domain.FleetEvent) error { return nil }
