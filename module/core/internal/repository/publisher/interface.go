package publisher

import (
	"context"

	"github.com/nandanugg/nxt-bus/module/core/domain"
)

type EventPublisher interface {
	PublishEvent(ctx context.Context, event *domain.FleetEvent) error
}
