// Package nats publishes fleet events on subjects fleet.<type>.<routeId>.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/publisher"
)

var _ publisher.EventPublisher = (*EventPublisher)(nil)

const SubjectPrefix = "fleet"

type conn interface {
	Publish(subject string, data []byte) error
}

type EventPublisher struct {
	nc conn
}

func NewEventPublisher(nc *nats.Conn) *EventPublisher {
	return &EventPublisher{nc: nc}
}

func (p *EventPublisher) PublishEvent(ctx context.Context, event *domain.FleetEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := Subject(event.Type, event.RouteID)
	if err := p.nc.Publish(subject, body); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func Subject(typ domain.FleetEventType, routeID string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, subjectToken(string(typ)), subjectToken(routeID))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// tokens cannot contain spaces, wildcards or separators
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
