package mqtt

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/AaronLay10/SentientViewer/internal/events"
)

// EventPublisher forwards every emitted event to the broker.
type EventPublisher struct {
	broker Broker
	topic  string
	log    zerolog.Logger

	errorShown bool
}

// NewEventPublisher publishes to viewerID's events topic.
func NewEventPublisher(broker Broker, viewerID string, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		broker: broker,
		topic:  EventsTopic(viewerID),
		log:    log.With().Str("component", "mqtt").Logger(),
	}
}

// Run forwards events until ctx is cancelled. Events emitted while the
// broker is disconnected are dropped.
func (p *EventPublisher) Run(ctx context.Context) error {
	sub := events.Subscribe()
	defer events.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub:
			if !ok {
				return nil
			}
			p.forward(e)
		}
	}
}

func (p *EventPublisher) forward(e events.Event) {
	if !p.broker.IsConnected() {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.Error().Err(err).Str("event", e.Name).Msg("failed to encode event")
		return
	}
	if err := p.broker.Publish(p.topic, payload); err != nil {
		// report once per outage
		if !p.errorShown {
			p.log.Warn().Err(err).Str("topic", p.topic).Msg("event publish failed")
			p.errorShown = true
		}
		return
	}
	p.errorShown = false
}
