package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/AaronLay10/SentientViewer/internal/control"
	"github.com/AaronLay10/SentientViewer/internal/events"
)

const requestTimeout = 5 * time.Second

// Requester accepts scene change requests.
type Requester interface {
	ChangeScene(ctx context.Context, req control.Request, source string) (bool, error)
}

// ParseSceneRequest decodes a request payload. A JSON object must carry
// scene_id; any other payload is taken as a bare scene id.
func ParseSceneRequest(payload []byte) (control.Request, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		var req control.Request
		if err := json.Unmarshal([]byte(trimmed), &req); err != nil {
			return control.Request{}, err
		}
		if req.SceneID == "" {
			return control.Request{}, control.ErrMissingSceneID
		}
		return req, nil
	}
	if trimmed == "" {
		return control.Request{}, control.ErrMissingSceneID
	}
	return control.Request{SceneID: trimmed}, nil
}

// RequestSubscriber listens for scene change requests addressed to one
// viewer. Subscribing is idempotent; call ClearSubscriptions when the
// connection drops so the next connect subscribes again.
type RequestSubscriber struct {
	mu         sync.Mutex
	broker     Broker
	requester  Requester
	topic      string
	subscribed bool
	log        zerolog.Logger
}

// NewRequestSubscriber creates a subscriber for viewerID's request topic.
func NewRequestSubscriber(broker Broker, requester Requester, viewerID string, log zerolog.Logger) *RequestSubscriber {
	return &RequestSubscriber{
		broker:    broker,
		requester: requester,
		topic:     SceneChangeTopic(viewerID),
		log:       log.With().Str("component", "mqtt").Logger(),
	}
}

// Topic returns the subscribed topic.
func (s *RequestSubscriber) Topic() string {
	return s.topic
}

// Subscribe installs the request handler if it is not already installed.
func (s *RequestSubscriber) Subscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed {
		return nil
	}
	if err := s.broker.Subscribe(s.topic, s.handle); err != nil {
		return err
	}
	s.subscribed = true
	s.log.Info().Str("topic", s.topic).Msg("subscribed")
	return nil
}

// IsSubscribed reports whether the handler is installed.
func (s *RequestSubscriber) IsSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

// ClearSubscriptions forgets the subscription.
func (s *RequestSubscriber) ClearSubscriptions() {
	s.mu.Lock()
	s.subscribed = false
	s.mu.Unlock()
}

func (s *RequestSubscriber) handle(_ paho.Client, msg paho.Message) {
	req, err := ParseSceneRequest(msg.Payload())
	if err != nil {
		s.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("invalid scene request")
		events.Emit("warning", "scene.rejected", "invalid request payload", map[string]interface{}{
			"reason": "invalid_payload",
			"source": "mqtt",
			"error":  err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if _, err := s.requester.ChangeScene(ctx, req, "mqtt"); err != nil {
		s.log.Warn().Err(err).Str("scene_id", req.SceneID).Msg("scene request failed")
	}
}
