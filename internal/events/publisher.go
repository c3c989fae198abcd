package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Publisher puts envelopes on the round feed.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Subject returns the feed subject for one (room, round).
func Subject(roomID string, roundNumber int) string {
	return fmt.Sprintf("round.events.%s.%d", roomID, roundNumber)
}

// NewEnvelope stamps a fresh envelope around a typed payload.
func NewEnvelope(eventType EventType, roomID string, roundNumber int, payload any, clock clockwork.Clock) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		RoomID:      roomID,
		RoundNumber: roundNumber,
		Timestamp:   clock.Now().UTC(),
		Payload:     data,
	}, nil
}

// JetStreamPublisherConfig holds configuration for the feed publisher.
type JetStreamPublisherConfig struct {
	URL        string
	StreamName string
	// Subjects the stream should own; defaults to round.events.>
	Subjects []string
	MaxAge   time.Duration
}

func DefaultJetStreamPublisherConfig() JetStreamPublisherConfig {
	return JetStreamPublisherConfig{
		URL:        nats.DefaultURL,
		StreamName: "ROUND_EVENTS",
		Subjects:   []string{"round.events.>"},
		MaxAge:     24 * time.Hour,
	}
}

// JetStreamPublisher publishes feed envelopes to a JetStream stream,
// creating the stream on first use.
type JetStreamPublisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewJetStreamPublisher(ctx context.Context, cfg JetStreamPublisherConfig) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: cfg.Subjects,
		MaxAge:   cfg.MaxAge,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	log.Info().
		Str("stream", cfg.StreamName).
		Strs("subjects", cfg.Subjects).
		Msg("feed publisher ready")
	return &JetStreamPublisher{nc: nc, js: js}, nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	subject := Subject(env.RoomID, env.RoundNumber)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", env.EventType, subject, err)
	}

	log.Debug().
		Str("event_id", env.EventID).
		Str("event_type", string(env.EventType)).
		Str("subject", subject).
		Msg("feed event published")
	return nil
}

func (p *JetStreamPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
