// Package cache produces the read-model invalidation signal: per rebuilt
// position key, downstream read-model cache entries are deleted and a
// rebuilt event is published for presentation-layer consumers.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"FillLedger/internal/execution"
)

const rebuiltStreamName = "FILLS_REBUILT"

// RebuiltEvent is emitted after a key's rebuild has committed. Delivery and
// ordering beyond "after the rebuild" are not guaranteed; consumers that
// fall behind re-read the position store.
type RebuiltEvent struct {
	Account    string    `json:"account"`
	Instrument string    `json:"instrument"`
	Positions  int       `json:"positions"`
	RebuiltAt  time.Time `json:"rebuilt_at"`
}

// Publisher publishes rebuilt-key events to NATS JetStream on
// fills.ledger.rebuilt.{account}.{instrument}.
type Publisher struct {
	js jetstream.JetStream
}

func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

func (p *Publisher) PublishRebuilt(ctx context.Context, key execution.PositionKey, positions int) error {
	evt := RebuiltEvent{
		Account:    key.Account,
		Instrument: key.Instrument,
		Positions:  positions,
		RebuiltAt:  time.Now().UTC(),
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal rebuilt event: %w", err)
	}

	subject := fmt.Sprintf("fills.ledger.rebuilt.%s.%s", key.Account, key.Instrument)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// EnsureRebuiltStream creates the outbound stream for rebuilt-key events.
func EnsureRebuiltStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      rebuiltStreamName,
		Subjects:  []string{"fills.ledger.rebuilt.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create rebuilt stream: %w", err)
	}
	return nil
}
