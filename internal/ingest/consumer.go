package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const batchSubject = "fills.ingest.batches"

// BatchEnvelope is the wire shape of one ingestion batch message.
type BatchEnvelope struct {
	Source  string      `json:"source,omitempty"`
	Records []RawRecord `json:"records"`
}

// Processor handles a decoded batch. The service facade implements it with
// the full ingest-then-rebuild pipeline.
type Processor interface {
	ProcessBatch(ctx context.Context, records []RawRecord) (*BatchResult, error)
}

// EnsureIngestStream creates the inbound batch stream.
func EnsureIngestStream(ctx context.Context, js jetstream.JetStream, name string) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{"fills.ingest.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create ingest stream %s: %w", name, err)
	}
	return nil
}

// Consumer pulls batch messages off JetStream and feeds them to the
// processor. A failed batch is NAKed with a delay so a transient dedup or
// store outage resolves before redelivery; ingestion is idempotent, so
// redelivering a half-processed batch is safe.
type Consumer struct {
	js      jetstream.JetStream
	stream  string
	durable string
	proc    Processor
	log     zerolog.Logger
}

func NewConsumer(js jetstream.JetStream, stream, durable string, proc Processor, log zerolog.Logger) *Consumer {
	return &Consumer{js: js, stream: stream, durable: durable, proc: proc, log: log}
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, c.stream, jetstream.ConsumerConfig{
		Durable:       c.durable,
		FilterSubject: batchSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxDeliver:    -1,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", c.durable, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.stream, err)
	}
	defer cc.Stop()

	<-ctx.Done()
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	var env BatchEnvelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		// Undecodable messages are acked: redelivery cannot fix them.
		c.log.Error().Err(err).Msg("dropped undecodable batch message")
		msg.Ack()
		return
	}

	result, err := c.proc.ProcessBatch(ctx, env.Records)
	if err != nil {
		c.log.Warn().Err(err).Str("source", env.Source).Msg("batch failed, will redeliver")
		msg.NakWithDelay(10 * time.Second)
		return
	}

	accepted, duplicate, malformed := result.Counts()
	c.log.Info().
		Str("source", env.Source).
		Int("accepted", accepted).
		Int("duplicate", duplicate).
		Int("malformed", malformed).
		Msg("batch processed")
	msg.Ack()
}
