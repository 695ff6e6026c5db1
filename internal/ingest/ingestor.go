package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"FillLedger/internal/dedup"
	"FillLedger/internal/execution"
	"FillLedger/internal/observability"
)

// ExecutionAppender appends accepted executions. The implementation must
// tolerate re-insertion of an already-stored identifier (the second guard
// behind the ledger).
type ExecutionAppender interface {
	InsertBatch(ctx context.Context, execs []*execution.Execution) (int64, error)
}

// RecordStatus is the per-record outcome of an ingestion batch.
type RecordStatus int32

const (
	StatusAccepted RecordStatus = iota
	StatusDuplicate
	StatusMalformed
)

func (s RecordStatus) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusDuplicate:
		return "duplicate"
	default:
		return "malformed"
	}
}

// RecordResult reports one record's outcome; malformed records carry the
// rejection reason.
type RecordResult struct {
	Index  int
	Status RecordStatus
	ID     string
	Reason string
}

// BatchResult summarizes one ingestion batch.
type BatchResult struct {
	Records  []RecordResult
	Accepted []*execution.Execution
}

func (r *BatchResult) Counts() (accepted, duplicate, malformed int) {
	for _, rec := range r.Records {
		switch rec.Status {
		case StatusAccepted:
			accepted++
		case StatusDuplicate:
			duplicate++
		default:
			malformed++
		}
	}
	return
}

// Ingestor filters a batch of raw records through parsing and the dedup
// ledger and appends the accepted executions.
//
// Failure semantics: any ledger error fails the entire batch closed and the
// caller retries later. Accepting records without dedup protection is worse
// than rejecting them. Retrying is safe: inserts are idempotent and the
// ledger is only marked after the insert commits.
type Ingestor struct {
	ledger  dedup.Ledger
	store   ExecutionAppender
	ttl     time.Duration
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewIngestor(ledger dedup.Ledger, store ExecutionAppender, ttl time.Duration, metrics *observability.Metrics, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		ledger:  ledger,
		store:   store,
		ttl:     ttl,
		metrics: metrics,
		log:     log,
	}
}

// IngestBatch processes one batch. Duplicates are counted and skipped,
// never errors. Malformed records are skipped with a reason and the batch
// continues.
func (ing *Ingestor) IngestBatch(ctx context.Context, records []RawRecord) (*BatchResult, error) {
	start := time.Now()

	if err := ing.ledger.Ping(ctx); err != nil {
		ing.countDedupError()
		return nil, fmt.Errorf("ingestion rejected: %w", err)
	}

	result := &BatchResult{Records: make([]RecordResult, 0, len(records))}
	seenInBatch := make(map[string]bool, len(records))

	for i, rec := range records {
		e, err := ParseRecord(rec)
		if err != nil {
			result.Records = append(result.Records, RecordResult{
				Index: i, Status: StatusMalformed, Reason: err.Error(),
			})
			if ing.metrics != nil {
				ing.metrics.RecordsMalformed.WithLabelValues(malformedReason(err)).Inc()
			}
			ing.log.Warn().Int("index", i).Err(err).Msg("malformed record skipped")
			continue
		}

		if seenInBatch[e.ID] {
			result.Records = append(result.Records, RecordResult{
				Index: i, Status: StatusDuplicate, ID: e.ID,
			})
			continue
		}
		seenInBatch[e.ID] = true

		known, err := ing.ledger.IsKnown(ctx, e.ID)
		if err != nil {
			ing.countDedupError()
			return nil, fmt.Errorf("ingestion rejected: %w", err)
		}
		if known {
			result.Records = append(result.Records, RecordResult{
				Index: i, Status: StatusDuplicate, ID: e.ID,
			})
			continue
		}

		result.Records = append(result.Records, RecordResult{
			Index: i, Status: StatusAccepted, ID: e.ID,
		})
		result.Accepted = append(result.Accepted, e)
	}

	if len(result.Accepted) > 0 {
		if _, err := ing.store.InsertBatch(ctx, result.Accepted); err != nil {
			return nil, fmt.Errorf("persist batch: %w", err)
		}

		// Mark only after the insert committed; a crash in between leaves
		// identifiers unmarked, and the store's conflict guard absorbs the
		// replay. A failure here returns the partial result alongside the
		// error: the inserts are already durable and the caller must still
		// rebuild their keys, because the remembered records come back as
		// duplicates on redelivery.
		for _, e := range result.Accepted {
			if _, err := ing.ledger.Remember(ctx, e.ID, ing.ttl); err != nil {
				ing.countDedupError()
				return result, fmt.Errorf("ingestion rejected: %w", err)
			}
		}
	}

	accepted, duplicate, _ := result.Counts()
	if ing.metrics != nil {
		ing.metrics.RecordsAccepted.Add(float64(accepted))
		ing.metrics.RecordsDuplicate.Add(float64(duplicate))
		ing.metrics.IngestBatchSize.Observe(float64(len(records)))
		ing.metrics.IngestBatchDur.Observe(time.Since(start).Seconds())
	}

	ing.log.Info().
		Int("records", len(records)).
		Int("accepted", accepted).
		Int("duplicate", duplicate).
		Int("malformed", len(records)-accepted-duplicate).
		Msg("ingested batch")

	return result, nil
}

// malformedReason buckets parse errors into a bounded metric label set.
func malformedReason(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "shape"):
		return "shape"
	case strings.Contains(msg, "id"):
		return "missing_id"
	case strings.Contains(msg, "side"):
		return "side"
	case strings.Contains(msg, "quantity"):
		return "quantity"
	case strings.Contains(msg, "price"):
		return "price"
	case strings.Contains(msg, "timestamp"):
		return "timestamp"
	default:
		return "other"
	}
}

func (ing *Ingestor) countDedupError() {
	if ing.metrics != nil {
		ing.metrics.DedupErrors.Inc()
	}
}
