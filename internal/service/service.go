// Package service composes ingestion, rebuild, validation and repair behind
// one facade. Transport handlers and the message consumer call the facade;
// nothing below it knows how requests arrive.
package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"FillLedger/internal/execution"
	"FillLedger/internal/ingest"
	"FillLedger/internal/integrity"
	"FillLedger/internal/rebuild"
)

// Service is the application facade.
type Service struct {
	ingestor    *ingest.Ingestor
	coordinator *rebuild.Coordinator
	validator   *integrity.Validator
	repairer    *integrity.Repairer
	log         zerolog.Logger
}

func New(ingestor *ingest.Ingestor, coordinator *rebuild.Coordinator, validator *integrity.Validator, repairer *integrity.Repairer, log zerolog.Logger) *Service {
	return &Service{
		ingestor:    ingestor,
		coordinator: coordinator,
		validator:   validator,
		repairer:    repairer,
		log:         log,
	}
}

// IngestBatch accepts a batch of raw records without rebuilding anything.
func (s *Service) IngestBatch(ctx context.Context, records []ingest.RawRecord) (*ingest.BatchResult, error) {
	return s.ingestor.IngestBatch(ctx, records)
}

// ProcessBatch is the ingest-then-rebuild pipeline: accept the batch,
// resolve the touched keys, re-derive exactly those keys. It returns only
// when every touched key has been rebuilt or failed, so a caller observing
// success may immediately read consistent positions.
func (s *Service) ProcessBatch(ctx context.Context, records []ingest.RawRecord) (*ingest.BatchResult, error) {
	result, ingestErr := s.ingestor.IngestBatch(ctx, records)
	if result == nil {
		return nil, ingestErr
	}

	// A partial result with an error means the inserts committed but the
	// ledger failed while marking them. Those keys are stale now, and the
	// marked records come back as duplicates on redelivery, so the rebuild
	// must happen before the failure is surfaced or the keys stay stranded.
	scope := rebuild.ResolveScope(result.Accepted)
	if scope.Len() > 0 {
		if err := s.coordinator.RebuildScope(ctx, scope); err != nil {
			return result, err
		}
	}
	return result, ingestErr
}

// Rebuild re-derives one key's positions on demand.
func (s *Service) Rebuild(ctx context.Context, key execution.PositionKey) error {
	return s.coordinator.Rebuild(ctx, key)
}

// Validate runs an integrity pass over one key.
func (s *Service) Validate(ctx context.Context, key execution.PositionKey) (*integrity.Report, error) {
	return s.validator.ValidateKey(ctx, key)
}

// Repair fixes one repairable issue, or previews the fix when dryRun is set.
func (s *Service) Repair(ctx context.Context, issueID uuid.UUID, dryRun bool) (*integrity.RepairResult, error) {
	return s.repairer.Repair(ctx, issueID, dryRun)
}
