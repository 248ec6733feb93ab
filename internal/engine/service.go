package engine

import (
	"time"

	"github.com/rs/zerolog"
)

// Service is the reconciliation engine. It owns only decision logic; all
// durable state lives in the storage layer and is read fresh on every call.
type Service struct {
	store       Store
	registry    *Registry
	checkpoints CheckpointRepository
	audit       AuditSink
	logger      zerolog.Logger
	pullLimit   int
	batchLimit  int
	now         func() time.Time
}

type ServiceOption func(*Service)

// WithClock overrides the wall-clock source (checkpoints, server_time).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithPullLimit overrides the per-entity row cap for pull responses.
func WithPullLimit(limit int) ServiceOption {
	return func(s *Service) {
		if limit > 0 && limit <= MaxPullRows {
			s.pullLimit = limit
		}
	}
}

// WithBatchLimit lowers the operation cap for push batches. The hard protocol
// cap of MaxBatchSize still applies.
func WithBatchLimit(limit int) ServiceOption {
	return func(s *Service) {
		if limit > 0 && limit <= MaxBatchSize {
			s.batchLimit = limit
		}
	}
}

func NewService(store Store, registry *Registry, checkpoints CheckpointRepository, audit AuditSink, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:       store,
		registry:    registry,
		checkpoints: checkpoints,
		audit:       audit,
		logger:      logger,
		pullLimit:   MaxPullRows,
		batchLimit:  MaxBatchSize,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
