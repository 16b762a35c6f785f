package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the append-only store of webhook events.
type Repository interface {
	Append(ctx context.Context, e Event) error
	// ListByCall returns a call's events, oldest first. limit <= 0 means no limit.
	ListByCall(ctx context.Context, callID int64, limit int) ([]Event, error)
}

// Service is the webhook log. Writes are best effort and never fail a webhook.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

// Append validates and stores e, filling ID and CreatedAt when empty.
func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Source == "" || e.Kind == "" || e.Outcome == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Record appends e and logs instead of returning failures.
func (s *Service) Record(ctx context.Context, e Event) {
	if s == nil {
		return
	}
	if err := s.Append(ctx, e); err != nil {
		s.log.Warn("webhook log append failed", "source", e.Source, "kind", e.Kind, "err", err)
	}
}

func (s *Service) ListByCall(ctx context.Context, callID int64, limit int) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	return s.repo.ListByCall(ctx, callID, limit)
}
