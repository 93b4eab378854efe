package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"hookrelay/internal/domain"
	"hookrelay/internal/observability"
	sqsqueue "hookrelay/internal/queue/sqs"
	"hookrelay/internal/store"
	"hookrelay/internal/util"
)

type Store interface {
	InsertEvent(ctx context.Context, in store.EventInsert) error
	GetEvent(ctx context.Context, tenantID, eventID string) (domain.Event, bool, error)
	ListEvents(ctx context.Context, q store.ListQuery) ([]domain.Event, string, error)
	ResetForRetry(ctx context.Context, tenantID, eventID string) (bool, error)
}

type ConfigStore interface {
	ResolveTenantConfig(ctx context.Context, tenantID string) (store.TenantConfig, bool, error)
	UpdateTenantConfig(ctx context.Context, in store.ConfigUpdate) (store.TenantConfig, bool, error)
}

type Queue interface {
	Enqueue(ctx context.Context, m sqsqueue.Message) error
}

// ErrTenantNotConfigured is returned when ingestion cannot snapshot a target
// URL because the tenant has no delivery config.
var ErrTenantNotConfigured = errors.New("tenant has no delivery configuration")

// EventService owns the ingestion-side event operations: create+enqueue,
// read, list, and manual retry. Delivery itself happens in the worker.
type EventService struct {
	Store  Store
	Config ConfigStore
	Queue  Queue

	// Manual retries are bounded independently of the delivery ceiling so a
	// repeatedly clicked retry button cannot mint unbounded duplicates.
	MaxManualRetries int

	IDGen func() string
}

func (s *EventService) idGen() func() string {
	if s.IDGen != nil {
		return s.IDGen
	}
	return util.NewEventID
}

// CreateAndEnqueue persists the event PENDING with the tenant's current
// target URL snapshotted, then enqueues a {tenantId, eventId} reference.
// The payload is stored verbatim; delivery round-trips it byte-for-byte.
func (s *EventService) CreateAndEnqueue(ctx context.Context, tenantID string, payload []byte) (domain.IngestResponse, error) {
	cfg, found, err := s.Config.ResolveTenantConfig(ctx, tenantID)
	if err != nil {
		return domain.IngestResponse{}, fmt.Errorf("resolve tenant config: %w", err)
	}
	if !found {
		return domain.IngestResponse{}, ErrTenantNotConfigured
	}

	eventID := s.idGen()()
	now := util.NowUTC()

	if err := s.Store.InsertEvent(ctx, store.EventInsert{
		TenantID:  tenantID,
		EventID:   eventID,
		Payload:   payload,
		TargetURL: cfg.TargetURL,
		Now:       now,
	}); err != nil {
		return domain.IngestResponse{}, fmt.Errorf("insert event: %w", err)
	}

	if err := s.Queue.Enqueue(ctx, sqsqueue.Message{TenantID: tenantID, EventID: eventID}); err != nil {
		// The record stays PENDING; the caller sees a dependency failure
		// and may re-submit.
		observability.Enqueues.WithLabelValues("error").Inc()
		slog.Error("enqueue failed after insert", "err", err, "tenant_id", tenantID, "event_id", eventID)
		return domain.IngestResponse{}, fmt.Errorf("enqueue event: %w", err)
	}
	observability.Enqueues.WithLabelValues("ok").Inc()

	return domain.IngestResponse{EventID: eventID, Status: string(domain.StatusPending)}, nil
}

func (s *EventService) GetEvent(ctx context.Context, tenantID, eventID string) (domain.Event, bool, error) {
	return s.Store.GetEvent(ctx, tenantID, eventID)
}

func (s *EventService) ListEvents(ctx context.Context, q store.ListQuery) (domain.ListEventsResponse, error) {
	events, next, err := s.Store.ListEvents(ctx, q)
	if err != nil {
		return domain.ListEventsResponse{}, err
	}
	if events == nil {
		events = []domain.Event{}
	}
	return domain.ListEventsResponse{Events: events, NextPageToken: next}, nil
}

// RetryEvent resets a FAILED event to PENDING and re-enqueues it. Attempts
// are preserved so the delivery ceiling still applies; the manual-retry
// ceiling is enforced here, pointing operators at the DLQ tooling once it
// is exhausted.
func (s *EventService) RetryEvent(ctx context.Context, tenantID, eventID string) (domain.RetryResponse, error) {
	ev, found, err := s.Store.GetEvent(ctx, tenantID, eventID)
	if err != nil {
		return domain.RetryResponse{}, err
	}
	if !found {
		return domain.RetryResponse{}, domain.ErrNotRetryable
	}
	if ev.ManualRetries >= s.maxManualRetries() {
		return domain.RetryResponse{}, domain.ErrRetryExhausted
	}

	ok, err := s.Store.ResetForRetry(ctx, tenantID, eventID)
	if err != nil {
		return domain.RetryResponse{}, err
	}
	if !ok {
		return domain.RetryResponse{}, domain.ErrNotRetryable
	}

	if err := s.Queue.Enqueue(ctx, sqsqueue.Message{TenantID: tenantID, EventID: eventID}); err != nil {
		observability.Enqueues.WithLabelValues("error").Inc()
		return domain.RetryResponse{}, fmt.Errorf("enqueue retry: %w", err)
	}
	observability.Enqueues.WithLabelValues("ok").Inc()

	return domain.RetryResponse{EventID: eventID, Status: string(domain.StatusPending)}, nil
}

func (s *EventService) maxManualRetries() int {
	if s.MaxManualRetries > 0 {
		return s.MaxManualRetries
	}
	return 5
}

func (s *EventService) GetTenantConfig(ctx context.Context, tenantID string) (store.TenantConfig, bool, error) {
	return s.Config.ResolveTenantConfig(ctx, tenantID)
}

func (s *EventService) UpdateTenantConfig(ctx context.Context, in store.ConfigUpdate) (store.TenantConfig, bool, error) {
	return s.Config.UpdateTenantConfig(ctx, in)
}
