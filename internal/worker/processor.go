package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"hookrelay/internal/delivery"
	"hookrelay/internal/domain"
	"hookrelay/internal/observability"
	sqsqueue "hookrelay/internal/queue/sqs"
	"hookrelay/internal/store"
)

const DefaultMaxAttempts = 5

type Store interface {
	GetEvent(ctx context.Context, tenantID, eventID string) (domain.Event, bool, error)
	UpdateDeliveryStatus(ctx context.Context, in store.StatusUpdate) error
}

type ConfigResolver interface {
	ResolveTenantConfig(ctx context.Context, tenantID string) (store.TenantConfig, bool, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, targetURL string, payload []byte, secret string) delivery.Result
}

type DeadLetterer interface {
	Enqueue(ctx context.Context, m sqsqueue.Message) error
}

// Processor runs the per-message delivery state machine. Returning nil marks
// the message handled (the consumer deletes it); returning an error leaves it
// on the queue for transport redelivery.
type Processor struct {
	Store      Store
	Config     ConfigResolver
	Deliverer  Deliverer
	DeadLetter DeadLetterer

	MaxAttempts int
	Limiter     *rate.Limiter
	Breaker     *gobreaker.CircuitBreaker
	Now         func() time.Time
}

func (p *Processor) maxAttempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

func (p *Processor) Process(ctx context.Context, msg sqsqueue.Message) error {
	ev, found, err := p.Store.GetEvent(ctx, msg.TenantID, msg.EventID)
	if err != nil {
		return fmt.Errorf("get event: %w", err)
	}
	if !found {
		// No backing record; retrying cannot create one.
		slog.Warn("event not found, dropping message", "tenant_id", msg.TenantID, "event_id", msg.EventID)
		observability.Dropped.WithLabelValues("event_not_found").Inc()
		return nil
	}

	if ev.Status == domain.StatusPurged {
		// Purged events must never be delivered, whatever queue the
		// reference arrived on.
		slog.Warn("purged event dequeued, dropping message", "tenant_id", msg.TenantID, "event_id", msg.EventID)
		observability.Dropped.WithLabelValues("purged").Inc()
		return nil
	}

	// Ceiling short-circuit: an exhausted event is routed straight to the
	// dead-letter queue without another delivery attempt.
	if ev.Attempts >= p.maxAttempts() {
		if err := p.DeadLetter.Enqueue(ctx, sqsqueue.Message{TenantID: msg.TenantID, EventID: msg.EventID}); err != nil {
			// Leave the message on the main queue; transport redrive is the
			// fallback path to the DLQ.
			return fmt.Errorf("dead-letter send: %w", err)
		}
		observability.DeadLettered.WithLabelValues("ceiling_short_circuit").Inc()
		slog.Info("attempt ceiling reached, dead-lettered without delivery",
			"tenant_id", msg.TenantID, "event_id", msg.EventID, "attempts", ev.Attempts)
		return nil
	}

	cfg, found, err := p.Config.ResolveTenantConfig(ctx, msg.TenantID)
	if err != nil {
		return fmt.Errorf("resolve tenant config: %w", err)
	}
	if !found {
		slog.Warn("tenant config not found, dropping message", "tenant_id", msg.TenantID, "event_id", msg.EventID)
		observability.Dropped.WithLabelValues("config_not_found").Inc()
		return nil
	}

	if p.Limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.Limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			// Could not acquire a send slot; transient, no attempt made.
			return fmt.Errorf("delivery rate limited: %w", err)
		}
	}

	// Deliver to the snapshotted target URL, not the resolver's current
	// value; mid-flight config changes do not redirect an in-progress chain.
	res, err := p.deliverWithBreaker(ctx, ev, cfg.WebhookSecret)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		// No attempt was made; no status write, no attempts increment.
		observability.Deliveries.WithLabelValues("cb_open", "0").Inc()
		return err
	}
	if err != nil {
		return err
	}

	newAttempts := ev.Attempts + 1
	now := p.now()

	if res.Success {
		observability.Deliveries.WithLabelValues("ok", strconv.Itoa(res.StatusCode)).Inc()
		if err := p.Store.UpdateDeliveryStatus(ctx, store.StatusUpdate{
			TenantID: msg.TenantID,
			EventID:  msg.EventID,
			Status:   string(domain.StatusDelivered),
			Attempts: newAttempts,
			Now:      now,
		}); err != nil {
			// The attempt is not recorded; let the transport redeliver.
			// At-least-once means the receiver may see a duplicate.
			return fmt.Errorf("mark delivered: %w", err)
		}
		slog.Info("delivered", "tenant_id", msg.TenantID, "event_id", msg.EventID,
			"http_status", res.StatusCode, "attempts", newAttempts)
		return nil
	}

	observability.Deliveries.WithLabelValues("error", strconv.Itoa(res.StatusCode)).Inc()
	if err := p.Store.UpdateDeliveryStatus(ctx, store.StatusUpdate{
		TenantID:     msg.TenantID,
		EventID:      msg.EventID,
		Status:       string(domain.StatusFailed),
		Attempts:     newAttempts,
		ErrorMessage: res.Error,
		Now:          now,
	}); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	slog.Info("delivery failed", "tenant_id", msg.TenantID, "event_id", msg.EventID,
		"http_status", res.StatusCode, "attempts", newAttempts, "error", res.Error)

	if newAttempts >= p.maxAttempts() {
		// Proactive dead-lettering keeps the event store and the DLQ in
		// step immediately instead of after one more redrive cycle. The
		// transport's own max-receive-count remains as a guard; whichever
		// fires first wins.
		if err := p.DeadLetter.Enqueue(ctx, sqsqueue.Message{TenantID: msg.TenantID, EventID: msg.EventID}); err != nil {
			return fmt.Errorf("dead-letter send: %w", err)
		}
		observability.DeadLettered.WithLabelValues("attempts_exhausted").Inc()
		return nil
	}

	// Leave the message unacknowledged so SQS backoff applies.
	return fmt.Errorf("webhook delivery failed: %s", res.Error)
}

func (p *Processor) deliverWithBreaker(ctx context.Context, ev domain.Event, secret string) (delivery.Result, error) {
	start := time.Now()
	defer func() {
		observability.DeliveryLatency.Observe(time.Since(start).Seconds())
	}()

	if p.Breaker == nil {
		return p.Deliverer.Deliver(ctx, ev.TargetURL, ev.Payload, secret), nil
	}

	out, err := p.Breaker.Execute(func() (any, error) {
		res := p.Deliverer.Deliver(ctx, ev.TargetURL, ev.Payload, secret)
		if !res.Success {
			// Feed failures to the breaker but keep the classified result;
			// the state machine treats them all as retryable.
			return res, breakerError{res}
		}
		return res, nil
	})
	if err != nil {
		var be breakerError
		if errors.As(err, &be) {
			return be.result, nil
		}
		return delivery.Result{}, err
	}
	return out.(delivery.Result), nil
}

type breakerError struct {
	result delivery.Result
}

func (e breakerError) Error() string { return e.result.Error }
