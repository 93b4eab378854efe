package dlq

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"hookrelay/internal/observability"
	sqsqueue "hookrelay/internal/queue/sqs"
)

// SQSAPI is the subset of the SQS client the manager needs.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	PurgeQueue(ctx context.Context, in *sqs.PurgeQueueInput, optFns ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error)
}

// PurgeStore reconciles event state for purged dead-letter messages.
type PurgeStore interface {
	MarkPurged(ctx context.Context, tenantID, eventID string) (bool, error)
}

// Manager implements the operator-facing dead-letter operations. It must
// never leave the event store and the dead-letter queue contradicting each
// other: purge reconciles statuses before the irreversible queue purge, and
// requeue deletes a message only after it is back on the main queue.
type Manager struct {
	SQS          SQSAPI
	DLQURL       string
	MainQueueURL string
	Store        PurgeStore
}

// InspectLimit caps a single peek.
const InspectLimit = 10

// maxIterations bounds the requeue/purge loops against a DLQ that keeps
// refilling while the operator drains it.
const maxIterations = 1000

// Entry is one peeked dead-letter message.
type Entry struct {
	MessageID string `json:"messageId"`
	TenantID  string `json:"tenantId,omitempty"`
	EventID   string `json:"eventId,omitempty"`
	Body      string `json:"body"`
	Valid     bool   `json:"valid"`
}

// Inspect peeks at up to limit messages without consuming them: visibility
// timeout zero leaves everything in place for a later requeue or purge.
func (m *Manager) Inspect(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > InspectLimit {
		limit = InspectLimit
	}

	out, err := m.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &m.DLQURL,
		MaxNumberOfMessages: int32(limit),
		WaitTimeSeconds:     1,
		VisibilityTimeout:   0,
	})
	if err != nil {
		observability.DLQOps.WithLabelValues("inspect", "error").Inc()
		return nil, err
	}

	entries := make([]Entry, 0, len(out.Messages))
	for _, msg := range out.Messages {
		e := Entry{MessageID: deref(msg.MessageId), Body: deref(msg.Body)}
		if parsed, err := sqsqueue.ParseMessage([]byte(e.Body)); err == nil {
			e.TenantID = parsed.TenantID
			e.EventID = parsed.EventID
			e.Valid = true
		}
		entries = append(entries, e)
	}
	observability.DLQOps.WithLabelValues("inspect", "ok").Inc()
	return entries, nil
}

// Requeue moves up to maxMessages valid messages back to the main queue,
// batchSize at a time. Invalid messages are counted as failed and left in
// the DLQ rather than deleted, so nothing is silently lost. The event's
// status is untouched; the next delivery attempt will move it.
func (m *Manager) Requeue(ctx context.Context, batchSize, maxMessages int) (requeued, failed int, err error) {
	if batchSize <= 0 || batchSize > 10 {
		batchSize = 10
	}
	if maxMessages <= 0 {
		maxMessages = 100
	}

	for i := 0; i < maxIterations && requeued < maxMessages; i++ {
		n := batchSize
		if remaining := maxMessages - requeued; remaining < n {
			n = remaining
		}

		out, err := m.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &m.DLQURL,
			MaxNumberOfMessages: int32(n),
			WaitTimeSeconds:     1,
			VisibilityTimeout:   30,
		})
		if err != nil {
			observability.DLQOps.WithLabelValues("requeue", "error").Inc()
			return requeued, failed, err
		}
		if len(out.Messages) == 0 {
			break
		}

		for _, msg := range out.Messages {
			body := deref(msg.Body)
			parsed, perr := sqsqueue.ParseMessage([]byte(body))
			if perr != nil {
				slog.Warn("invalid dead-letter message left in place", "err", perr, "message_id", deref(msg.MessageId))
				failed++
				continue
			}

			if _, err := m.SQS.SendMessage(ctx, &sqs.SendMessageInput{
				QueueUrl:    &m.MainQueueURL,
				MessageBody: &body,
			}); err != nil {
				slog.Error("requeue send failed", "err", err, "tenant_id", parsed.TenantID, "event_id", parsed.EventID)
				failed++
				continue
			}

			// Delete only after the main-queue send succeeded.
			if _, err := m.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      &m.DLQURL,
				ReceiptHandle: msg.ReceiptHandle,
			}); err != nil {
				// The message is now on both queues; the worker's ceiling
				// check makes the duplicate a no-op.
				slog.Error("requeue delete failed", "err", err, "tenant_id", parsed.TenantID, "event_id", parsed.EventID)
				failed++
				continue
			}

			requeued++
			slog.Info("requeued", "tenant_id", parsed.TenantID, "event_id", parsed.EventID)
		}
	}

	observability.DLQOps.WithLabelValues("requeue", "ok").Inc()
	return requeued, failed, nil
}

// PurgeReport summarizes one purge run.
type PurgeReport struct {
	Drained    int
	Reconciled int
	Failed     int
	QueueURL   string
}

// Purge drains the DLQ and marks every referenced event PURGED. Status
// reconciliation is best effort per message and never aborts the run; the
// irreversible queue-level purge happens last, after reconciliation.
func (m *Manager) Purge(ctx context.Context) (PurgeReport, error) {
	report := PurgeReport{QueueURL: m.DLQURL}

	for i := 0; i < maxIterations; i++ {
		out, err := m.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &m.DLQURL,
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     1,
			VisibilityTimeout:   60,
		})
		if err != nil {
			observability.DLQOps.WithLabelValues("purge", "error").Inc()
			return report, err
		}
		if len(out.Messages) == 0 {
			break
		}

		for _, msg := range out.Messages {
			report.Drained++

			parsed, perr := sqsqueue.ParseMessage([]byte(deref(msg.Body)))
			if perr != nil {
				slog.Warn("malformed dead-letter message purged without reconciliation",
					"err", perr, "message_id", deref(msg.MessageId))
				report.Failed++
			} else if ok, err := m.Store.MarkPurged(ctx, parsed.TenantID, parsed.EventID); err != nil || !ok {
				slog.Warn("purge reconciliation failed", "err", err,
					"tenant_id", parsed.TenantID, "event_id", parsed.EventID)
				report.Failed++
			} else {
				report.Reconciled++
			}

			// The message leaves the channel regardless of reconciliation.
			if _, err := m.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      &m.DLQURL,
				ReceiptHandle: msg.ReceiptHandle,
			}); err != nil {
				slog.Error("purge delete failed", "err", err, "message_id", deref(msg.MessageId))
			}
		}
	}

	// Final sweep for anything still hidden behind a visibility timeout.
	if _, err := m.SQS.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: &m.DLQURL}); err != nil {
		observability.DLQOps.WithLabelValues("purge", "error").Inc()
		return report, err
	}

	observability.DLQOps.WithLabelValues("purge", "ok").Inc()
	return report, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
