package sqsqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type Consumer struct {
	SQS      *sqs.Client
	QueueURL string

	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
}

type Handler func(ctx context.Context, m Message) error

// PollConcurrent processes queue messages with a worker pool. A message is
// deleted only after its handler returns nil; on error it stays leased until
// the visibility timeout lapses and SQS redrives it (and eventually moves it
// to the dead-letter queue at max receive count). Each message is handled
// independently; one failure never blocks the rest of a batch.
func (c *Consumer) PollConcurrent(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan types.Message, workers*2)
	errCh := make(chan error, 1)

	sendErr := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				if m.Body == nil {
					// Nothing to act on; let redrive route it to the DLQ
					// where the operator tooling will count it as invalid.
					slog.Error("sqs message with empty body", "message_id", strv(m.MessageId))
					continue
				}

				msg, err := ParseMessage([]byte(*m.Body))
				if err != nil {
					// Malformed bodies stay unacknowledged so the transport
					// redrives them; deleting here would lose the record of
					// the failure.
					slog.Error("sqs message parse failed", "err", err, "message_id", strv(m.MessageId))
					continue
				}

				if err := handler(ctx, msg); err == nil {
					_, _ = c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
						QueueUrl:      &c.QueueURL,
						ReceiptHandle: m.ReceiptHandle,
					})
				} else {
					slog.Error("sqs handler error", "err", err, "tenant_id", msg.TenantID, "event_id", msg.EventID)
				}
			}
		}()
	}

	// Producer: fetch messages and enqueue for workers
	go func() {
		defer close(jobs)

		for {
			if ctx.Err() != nil {
				sendErr(ctx.Err())
				return
			}

			out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:            &c.QueueURL,
				MaxNumberOfMessages: c.MaxMessages,
				WaitTimeSeconds:     c.WaitTimeSeconds,
				VisibilityTimeout:   c.VisibilityTimeout,
			})
			if err != nil {
				slog.Error("sqs receive message failed", "err", err)
				time.Sleep(500 * time.Millisecond)
				continue
			}

			for _, m := range out.Messages {
				select {
				case jobs <- m:
				case <-ctx.Done():
					sendErr(ctx.Err())
					return
				}
			}
		}
	}()

	// Wait for shutdown signal (ctx canceled) or producer signals error
	err := <-errCh

	// Let workers finish whatever is already in `jobs` (channel will be closed by producer)
	wg.Wait()
	return err
}

func strv(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
