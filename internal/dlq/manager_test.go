package dlq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	testDLQURL  = "https://sqs.test/dlq"
	testMainURL = "https://sqs.test/main"
)

type fakeMsg struct {
	id       string
	body     string
	inFlight bool
}

// fakeSQS models just enough queue behavior: receives hide messages when a
// visibility timeout is requested, deletes remove by receipt handle.
type fakeSQS struct {
	dlq         []*fakeMsg
	main        []string
	purgeCalled bool
	nextID      int
}

func (f *fakeSQS) add(bodies ...string) {
	for _, b := range bodies {
		f.nextID++
		f.dlq = append(f.dlq, &fakeMsg{id: "m" + strconv.Itoa(f.nextID), body: b})
	}
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	out := &sqs.ReceiveMessageOutput{}
	for _, m := range f.dlq {
		if m.inFlight {
			continue
		}
		if len(out.Messages) >= int(in.MaxNumberOfMessages) {
			break
		}
		if in.VisibilityTimeout > 0 {
			m.inFlight = true
		}
		id, body, rh := m.id, m.body, m.id
		out.Messages = append(out.Messages, types.Message{
			MessageId:     &id,
			Body:          &body,
			ReceiptHandle: &rh,
		})
	}
	return out, nil
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if *in.QueueUrl == testMainURL {
		f.main = append(f.main, *in.MessageBody)
		return &sqs.SendMessageOutput{}, nil
	}
	f.add(*in.MessageBody)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	for i, m := range f.dlq {
		if m.id == *in.ReceiptHandle {
			f.dlq = append(f.dlq[:i], f.dlq[i+1:]...)
			return &sqs.DeleteMessageOutput{}, nil
		}
	}
	return nil, errors.New("unknown receipt handle")
}

func (f *fakeSQS) PurgeQueue(ctx context.Context, in *sqs.PurgeQueueInput, _ ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error) {
	f.purgeCalled = true
	f.dlq = nil
	return &sqs.PurgeQueueOutput{}, nil
}

type fakePurgeStore struct {
	purged  []string
	failFor map[string]bool
}

func (f *fakePurgeStore) MarkPurged(ctx context.Context, tenantID, eventID string) (bool, error) {
	if f.failFor[eventID] {
		return false, errors.New("store write failed")
	}
	f.purged = append(f.purged, tenantID+"/"+eventID)
	return true, nil
}

func validBody(n int) string {
	return fmt.Sprintf(`{"tenantId":"t1","eventId":"evt_%d"}`, n)
}

func newManager(q *fakeSQS, st *fakePurgeStore) *Manager {
	return &Manager{SQS: q, DLQURL: testDLQURL, MainQueueURL: testMainURL, Store: st}
}

func TestInspectPeeksWithoutConsuming(t *testing.T) {
	q := &fakeSQS{}
	q.add(validBody(1), validBody(2), "garbage")
	m := newManager(q, &fakePurgeStore{})

	entries, err := m.Inspect(context.Background(), 10)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if !entries[0].Valid || entries[0].EventID != "evt_1" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[2].Valid {
		t.Fatalf("garbage body must be flagged invalid")
	}
	if len(q.dlq) != 3 {
		t.Fatalf("inspect must not consume, %d messages left", len(q.dlq))
	}
	for _, msg := range q.dlq {
		if msg.inFlight {
			t.Fatalf("inspect must not hide messages")
		}
	}
}

func TestInspectCapsLimit(t *testing.T) {
	q := &fakeSQS{}
	for i := 0; i < 15; i++ {
		q.add(validBody(i))
	}
	m := newManager(q, &fakePurgeStore{})

	entries, err := m.Inspect(context.Background(), 50)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if len(entries) != InspectLimit {
		t.Fatalf("expected limit cap of %d, got %d", InspectLimit, len(entries))
	}
}

func TestRequeueBounded(t *testing.T) {
	q := &fakeSQS{}
	for i := 1; i <= 7; i++ {
		q.add(validBody(i))
	}
	m := newManager(q, &fakePurgeStore{})

	requeued, failed, err := m.Requeue(context.Background(), 10, 5)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued != 5 || failed != 0 {
		t.Fatalf("expected {requeued:5, failed:0}, got {%d, %d}", requeued, failed)
	}
	if len(q.main) != 5 {
		t.Fatalf("expected 5 messages on the main queue, got %d", len(q.main))
	}
	if len(q.dlq) != 2 {
		t.Fatalf("expected 2 messages left in the DLQ, got %d", len(q.dlq))
	}
}

func TestRequeueLeavesInvalidInPlace(t *testing.T) {
	q := &fakeSQS{}
	q.add(validBody(1), `{"tenantId":"t1"}`, validBody(2))
	m := newManager(q, &fakePurgeStore{})

	requeued, failed, err := m.Requeue(context.Background(), 10, 100)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued != 2 || failed != 1 {
		t.Fatalf("expected {requeued:2, failed:1}, got {%d, %d}", requeued, failed)
	}
	if len(q.dlq) != 1 {
		t.Fatalf("invalid message must be left in the DLQ, got %d messages", len(q.dlq))
	}
	if q.dlq[0].body != `{"tenantId":"t1"}` {
		t.Fatalf("wrong message left behind: %q", q.dlq[0].body)
	}
}

func TestRequeueEmptyDLQ(t *testing.T) {
	m := newManager(&fakeSQS{}, &fakePurgeStore{})
	requeued, failed, err := m.Requeue(context.Background(), 10, 100)
	if err != nil || requeued != 0 || failed != 0 {
		t.Fatalf("expected clean no-op, got {%d, %d, %v}", requeued, failed, err)
	}
}

func TestPurgeReconciles(t *testing.T) {
	q := &fakeSQS{}
	q.add(validBody(1), "malformed{", validBody(2))
	st := &fakePurgeStore{}
	m := newManager(q, st)

	report, err := m.Purge(context.Background())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if report.Reconciled != 2 || report.Failed != 1 || report.Drained != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(st.purged) != 2 {
		t.Fatalf("expected 2 events marked purged, got %v", st.purged)
	}
	if len(q.dlq) != 0 {
		t.Fatalf("DLQ must end empty regardless of malformed entries, got %d", len(q.dlq))
	}
	if !q.purgeCalled {
		t.Fatalf("queue-level purge must run last")
	}
	if report.QueueURL != testDLQURL {
		t.Fatalf("report must name the purged channel, got %q", report.QueueURL)
	}
}

func TestPurgeStoreFailureDoesNotAbort(t *testing.T) {
	q := &fakeSQS{}
	q.add(validBody(1), validBody(2), validBody(3))
	st := &fakePurgeStore{failFor: map[string]bool{"evt_2": true}}
	m := newManager(q, st)

	report, err := m.Purge(context.Background())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if report.Reconciled != 2 || report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(q.dlq) != 0 {
		t.Fatalf("one reconciliation failure must not stop the drain")
	}
}
