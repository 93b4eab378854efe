package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"hookrelay/internal/domain"
	sqsqueue "hookrelay/internal/queue/sqs"
	"hookrelay/internal/service"
	"hookrelay/internal/store"
)

type fakeEventStore struct {
	events   map[string]domain.Event
	inserted []store.EventInsert
	listErr  error
}

func key(tenantID, eventID string) string { return tenantID + "/" + eventID }

func (f *fakeEventStore) InsertEvent(_ context.Context, in store.EventInsert) error {
	f.inserted = append(f.inserted, in)
	return nil
}

func (f *fakeEventStore) GetEvent(_ context.Context, tenantID, eventID string) (domain.Event, bool, error) {
	ev, ok := f.events[key(tenantID, eventID)]
	return ev, ok, nil
}

func (f *fakeEventStore) ListEvents(_ context.Context, q store.ListQuery) ([]domain.Event, string, error) {
	if f.listErr != nil {
		return nil, "", f.listErr
	}
	var out []domain.Event
	for _, ev := range f.events {
		if ev.TenantID == q.TenantID {
			out = append(out, ev)
		}
	}
	return out, "", nil
}

func (f *fakeEventStore) ResetForRetry(_ context.Context, tenantID, eventID string) (bool, error) {
	k := key(tenantID, eventID)
	ev, ok := f.events[k]
	if !ok || ev.Status != domain.StatusFailed {
		return false, nil
	}
	ev.Status = domain.StatusPending
	ev.ManualRetries++
	ev.ErrorMessage = ""
	f.events[k] = ev
	return true, nil
}

type fakeConfigStore struct {
	configs map[string]store.TenantConfig
}

func (f *fakeConfigStore) ResolveTenantConfig(_ context.Context, tenantID string) (store.TenantConfig, bool, error) {
	cfg, ok := f.configs[tenantID]
	return cfg, ok, nil
}

func (f *fakeConfigStore) UpdateTenantConfig(_ context.Context, in store.ConfigUpdate) (store.TenantConfig, bool, error) {
	cfg, ok := f.configs[in.TenantID]
	if !ok {
		return store.TenantConfig{}, false, nil
	}
	if in.TargetURL != "" {
		cfg.TargetURL = in.TargetURL
	}
	if in.WebhookSecret != "" {
		cfg.WebhookSecret = in.WebhookSecret
	}
	cfg.LastUpdated = in.Now
	f.configs[in.TenantID] = cfg
	return cfg, true, nil
}

type fakeQueue struct {
	sent []sqsqueue.Message
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, m sqsqueue.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

type fakeIdentities struct {
	byKey map[string]store.TenantIdentity
}

func (f *fakeIdentities) GetTenantByAPIKey(_ context.Context, apiKey string) (store.TenantIdentity, bool, error) {
	id, ok := f.byKey[apiKey]
	return id, ok, nil
}

func newTestRouter(es *fakeEventStore, cs *fakeConfigStore, q *fakeQueue) *mux.Router {
	svc := &service.EventService{
		Store:            es,
		Config:           cs,
		Queue:            q,
		MaxManualRetries: 5,
		IDGen:            func() string { return "evt_test0001" },
	}
	r := mux.NewRouter()
	tenant := r.NewRoute().Subrouter()
	tenant.Use(TenantAuth(&fakeIdentities{byKey: map[string]store.TenantIdentity{
		"key-a": {TenantID: "tenant-a", IsActive: true},
		"key-b": {TenantID: "tenant-b", IsActive: true},
		"key-x": {TenantID: "tenant-x", IsActive: false},
	}}))
	(&API{Svc: svc}).Register(tenant)
	return r
}

func TestTenantAuthRejectsMissingAndInactiveKeys(t *testing.T) {
	r := newTestRouter(
		&fakeEventStore{events: map[string]domain.Event{}},
		&fakeConfigStore{configs: map[string]store.TenantConfig{}},
		&fakeQueue{},
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no key: expected 401, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	req.Header.Set("X-Api-Key", "key-x")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("inactive tenant: expected 401, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	req.Header.Set("Authorization", "Bearer key-a")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("bearer key: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestIngestCreatesAndEnqueues(t *testing.T) {
	es := &fakeEventStore{events: map[string]domain.Event{}}
	cs := &fakeConfigStore{configs: map[string]store.TenantConfig{
		"tenant-a": {TenantID: "tenant-a", TargetURL: "https://a.example.com/hook", WebhookSecret: "sh"},
	}}
	q := &fakeQueue{}
	r := newTestRouter(es, cs, q)

	payload := `{"order":"ord_1","amount":42}`
	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(payload))
	req.Header.Set("X-Api-Key", "key-a")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp domain.IngestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.EventID != "evt_test0001" || resp.Status != "PENDING" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(es.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(es.inserted))
	}
	if es.inserted[0].TargetURL != "https://a.example.com/hook" {
		t.Fatalf("target url not snapshotted: %q", es.inserted[0].TargetURL)
	}
	if string(es.inserted[0].Payload) != payload {
		t.Fatalf("payload altered: %q", es.inserted[0].Payload)
	}
	if len(q.sent) != 1 || q.sent[0].EventID != "evt_test0001" || q.sent[0].TenantID != "tenant-a" {
		t.Fatalf("unexpected queue messages: %+v", q.sent)
	}
}

func TestIngestRejectsBadPayloads(t *testing.T) {
	r := newTestRouter(
		&fakeEventStore{events: map[string]domain.Event{}},
		&fakeConfigStore{configs: map[string]store.TenantConfig{
			"tenant-a": {TenantID: "tenant-a", TargetURL: "https://a.example.com/hook"},
		}},
		&fakeQueue{},
	)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader("not json"))
	req.Header.Set("X-Api-Key", "key-a")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid json: expected 400, got %d", w.Code)
	}

	big := bytes.Repeat([]byte("a"), maxPayloadBytes+1)
	req = httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(big))
	req.Header.Set("X-Api-Key", "key-a")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized payload: expected 413, got %d", w.Code)
	}
}

func TestIngestWithoutTenantConfigConflicts(t *testing.T) {
	r := newTestRouter(
		&fakeEventStore{events: map[string]domain.Event{}},
		&fakeConfigStore{configs: map[string]store.TenantConfig{}},
		&fakeQueue{},
	)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(`{}`))
	req.Header.Set("X-Api-Key", "key-a")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestGetEventScopedToTenant(t *testing.T) {
	es := &fakeEventStore{events: map[string]domain.Event{
		key("tenant-a", "evt_1"): {TenantID: "tenant-a", EventID: "evt_1", Status: domain.StatusDelivered, Payload: []byte(`{}`), CreatedAt: time.Now()},
	}}
	r := newTestRouter(es, &fakeConfigStore{configs: map[string]store.TenantConfig{}}, &fakeQueue{})

	req := httptest.NewRequest(http.MethodGet, "/v1/events/evt_1", nil)
	req.Header.Set("X-Api-Key", "key-a")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("owner: expected 200, got %d", w.Code)
	}

	// Another tenant with a valid key cannot see it.
	req = httptest.NewRequest(http.MethodGet, "/v1/events/evt_1", nil)
	req.Header.Set("X-Api-Key", "key-b")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("other tenant: expected 404, got %d", w.Code)
	}
}

func TestListRejectsBadFilters(t *testing.T) {
	es := &fakeEventStore{events: map[string]domain.Event{}}
	r := newTestRouter(es, &fakeConfigStore{configs: map[string]store.TenantConfig{}}, &fakeQueue{})

	req := httptest.NewRequest(http.MethodGet, "/v1/events?status=BOGUS", nil)
	req.Header.Set("X-Api-Key", "key-a")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad status: expected 400, got %d", w.Code)
	}

	es.listErr = store.ErrInvalidPageToken
	req = httptest.NewRequest(http.MethodGet, "/v1/events?pageToken=%21%21", nil)
	req.Header.Set("X-Api-Key", "key-a")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad page token: expected 400, got %d", w.Code)
	}
}

func TestRetryConflictsWhenNotRetryable(t *testing.T) {
	es := &fakeEventStore{events: map[string]domain.Event{
		key("tenant-a", "evt_ok"):   {TenantID: "tenant-a", EventID: "evt_ok", Status: domain.StatusFailed, Attempts: 3},
		key("tenant-a", "evt_done"): {TenantID: "tenant-a", EventID: "evt_done", Status: domain.StatusDelivered},
		key("tenant-a", "evt_worn"): {TenantID: "tenant-a", EventID: "evt_worn", Status: domain.StatusFailed, ManualRetries: 5},
	}}
	q := &fakeQueue{}
	r := newTestRouter(es, &fakeConfigStore{configs: map[string]store.TenantConfig{}}, q)

	do := func(id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/events/"+id+"/retry", nil)
		req.Header.Set("X-Api-Key", "key-a")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := do("evt_ok"); w.Code != http.StatusOK {
		t.Fatalf("failed event: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := es.events[key("tenant-a", "evt_ok")]; got.Status != domain.StatusPending || got.Attempts != 3 {
		t.Fatalf("expected PENDING with attempts preserved, got %+v", got)
	}
	if len(q.sent) != 1 {
		t.Fatalf("expected re-enqueue, got %d messages", len(q.sent))
	}

	if w := do("evt_done"); w.Code != http.StatusConflict {
		t.Fatalf("delivered event: expected 409, got %d", w.Code)
	}
	if w := do("evt_worn"); w.Code != http.StatusConflict {
		t.Fatalf("exhausted manual retries: expected 409, got %d", w.Code)
	}
	if w := do("evt_missing"); w.Code != http.StatusConflict {
		t.Fatalf("missing event: expected 409, got %d", w.Code)
	}
}

func TestTenantConfigRoundTripHidesSecret(t *testing.T) {
	cs := &fakeConfigStore{configs: map[string]store.TenantConfig{
		"tenant-a": {TenantID: "tenant-a", TargetURL: "https://old.example.com", WebhookSecret: "s3cret"},
	}}
	r := newTestRouter(&fakeEventStore{events: map[string]domain.Event{}}, cs, &fakeQueue{})

	body := `{"targetUrl":"https://new.example.com"}`
	req := httptest.NewRequest(http.MethodPut, "/v1/tenant/config", strings.NewReader(body))
	req.Header.Set("X-Api-Key", "key-a")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if cs.configs["tenant-a"].WebhookSecret != "s3cret" {
		t.Fatalf("secret clobbered by partial update")
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/tenant/config", nil)
	req.Header.Set("X-Api-Key", "key-a")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "s3cret") {
		t.Fatalf("secret leaked on GET: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "https://new.example.com") {
		t.Fatalf("target url not updated: %s", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPut, "/v1/tenant/config", strings.NewReader(`{}`))
	req.Header.Set("X-Api-Key", "key-a")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty update: expected 400, got %d", w.Code)
	}
}

func TestRetryEnqueueFailureSurfaces(t *testing.T) {
	es := &fakeEventStore{events: map[string]domain.Event{
		key("tenant-a", "evt_1"): {TenantID: "tenant-a", EventID: "evt_1", Status: domain.StatusFailed},
	}}
	q := &fakeQueue{err: errors.New("sqs down")}
	r := newTestRouter(es, &fakeConfigStore{configs: map[string]store.TenantConfig{}}, q)

	req := httptest.NewRequest(http.MethodPost, "/v1/events/evt_1/retry", nil)
	req.Header.Set("X-Api-Key", "key-a")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}
