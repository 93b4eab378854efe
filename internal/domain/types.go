package domain

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

type EventStatus string

const (
	StatusPending   EventStatus = "PENDING"
	StatusDelivered EventStatus = "DELIVERED"
	StatusFailed    EventStatus = "FAILED"
	StatusPurged    EventStatus = "PURGED"
)

// ValidStatus reports whether s is one of the known delivery statuses.
func ValidStatus(s string) bool {
	switch EventStatus(s) {
	case StatusPending, StatusDelivered, StatusFailed, StatusPurged:
		return true
	}
	return false
}

// Event is one webhook delivery unit. Payload is tenant-supplied and opaque;
// it is stored verbatim and round-tripped byte-for-byte at delivery time.
// TargetURL is snapshotted at creation and never re-resolved mid-chain.
type Event struct {
	TenantID      string          `json:"tenantId"`
	EventID       string          `json:"eventId"`
	Status        EventStatus     `json:"status"`
	Payload       json.RawMessage `json:"payload"`
	TargetURL     string          `json:"targetUrl"`
	Attempts      int             `json:"attempts"`
	ManualRetries int             `json:"manualRetries"`
	CreatedAt     time.Time       `json:"-"`
	LastAttemptAt *time.Time      `json:"lastAttemptAt,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	ExpiresAt     time.Time       `json:"-"`
}

// CreatedAtSeconds is the wire encoding of the creation time: string unix
// seconds, which sorts correctly as a plain string key.
func (e Event) CreatedAtSeconds() string {
	return formatUnix(e.CreatedAt)
}

func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(struct {
		alias
		CreatedAt string `json:"createdAt"`
	}{alias(e), e.CreatedAtSeconds()})
}

type IngestResponse struct {
	EventID string `json:"eventId"`
	Status  string `json:"status"`
}

type ListEventsResponse struct {
	Events        []Event `json:"events"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

type RetryResponse struct {
	EventID string `json:"eventId"`
	Status  string `json:"status"`
}

type TenantConfigUpdate struct {
	TargetURL     string `json:"targetUrl,omitempty"`
	WebhookSecret string `json:"webhookSecret,omitempty"`
}

func (u TenantConfigUpdate) Validate() error {
	if u.TargetURL == "" && u.WebhookSecret == "" {
		return ErrNoConfigFields
	}
	return nil
}

type RequeueRequest struct {
	BatchSize   int `json:"batchSize"`
	MaxMessages int `json:"maxMessages"`
}

type RequeueResponse struct {
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
}

type PurgeResponse struct {
	Purged     int    `json:"purged"`
	Reconciled int    `json:"reconciled"`
	Failed     int    `json:"failed"`
	QueueURL   string `json:"queueUrl"`
}

var (
	ErrNoConfigFields = errors.New("at least one config field must be set")
	ErrNotRetryable   = errors.New("event is not in a retryable state")
	ErrRetryExhausted = errors.New("manual retry limit reached, use dead-letter tooling")
)

func formatUnix(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}
