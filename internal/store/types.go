package store

import (
	"errors"
	"time"
)

// ErrInvalidPageToken reports an unusable list cursor.
var ErrInvalidPageToken = errors.New("invalid page token")

// TenantIdentity is the authentication-side record: api key to tenant
// mapping. It deliberately carries no delivery secrets, so the auth path
// never has access to them.
type TenantIdentity struct {
	TenantID string
	IsActive bool
	Plan     string
}

// TenantConfig is the delivery-side record, stored separately from identity.
type TenantConfig struct {
	TenantID      string
	TargetURL     string
	WebhookSecret string
	LastUpdated   time.Time
}

type EventInsert struct {
	TenantID  string
	EventID   string
	Payload   []byte
	TargetURL string
	Now       time.Time
	TTL       time.Duration
}

type StatusUpdate struct {
	TenantID     string
	EventID      string
	Status       string
	Attempts     int
	ErrorMessage string
	Now          time.Time
}

type ListQuery struct {
	TenantID  string
	Status    string // empty = all statuses
	Limit     int    // capped at MaxListLimit
	PageToken string
}

type ConfigUpdate struct {
	TenantID      string
	TargetURL     string // empty = unchanged
	WebhookSecret string // empty = unchanged
	Now           time.Time
}

// MaxListLimit caps a single list page.
const MaxListLimit = 100

// DefaultEventTTL keeps delivered and failed events around for audit before
// storage reclamation.
const DefaultEventTTL = 365 * 24 * time.Hour
