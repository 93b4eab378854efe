package pg

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hookrelay/internal/domain"
	"hookrelay/internal/store"
	"hookrelay/internal/util"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) InsertEvent(ctx context.Context, in store.EventInsert) error {
	ttl := in.TTL
	if ttl <= 0 {
		ttl = store.DefaultEventTTL
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO events (tenant_id, event_id, status, payload, target_url, attempts, manual_retries, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,0,0,$6,$7)
	`, in.TenantID, in.EventID, string(domain.StatusPending), in.Payload, in.TargetURL, in.Now, in.Now.Add(ttl))
	return err
}

func (s *Store) GetEvent(ctx context.Context, tenantID, eventID string) (domain.Event, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT tenant_id, event_id, status, payload, target_url, attempts, manual_retries,
		       created_at, last_attempt_at, COALESCE(error_message,''), expires_at
		FROM events WHERE tenant_id=$1 AND event_id=$2
	`, tenantID, eventID)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, false, nil
		}
		return domain.Event{}, false, err
	}
	return ev, true, nil
}

// ListEvents pages newest-first. The tenant filter is always part of the
// predicate, including on the status index, so one tenant can never see
// another tenant's events.
func (s *Store) ListEvents(ctx context.Context, q store.ListQuery) ([]domain.Event, string, error) {
	limit := q.Limit
	if limit <= 0 || limit > store.MaxListLimit {
		limit = store.MaxListLimit
	}

	cursorAt, cursorID, err := decodePageToken(q.PageToken)
	if err != nil {
		return nil, "", err
	}

	args := []any{q.TenantID}
	sql := `
		SELECT tenant_id, event_id, status, payload, target_url, attempts, manual_retries,
		       created_at, last_attempt_at, COALESCE(error_message,''), expires_at
		FROM events WHERE tenant_id=$1`
	if q.Status != "" {
		args = append(args, q.Status)
		sql += ` AND status=$2`
	}
	if !cursorAt.IsZero() {
		args = append(args, cursorAt, cursorID)
		n := len(args)
		sql += ` AND (created_at, event_id) < ($` + strconv.Itoa(n-1) + `,$` + strconv.Itoa(n) + `)`
	}
	args = append(args, limit+1)
	sql += ` ORDER BY created_at DESC, event_id DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(out) > limit {
		out = out[:limit]
		last := out[len(out)-1]
		next = encodePageToken(last.CreatedAt, last.EventID)
	}
	return out, next, nil
}

// UpdateDeliveryStatus is the worker's unconditional progress write: status,
// attempts and lastAttemptAt always move, errorMessage is set on failure and
// cleared on success.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, in store.StatusUpdate) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE events SET status=$3, attempts=$4, last_attempt_at=$5, error_message=$6
		WHERE tenant_id=$1 AND event_id=$2
	`, in.TenantID, in.EventID, in.Status, in.Attempts, in.Now, nullIfEmpty(in.ErrorMessage))
	return err
}

// ResetForRetry moves a FAILED event back to PENDING for a manual retry.
// Attempts are preserved so the delivery ceiling stays meaningful; the
// manual retry counter tracks operator actions separately. Returns false
// without error when the event is not currently FAILED.
func (s *Store) ResetForRetry(ctx context.Context, tenantID, eventID string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE events
		SET status=$3, error_message=NULL, manual_retries=manual_retries+1
		WHERE tenant_id=$1 AND event_id=$2 AND status=$4
	`, tenantID, eventID, string(domain.StatusPending), string(domain.StatusFailed))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) MarkPurged(ctx context.Context, tenantID, eventID string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE events SET status=$3 WHERE tenant_id=$1 AND event_id=$2
	`, tenantID, eventID, string(domain.StatusPurged))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) GetTenantByAPIKey(ctx context.Context, apiKey string) (store.TenantIdentity, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT tenant_id, is_active, COALESCE(plan,'free')
		FROM tenant_identities WHERE api_key=$1
	`, apiKey)
	var id store.TenantIdentity
	if err := row.Scan(&id.TenantID, &id.IsActive, &id.Plan); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.TenantIdentity{}, false, nil
		}
		return store.TenantIdentity{}, false, err
	}
	return id, true, nil
}

func (s *Store) ResolveTenantConfig(ctx context.Context, tenantID string) (store.TenantConfig, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT tenant_id, target_url, webhook_secret, last_updated
		FROM tenant_configs WHERE tenant_id=$1
	`, tenantID)
	var cfg store.TenantConfig
	if err := row.Scan(&cfg.TenantID, &cfg.TargetURL, &cfg.WebhookSecret, &cfg.LastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.TenantConfig{}, false, nil
		}
		return store.TenantConfig{}, false, err
	}
	return cfg, true, nil
}

func (s *Store) UpdateTenantConfig(ctx context.Context, in store.ConfigUpdate) (store.TenantConfig, bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE tenant_configs
		SET target_url = COALESCE(NULLIF($2,''), target_url),
		    webhook_secret = COALESCE(NULLIF($3,''), webhook_secret),
		    last_updated = $4
		WHERE tenant_id=$1
	`, in.TenantID, in.TargetURL, in.WebhookSecret, in.Now)
	if err != nil {
		return store.TenantConfig{}, false, err
	}
	if ct.RowsAffected() == 0 {
		return store.TenantConfig{}, false, nil
	}
	return s.ResolveTenantConfig(ctx, in.TenantID)
}

// ReceptionEnabled reads the global webhook-reception toggle. Missing row
// means enabled; reception is on by default.
func (s *Store) ReceptionEnabled(ctx context.Context) (bool, error) {
	row := s.DB.QueryRow(ctx, `SELECT value FROM runtime_settings WHERE name=$1`, receptionSetting)
	var v bool
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		return true, err
	}
	return v, nil
}

func (s *Store) SetReceptionEnabled(ctx context.Context, enabled bool) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO runtime_settings (name, value, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (name) DO UPDATE SET value=$2, updated_at=$3
	`, receptionSetting, enabled, util.NowUTC())
	return err
}

const receptionSetting = "webhook_reception_enabled"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (domain.Event, error) {
	var ev domain.Event
	var payload []byte
	var lastAttempt *time.Time
	err := row.Scan(&ev.TenantID, &ev.EventID, &ev.Status, &payload, &ev.TargetURL,
		&ev.Attempts, &ev.ManualRetries, &ev.CreatedAt, &lastAttempt, &ev.ErrorMessage, &ev.ExpiresAt)
	if err != nil {
		return domain.Event{}, err
	}
	ev.Payload = json.RawMessage(payload)
	ev.LastAttemptAt = lastAttempt
	return ev, nil
}

type pageCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	EventID   string    `json:"eventId"`
}

func encodePageToken(createdAt time.Time, eventID string) string {
	b, _ := json.Marshal(pageCursor{CreatedAt: createdAt, EventID: eventID})
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodePageToken(token string) (time.Time, string, error) {
	if token == "" {
		return time.Time{}, "", nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", store.ErrInvalidPageToken
	}
	var c pageCursor
	if err := json.Unmarshal(b, &c); err != nil {
		return time.Time{}, "", store.ErrInvalidPageToken
	}
	return c.CreatedAt, c.EventID, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

