package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"hookrelay/internal/observability"
	"hookrelay/internal/signature"
	"hookrelay/internal/store"
)

// SecretResolver yields the signing secret for a tenant.
type SecretResolver interface {
	ResolveTenantConfig(ctx context.Context, tenantID string) (store.TenantConfig, bool, error)
}

// SettingsStore persists the global reception toggle.
type SettingsStore interface {
	ReceptionEnabled(ctx context.Context) (bool, error)
	SetReceptionEnabled(ctx context.Context, enabled bool) error
}

// Receiver is the reference consumer side: it verifies inbound signatures the
// way a tenant's endpoint is expected to, and can be switched off globally
// without restarting the process.
type Receiver struct {
	Secrets  SecretResolver
	Settings SettingsStore
	// MaxClockSkew bounds how far the embedded signature timestamp may drift
	// from server time. Zero disables the check.
	MaxClockSkew time.Duration
	Now          func() time.Time
}

func (rc *Receiver) Register(r *mux.Router) {
	r.HandleFunc("/hooks/{tenantId}", rc.handleHook).Methods(http.MethodPost)
}

// RegisterAdmin mounts the toggle endpoints. Mount behind AdminAuth.
func (rc *Receiver) RegisterAdmin(r *mux.Router) {
	r.HandleFunc("/admin/reception", rc.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/admin/reception/enable", rc.setReception(true)).Methods(http.MethodPost)
	r.HandleFunc("/admin/reception/disable", rc.setReception(false)).Methods(http.MethodPost)
}

func (rc *Receiver) now() time.Time {
	if rc.Now != nil {
		return rc.Now()
	}
	return time.Now()
}

func (rc *Receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]

	enabled, err := rc.Settings.ReceptionEnabled(r.Context())
	if err != nil {
		slog.Error("reception state lookup failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !enabled {
		observability.ReceiverEvents.WithLabelValues("disabled").Inc()
		http.Error(w, ErrReceptionOff, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "unable to read body", http.StatusBadRequest)
		return
	}

	cfg, ok, err := rc.Secrets.ResolveTenantConfig(r.Context(), tenantID)
	if err != nil {
		slog.Error("tenant config lookup failed", "tenantId", tenantID, "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !ok {
		observability.ReceiverEvents.WithLabelValues("unknown_tenant").Inc()
		http.Error(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}

	header := r.Header.Get(signature.Header)
	if !signature.Verify(body, header, cfg.WebhookSecret) {
		observability.ReceiverEvents.WithLabelValues("bad_signature").Inc()
		slog.Warn("signature verification failed", "tenantId", tenantID)
		http.Error(w, ErrInvalidSignature, http.StatusUnauthorized)
		return
	}

	if rc.MaxClockSkew > 0 {
		ts, ok := signature.Timestamp(header)
		if !ok {
			http.Error(w, ErrInvalidSignature, http.StatusUnauthorized)
			return
		}
		if drift := rc.now().Sub(ts); drift > rc.MaxClockSkew || drift < -rc.MaxClockSkew {
			observability.ReceiverEvents.WithLabelValues("stale_signature").Inc()
			http.Error(w, ErrInvalidSignature, http.StatusUnauthorized)
			return
		}
	}

	observability.ReceiverEvents.WithLabelValues("accepted").Inc()
	slog.Info("webhook accepted", "tenantId", tenantID, "bytes", len(body))
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (rc *Receiver) handleStatus(w http.ResponseWriter, r *http.Request) {
	enabled, err := rc.Settings.ReceptionEnabled(r.Context())
	if err != nil {
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"receptionEnabled": enabled})
}

func (rc *Receiver) setReception(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Settings.SetReceptionEnabled(r.Context(), enabled); err != nil {
			slog.Error("reception toggle failed", "enabled", enabled, "err", err)
			http.Error(w, ErrDependency, http.StatusBadGateway)
			return
		}
		slog.Info("reception toggled", "enabled", enabled)
		writeJSON(w, http.StatusOK, map[string]bool{"receptionEnabled": enabled})
	}
}
