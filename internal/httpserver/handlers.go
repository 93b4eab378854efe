package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"hookrelay/internal/domain"
	"hookrelay/internal/service"
	"hookrelay/internal/store"
	"hookrelay/internal/util"
)

// maxPayloadBytes keeps tenant payloads under the queue-friendly ceiling.
const maxPayloadBytes = 256 * 1024

type API struct {
	Svc *service.EventService
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/v1/events", a.handleIngest).Methods(http.MethodPost)
	r.HandleFunc("/v1/events", a.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/events/{id}", a.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/v1/events/{id}/retry", a.handleRetry).Methods(http.MethodPost)
	r.HandleFunc("/v1/tenant/config", a.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/v1/tenant/config", a.handleUpdateConfig).Methods(http.MethodPut)
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantID(r)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if len(payload) > maxPayloadBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	if !json.Valid(payload) {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}

	resp, err := a.Svc.CreateAndEnqueue(r.Context(), tenantID, payload)
	if err != nil {
		if errors.Is(err, service.ErrTenantNotConfigured) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		slog.Error("ingest failed", "err", err, "tenant_id", tenantID)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantID(r)

	q := store.ListQuery{
		TenantID:  tenantID,
		Status:    r.URL.Query().Get("status"),
		PageToken: r.URL.Query().Get("pageToken"),
	}
	if q.Status != "" && !domain.ValidStatus(q.Status) {
		http.Error(w, ErrInvalidStatus, http.StatusBadRequest)
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		q.Limit = n
	}

	resp, err := a.Svc.ListEvents(r.Context(), q)
	if err != nil {
		if errors.Is(err, store.ErrInvalidPageToken) {
			http.Error(w, ErrInvalidPageToken, http.StatusBadRequest)
			return
		}
		slog.Error("list events failed", "err", err, "tenant_id", tenantID)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantID(r)
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}

	ev, found, err := a.Svc.GetEvent(r.Context(), tenantID, id)
	if err != nil {
		slog.Error("get event failed", "err", err, "tenant_id", tenantID, "event_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (a *API) handleRetry(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantID(r)
	id := mux.Vars(r)["id"]

	resp, err := a.Svc.RetryEvent(r.Context(), tenantID, id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRetryExhausted):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, domain.ErrNotRetryable):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			slog.Error("retry failed", "err", err, "tenant_id", tenantID, "event_id", id)
			http.Error(w, ErrDependency, http.StatusBadGateway)
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantID(r)

	cfg, found, err := a.Svc.GetTenantConfig(r.Context(), tenantID)
	if err != nil {
		slog.Error("get tenant config failed", "err", err, "tenant_id", tenantID)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	// The secret is write-only through this surface.
	writeJSON(w, http.StatusOK, map[string]string{
		"tenantId":    cfg.TenantID,
		"targetUrl":   cfg.TargetURL,
		"lastUpdated": strconv.FormatInt(cfg.LastUpdated.Unix(), 10),
	})
}

func (a *API) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantID(r)

	var req domain.TenantConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg, found, err := a.Svc.UpdateTenantConfig(r.Context(), store.ConfigUpdate{
		TenantID:      tenantID,
		TargetURL:     req.TargetURL,
		WebhookSecret: req.WebhookSecret,
		Now:           util.NowUTC(),
	})
	if err != nil {
		slog.Error("update tenant config failed", "err", err, "tenant_id", tenantID)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"tenantId":    cfg.TenantID,
		"targetUrl":   cfg.TargetURL,
		"lastUpdated": strconv.FormatInt(cfg.LastUpdated.Unix(), 10),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
