package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"hookrelay/internal/dlq"
	"hookrelay/internal/domain"
)

// DLQManager is the operator-side dead-letter contract.
type DLQManager interface {
	Inspect(ctx context.Context, limit int) ([]dlq.Entry, error)
	Requeue(ctx context.Context, batchSize, maxMessages int) (requeued, failed int, err error)
	Purge(ctx context.Context) (dlq.PurgeReport, error)
}

// Admin exposes the dead-letter operator surface. Mount behind AdminAuth.
type Admin struct {
	DLQ DLQManager
}

func (a *Admin) Register(r *mux.Router) {
	r.HandleFunc("/v1/admin/dlq", a.handleInspect).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin/dlq/requeue", a.handleRequeue).Methods(http.MethodPost)
	r.HandleFunc("/v1/admin/dlq/purge", a.handlePurge).Methods(http.MethodPost)
}

func (a *Admin) handleInspect(w http.ResponseWriter, r *http.Request) {
	limit := dlq.InspectLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := a.DLQ.Inspect(r.Context(), limit)
	if err != nil {
		slog.Error("dlq inspect failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": entries})
}

func (a *Admin) handleRequeue(w http.ResponseWriter, r *http.Request) {
	var req domain.RequeueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}

	requeued, failed, err := a.DLQ.Requeue(r.Context(), req.BatchSize, req.MaxMessages)
	if err != nil {
		slog.Error("dlq requeue failed", "err", err, "requeued", requeued, "failed", failed)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, domain.RequeueResponse{Requeued: requeued, Failed: failed})
}

func (a *Admin) handlePurge(w http.ResponseWriter, r *http.Request) {
	report, err := a.DLQ.Purge(r.Context())
	if err != nil {
		slog.Error("dlq purge failed", "err", err, "drained", report.Drained)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, domain.PurgeResponse{
		Purged:     report.Drained,
		Reconciled: report.Reconciled,
		Failed:     report.Failed,
		QueueURL:   report.QueueURL,
	})
}
