package httpserver

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"hookrelay/internal/store"
)

type ctxKey int

const tenantKey ctxKey = iota

// IdentityStore proves who is calling. It deliberately cannot return
// delivery secrets; config resolution is a separate contract.
type IdentityStore interface {
	GetTenantByAPIKey(ctx context.Context, apiKey string) (store.TenantIdentity, bool, error)
}

// TenantID returns the authenticated tenant from the request context.
func TenantID(r *http.Request) string {
	v, _ := r.Context().Value(tenantKey).(string)
	return v
}

// TenantAuth authenticates via `Authorization: Bearer <key>` or `X-Api-Key`
// and stashes the tenant id in the request context.
func TenantAuth(ids IdentityStore) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := apiKey(r)
			if key == "" {
				http.Error(w, ErrUnauthorized, http.StatusUnauthorized)
				return
			}
			id, found, err := ids.GetTenantByAPIKey(r.Context(), key)
			if err != nil {
				http.Error(w, ErrDependency, http.StatusBadGateway)
				return
			}
			if !found || !id.IsActive {
				http.Error(w, ErrUnauthorized, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), tenantKey, id.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuth guards the operator surface with a static token, separate from
// tenant keys.
func AdminAuth(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Admin-Token")
			if provided == "" {
				provided = bearerToken(r)
			}
			if token == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				http.Error(w, ErrUnauthorized, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func apiKey(r *http.Request) string {
	if k := r.Header.Get("X-Api-Key"); k != "" {
		return k
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func Metrics(counter *prometheus.CounterVec) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			counter.WithLabelValues(routeLabel(r), strconv.Itoa(sw.status)).Inc()
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func routeLabel(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return r.URL.Path
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return r.URL.Path
	}
	return tpl
}
