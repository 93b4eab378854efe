package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hookrelay/internal/config"
	"hookrelay/internal/httpapi"
	"hookrelay/internal/httpserver"
	"hookrelay/internal/logging"
	"hookrelay/internal/observability"
	"hookrelay/internal/store/pg"
)

func main() {
	cfg := config.LoadReceiver()
	logging.Init("receiver", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{})
	if err != nil {
		slog.Error("receiver db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	st := pg.New(db)
	rc := &httpserver.Receiver{
		Secrets:      st,
		Settings:     st,
		MaxClockSkew: time.Duration(cfg.MaxClockSkewSeconds) * time.Second,
	}

	r := mux.NewRouter()
	rc.Register(r)

	admin := r.NewRoute().Subrouter()
	admin.Use(httpserver.AdminAuth(cfg.AdminToken))
	rc.RegisterAdmin(admin)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", httpapi.Healthz())
	r.HandleFunc("/readyz", httpapi.Readyz(2*time.Second, func(c context.Context) error {
		return db.Ping(c)
	}))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpapi.Logging(r),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("receiver shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("receiver listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("receiver server failed", "err", err)
		os.Exit(1)
	}
}
