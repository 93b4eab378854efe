package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hookrelay/internal/awsutil"
	"hookrelay/internal/config"
	"hookrelay/internal/dlq"
	"hookrelay/internal/httpapi"
	"hookrelay/internal/httpserver"
	"hookrelay/internal/logging"
	"hookrelay/internal/observability"
	sqsqueue "hookrelay/internal/queue/sqs"
	"hookrelay/internal/service"
	"hookrelay/internal/store/pg"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{})
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("api sqs client init failed", "err", err)
		os.Exit(1)
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}
	if _, err := sqsClient.GetQueueAttributes(startupCtx, &awssqs.GetQueueAttributesInput{
		QueueUrl:       &cfg.EventsQueueURL,
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	}); err != nil {
		slog.Error("sqs not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	st := pg.New(db)
	producer := &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.EventsQueueURL}

	svc := &service.EventService{
		Store:            st,
		Config:           st,
		Queue:            producer,
		MaxManualRetries: cfg.MaxManualRetries,
	}

	r := mux.NewRouter()
	r.Use(httpserver.Metrics(observability.APIRequests))

	tenant := r.NewRoute().Subrouter()
	tenant.Use(httpserver.TenantAuth(st))
	(&httpserver.API{Svc: svc}).Register(tenant)

	admin := r.NewRoute().Subrouter()
	admin.Use(httpserver.AdminAuth(cfg.AdminToken))
	(&httpserver.Admin{DLQ: &dlq.Manager{
		SQS:          sqsClient,
		DLQURL:       cfg.EventsDLQURL,
		MainQueueURL: cfg.EventsQueueURL,
		Store:        st,
	}}).Register(admin)

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
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}
}
