package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"courier/features/backlog"
	"courier/features/delivery"
	"courier/features/stats"
	"courier/internal/config"
	"courier/internal/dispatch"
	"courier/internal/middleware"
	"courier/internal/payload"
	"courier/internal/ratelimit"
	"courier/internal/recovery"
	"courier/internal/worker"
)

const (
	janitorInterval = time.Hour
	signalBuffer    = 16
	shutdownTimeout = 10 * time.Second
)

// QueueStore is the durable queue as the app uses it.
type QueueStore interface {
	worker.Queue
	recovery.Store
	Length(ctx context.Context) (int64, error)
}

type App struct {
	Handler    http.Handler
	Limiter    *ratelimit.Limiter
	Scheduler  *worker.Scheduler
	Recovery   *recovery.Procedure
	Ingest     *worker.IngestConsumer
	Deliveries *delivery.Service

	cfg     *config.Config
	signals chan dispatch.BlockSignal
	logger  *slog.Logger
}

func New(cfg *config.Config, db *sql.DB, store QueueStore, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Feature: Delivery records
	deliveryRepo := delivery.NewPostgresRepo(db)
	deliveryService := delivery.NewService(deliveryRepo, cfg.RecordRetention())
	deliveryHandler := delivery.NewHandler(deliveryService)

	// Dispatch pipeline
	signals := make(chan dispatch.BlockSignal, signalBuffer)
	dispatcher := dispatch.NewHTTPDispatcher(dispatch.Config{
		AuthHeader:              cfg.DownstreamAuth,
		Timeout:                 cfg.DispatchTimeout(),
		InvalidRequestThreshold: cfg.InvalidRequestThreshold,
		InvalidRequestWindow:    cfg.InvalidRequestWindow(),
	}, signals, dispatch.WithLogger(logger.With("component", "dispatch")))

	deliverer := worker.NewDeliverer(dispatcher, store, deliveryService, cfg.DownstreamAPIBase)
	limiter := ratelimit.New(ratelimit.Config{
		Interval:               cfg.RateInterval(),
		IntervalCap:            cfg.RateIntervalCap,
		MaxConcurrency:         cfg.MaxConcurrency,
		BackpressureMultiplier: cfg.BackpressureMultiplier,
	}, deliverer.Deliver, ratelimit.WithLogger(logger.With("component", "ratelimit")))

	scheduler := worker.NewScheduler(store, limiter, cfg.DequeueBatchSize, cfg.DequeueInterval())
	proc := recovery.New(store, limiter, logger.With("component", "recovery"))
	ingest := worker.NewIngestConsumer(payload.NewValidator(cfg.Token), store)

	// Feature: Backlog & Stats
	backlogHandler := backlog.NewHandler(store)
	statsHandler := stats.NewHandler(store, deliveryService, limiter)

	// Routes
	mux := http.NewServeMux()

	mux.Handle("GET /backlog", middleware.CorrelationID(http.HandlerFunc(backlogHandler.List)))
	mux.Handle("GET /backlog/distribution", middleware.CorrelationID(http.HandlerFunc(backlogHandler.Distribution)))
	mux.Handle("GET /stats", middleware.CorrelationID(http.HandlerFunc(statsHandler.GetStats)))
	mux.Handle("GET /deliveries/failed", middleware.CorrelationID(http.HandlerFunc(deliveryHandler.ListFailed)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:    mux,
		Limiter:    limiter,
		Scheduler:  scheduler,
		Recovery:   proc,
		Ingest:     ingest,
		Deliveries: deliveryService,
		cfg:        cfg,
		signals:    signals,
		logger:     logger,
	}, nil
}

// Run recovers outstanding jobs, then starts dispatching, ingestion and the
// HTTP server. Ingestion is attached only after recovery has re-admitted
// every outstanding job. Run returns once in-flight dispatches have finished.
func (a *App) Run(ctx context.Context, in Ingestion) error {
	res, err := a.Recovery.Run(ctx)
	if err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}
	a.logger.InfoContext(ctx, "recovered outstanding jobs", "readmitted", res.Readmitted, "purged", res.Purged)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Limiter.Run(gctx, a.signals) })
	g.Go(func() error { return a.Scheduler.Run(gctx) })
	g.Go(func() error { return a.Deliveries.RunJanitor(gctx, janitorInterval) })

	if in != nil {
		if err := in.Start(a.Ingest); err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			in.Stop()
			return nil
		})
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server...")
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info("server starting", "port", a.cfg.ServerPort)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	return g.Wait()
}
