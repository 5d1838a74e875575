package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pulsecore/internal/adminhttp"
	"pulsecore/internal/aggregator"
	"pulsecore/internal/baseline"
	"pulsecore/internal/bucket"
	"pulsecore/internal/config"
	"pulsecore/internal/dedup"
	"pulsecore/internal/detector"
	"pulsecore/internal/downtime"
	"pulsecore/internal/domain"
	"pulsecore/internal/engine"
	"pulsecore/internal/eventbus"
	"pulsecore/internal/ingest"
	"pulsecore/internal/logging"
	"pulsecore/internal/repository"
	"pulsecore/internal/sink"
	"pulsecore/internal/streamgw"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest, detection, and alerting pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultPath()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to pulsecore.yaml (default: OS config dir)")
	return cmd
}

func runServe(cfg *config.Config) error {
	logger := logging.New(cfg.LogLevel)

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	bucketSt := bucket.New(cfg.BucketMs, 0)
	agg := aggregator.New(bucketSt, logger)
	baselines := baseline.NewStore(baseline.Config{
		WindowBuckets: cfg.BaselineWindowBuckets,
		RocWindow:     cfg.RocWindowBuckets,
		RobustMAD:     cfg.UseRobustMAD,
	})
	det := detector.New(detector.Config{
		ZThreshold:          cfg.ZThreshold,
		MinDataPoints:       cfg.MinDataPoints,
		RateChangeThreshold: cfg.RateChangeThreshold,
		MinRateForRoc:       cfg.MinRateForRoc,
		Cooldown:            cfg.CooldownDuration(),
		ErrorCountThreshold: cfg.ErrorCountThreshold,
		LatencyThresholdMs:  cfg.LatencyThresholdMs,
	}, baselines)

	l1 := openL1Cache(cfg)
	defer l1.Close()
	dd := dedup.New(l1, repo, repo, cfg.DeduplicationWindow())

	bus := eventbus.New()
	sk := sink.New(repo, dd, det, bus, cfg.AlertRetryAttempts, logger)

	var eng *engine.Engine
	dispatcher := ingest.New(agg, func(m domain.Metric) {
		eng.HandleMetric(context.Background(), m)
	}, cfg.NumShards, cfg.MaxQueueDepth, logger)

	watcher := downtime.New(cfg.ServiceDowntime(), cfg.ServiceDowntime()/5, func(c domain.CandidateAlert) {
		eng.HandleDowntimeAlert(context.Background(), c)
	}, logger)

	eng = engine.New(engine.Config{
		BucketStore: bucketSt,
		Dispatcher:  dispatcher,
		Watcher:     watcher,
		Detector:    det,
		Sink:        sk,
		Repo:        repo,
		Bus:         bus,
		Logger:      logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)

	gw := streamgw.New(bus, logger)
	streamSrv := &http.Server{Addr: cfg.StreamGatewayAddr, Handler: gw}
	go func() {
		if err := streamSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log("level", "error", "msg", "stream gateway stopped", "err", err)
		}
	}()

	adminSrv := &http.Server{Addr: cfg.AdminHTTPAddr, Handler: adminhttp.New(eng.Stats)}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log("level", "error", "msg", "admin server stopped", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Log("level", "info", "msg", "shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	adminSrv.Shutdown(shutdownCtx)
	streamSrv.Shutdown(shutdownCtx)
	cancel()
	eng.Stop()

	return nil
}

func openRepository(cfg *config.Config) (repository.Repository, error) {
	switch cfg.RepositoryBackend {
	case config.BackendPostgres:
		return repository.NewPostgres(context.Background(), cfg.PostgresDSN, int32(2*cfg.NumShards))
	default:
		return repository.NewSQLite(cfg.SQLitePath)
	}
}

func openL1Cache(cfg *config.Config) dedup.Cache {
	switch cfg.DedupCacheBackend {
	case config.DedupCacheRedis:
		return dedup.NewRedisCache(cfg.RedisAddr, cfg.L1CacheTTL())
	default:
		return dedup.NewMemCache(cfg.L1CacheTTL())
	}
}
