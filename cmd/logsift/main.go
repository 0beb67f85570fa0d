package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"logsift/internal/alert"
	"logsift/internal/config"
	"logsift/internal/indexmap"
	"logsift/internal/kafka"
	"logsift/internal/logparse"
	"logsift/internal/pipeline"
	"logsift/internal/storage"
	"logsift/internal/storage/elastic"
	"logsift/internal/storage/postgres"
	"logsift/internal/tenant"
)

func main() {
	root := &cobra.Command{
		Use:          "logsift",
		Short:        "Multi-tenant log ingestion pipeline",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion pipeline",
		RunE:  runService,
	}

	runCmd.Flags().String("brokers", "", "kafka bootstrap servers (comma-separated)")
	runCmd.Flags().String("tenants", "", "tenant identifiers (comma-separated)")
	runCmd.Flags().Int("concurrency", 3, "consumer workers per tenant")
	runCmd.Flags().Int("queue-capacity", 100000, "ingestion queue capacity")
	runCmd.Flags().Duration("enqueue-wait", 50*time.Millisecond, "bounded wait before dropping an entry")
	runCmd.Flags().Duration("flush-interval", 500*time.Millisecond, "flush timer period")
	runCmd.Flags().Int("drain-max", 1000, "entries drained per flush cycle")
	runCmd.Flags().Duration("shutdown-grace", 5*time.Second, "grace period for the final flush cycle")
	runCmd.Flags().Float64("backpressure-ratio", 0.9, "queue occupancy triggering intake pause")
	runCmd.Flags().Duration("backpressure-pause", 500*time.Millisecond, "intake pause under queue pressure")
	runCmd.Flags().String("elastic-url", "http://localhost:9200", "search storage base URL")
	runCmd.Flags().String("elastic-username", "", "search storage username")
	runCmd.Flags().String("elastic-password", "", "search storage password")
	runCmd.Flags().String("admin-url", "", "log admin base URL for topic-index overrides")
	runCmd.Flags().Duration("index-map-refresh", 5*time.Minute, "topic-index map refresh period")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN for the relational archive")
	runCmd.Flags().Bool("archive", false, "enable the relational archive")
	runCmd.Flags().Bool("host-lookup", false, "stamp entries with host name and IP")
	runCmd.Flags().String("log-pattern", "", "override for the line parse pattern")
	runCmd.Flags().String("sasl-username", "", "kafka SASL username")
	runCmd.Flags().String("sasl-password", "", "kafka SASL password")
	runCmd.Flags().String("sasl-mechanism", "", "kafka SASL mechanism (SCRAM-SHA-256 or SCRAM-SHA-512)")
	runCmd.Flags().Bool("alert-enabled", false, "enable the error-rate alert monitor")
	runCmd.Flags().String("alert-index", "", "index the alert monitor queries")
	runCmd.Flags().Int("alert-window-minutes", 10, "alert trailing window in minutes")
	runCmd.Flags().Int64("alert-threshold", 100, "error count firing the alert")
	runCmd.Flags().String("alert-webhook-url", "", "webhook notified on alert")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	parseCmd := &cobra.Command{
		Use:   "parse",
		Short: "Parse a log file offline into JSONL",
		RunE:  runParse,
	}

	parseCmd.Flags().String("in", "", "input log file")
	parseCmd.Flags().String("out", "./data/parsed_logs.jsonl", "output JSONL path")
	parseCmd.Flags().Int("batch-size", 500, "entries per output batch")
	parseCmd.Flags().String("log-pattern", "", "override for the line parse pattern")
	parseCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(parseCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runService(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("broker list is required")
	}
	tenants := cfg.Tenants
	if len(tenants) == 0 {
		return fmt.Errorf("tenant list is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sasl := kafka.SASLConfig{
		Username:  cfg.SASLUsername,
		Password:  cfg.SASLPassword,
		Mechanism: cfg.SASLMechanism,
	}

	admin, err := kafka.NewAdminClient(cfg.Brokers, sasl)
	if err != nil {
		return fmt.Errorf("connect kafka admin: %w", err)
	}
	defer admin.Close()

	esClient := elastic.NewClient(cfg.ElasticURL, cfg.ElasticUsername, cfg.ElasticPassword, 30*time.Second)

	var archive storage.Archiver
	if cfg.Archive {
		store, err := postgres.NewStore(ctx, cfg.PgDSN)
		if err != nil {
			return fmt.Errorf("connect archive: %w", err)
		}
		defer store.Close()
		archive = store
	}

	queue := pipeline.NewQueue(cfg.QueueCapacity, cfg.EnqueueWait)
	parser := logparse.New(cfg.LogPattern)

	var fetcher indexmap.Fetcher
	if cfg.AdminURL != "" {
		fetcher = indexmap.NewHTTPFetcher(cfg.AdminURL, 10*time.Second)
	}
	cache := indexmap.NewCache(fetcher, logger)

	var background sync.WaitGroup
	if fetcher != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			cache.Run(ctx, cfg.IndexMapRefresh)
		}()
	}

	flusher := pipeline.NewFlusher(pipeline.FlusherConfig{
		Interval:      cfg.FlushInterval,
		DrainMax:      cfg.DrainMax,
		ShutdownGrace: cfg.ShutdownGrace,
	}, queue, esClient, archive, logger)

	background.Add(1)
	go func() {
		defer background.Done()
		flusher.Run(ctx)
	}()

	if cfg.AlertEnabled {
		if cfg.AlertIndex == "" {
			logger.Warn("alert monitor enabled without an index, skipping")
		} else {
			monitor := alert.NewMonitor(alert.Config{
				Index:         cfg.AlertIndex,
				WindowMinutes: cfg.AlertWindowMinutes,
				Threshold:     cfg.AlertThreshold,
				WebhookURL:    cfg.AlertWebhookURL,
			}, esClient, logger)

			background.Add(1)
			go func() {
				defer background.Done()
				monitor.Run(ctx)
			}()
		}
	}

	service := pipeline.NewService(pipeline.ServiceConfig{
		Brokers:           cfg.Brokers,
		Tenants:           tenants,
		Concurrency:       cfg.Concurrency,
		BackpressureRatio: cfg.BackpressureRatio,
		BackpressurePause: cfg.BackpressurePause,
		HostLookup:        cfg.HostLookup,
		SASL:              sasl,
	}, tenant.NewResolver(admin), parser, queue, cache, logger)

	if err := service.Start(ctx); err != nil {
		return err
	}

	logger.Info("pipeline started",
		zap.Strings("brokers", cfg.Brokers),
		zap.Strings("tenants", tenants),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Int("queue_capacity", cfg.QueueCapacity),
		zap.Duration("flush_interval", cfg.FlushInterval),
		zap.Bool("archive", cfg.Archive),
		zap.Bool("alert_enabled", cfg.AlertEnabled),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	service.Wait()
	background.Wait()

	logger.Info("pipeline stopped", zap.Int64("dropped_entries", queue.Dropped()))
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
