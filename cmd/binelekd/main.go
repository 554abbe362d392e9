// Package main implements the entry point for binelekd, the knowledge-graph
// core service. It consumes enrichment requests and pipeline completion
// events, maintains the tenant-scoped entity graph, and serves Prometheus
// metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/k5tuck/binelek-core-sub001/classify"
	"github.com/k5tuck/binelek-core-sub001/config"
	"github.com/k5tuck/binelek-core-sub001/consumer"
	"github.com/k5tuck/binelek-core-sub001/enrichment"
	"github.com/k5tuck/binelek-core-sub001/metric"
	"github.com/k5tuck/binelek-core-sub001/natsclient"
	"github.com/k5tuck/binelek-core-sub001/pipeline"
	"github.com/k5tuck/binelek-core-sub001/schemaevo"
	"github.com/k5tuck/binelek-core-sub001/store"
)

const (
	// Version is stamped at build time in release pipelines.
	Version = "0.1.0"
	appName = "binelekd"

	connectTimeout  = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

type cliConfig struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool

	// Administrative view generation mode. When changesPath is set the
	// process generates compatibility views, archives them, and exits.
	changesPath string
	tenantID    string
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cli := parseFlags()
	if cli.showVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	// A missing .env file is fine; explicit env vars still apply.
	_ = godotenv.Load()

	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return err
	}

	logLevel := cfg.Service.LogLevel
	if cli.logLevel != "" {
		logLevel = cli.logLevel
	}
	logger := setupLogger(logLevel, cli.logFormat)
	slog.SetDefault(logger)

	logger.Info("starting binelekd",
		"version", Version,
		"environment", cfg.Service.Environment,
		"config_path", cli.configPath)

	if cli.changesPath != "" {
		return generateViews(cfg, logger, cli.changesPath, cli.tenantID)
	}

	return runService(cfg, logger)
}

func parseFlags() *cliConfig {
	cli := &cliConfig{}
	flag.StringVar(&cli.configPath, "config", "", "path to YAML config file")
	flag.StringVar(&cli.logLevel, "log-level", "", "log level override (debug|info|warn|error)")
	flag.StringVar(&cli.logFormat, "log-format", "json", "log format (json|text)")
	flag.BoolVar(&cli.showVersion, "version", false, "print version and exit")
	flag.StringVar(&cli.changesPath, "generate-views", "",
		"path to YAML ontology changes; generates compatibility views and exits")
	flag.StringVar(&cli.tenantID, "tenant", "", "tenant id for view generation")
	flag.Parse()
	return cli
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func runService(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	driver, err := store.NewNeo4jDriver(connectCtx,
		cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := driver.Close(closeCtx); err != nil {
			logger.Error("failed to close graph driver", "error", err)
		}
	}()

	if err := driver.BuildIndices(connectCtx); err != nil {
		return err
	}

	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()

	client, err := connectNATS(connectCtx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Error("failed to close NATS client", "error", err)
		}
	}()

	consumers, err := buildConsumers(cfg, logger, metrics, client, driver)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		group.Go(func() error {
			logger.Info("metrics server listening", "address", metricsServer.Address())
			return metricsServer.Start()
		})
	}

	for _, c := range consumers {
		if err := c.Initialize(); err != nil {
			return err
		}
		if err := c.Start(groupCtx); err != nil {
			return err
		}
	}

	logger.Info("service started", "consumers", len(consumers))

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received")

		for _, c := range consumers {
			if err := c.Stop(shutdownTimeout); err != nil {
				logger.Error("consumer stop failed", "consumer", c.Name(), "error", err)
			}
		}

		if metricsServer != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := metricsServer.Stop(stopCtx); err != nil {
				logger.Error("metrics server stop failed", "error", err)
			}
		}
		return nil
	})

	err = group.Wait()
	if err != nil && ctx.Err() != nil {
		// Errors raced with shutdown are expected teardown noise.
		logger.Debug("shutdown race", "error", err)
		err = nil
	}
	logger.Info("service stopped")
	return err
}

func connectNATS(
	ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *metric.Metrics,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithName(cfg.Service.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()),
		natsclient.WithMetrics(metrics),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	// Both consumers may share one stream; gather subjects per stream name.
	subjects := map[string][]string{}
	for _, sc := range []config.StreamConfig{
		cfg.NATS.Streams.Enrichment,
		cfg.NATS.Streams.PipelineCompletion,
	} {
		subjects[sc.Stream] = append(subjects[sc.Stream], sc.Subject)
	}
	for stream, subs := range subjects {
		if err := client.EnsureStream(ctx, stream, subs); err != nil {
			return nil, err
		}
	}

	return client, nil
}

func buildConsumers(
	cfg *config.Config, logger *slog.Logger, metrics *metric.Metrics,
	client *natsclient.Client, driver store.GraphDriver,
) ([]*consumer.Consumer, error) {
	entities := store.NewEntityStore(driver, logger)
	relationships := store.NewRelationshipStore(driver, logger)
	pipelineMeta := store.NewPipelineMetadataStore(driver, logger)

	provider, err := enrichment.NewHTTPProvider(cfg.Enrichment.ProviderURL, cfg.Enrichment.Timeout.Std())
	if err != nil {
		return nil, err
	}

	orchestrator, err := enrichment.NewOrchestrator(cfg.NATS.PublishSubject, enrichment.Deps{
		Entities: entities,
		Provider: provider,
		Bus:      client,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	classifier, err := classify.NewService(classify.Deps{
		Entities:      entities,
		Relationships: relationships,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return nil, err
	}

	inferrer, err := pipeline.NewRuleInferrer(cfg.Inference.Rules, entities, relationships, logger)
	if err != nil {
		return nil, err
	}

	completion, err := pipeline.NewCompletionHandler(pipeline.Deps{
		Classifier: classifier,
		Inferrer:   inferrer,
		Recorder:   pipelineMeta,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return nil, err
	}

	enrichmentConsumer, err := consumer.New(consumer.Config{
		Name:    "enrichment-consumer",
		Stream:  cfg.NATS.Streams.Enrichment.Stream,
		Subject: cfg.NATS.Streams.Enrichment.Subject,
		Durable: cfg.NATS.Streams.Enrichment.Durable,
		Schema:  consumer.EnrichmentRequestSchema,
	}, consumer.Deps{Client: client, Handler: orchestrator, Logger: logger, Metrics: metrics})
	if err != nil {
		return nil, err
	}

	completionConsumer, err := consumer.New(consumer.Config{
		Name:    "pipeline-completion-consumer",
		Stream:  cfg.NATS.Streams.PipelineCompletion.Stream,
		Subject: cfg.NATS.Streams.PipelineCompletion.Subject,
		Durable: cfg.NATS.Streams.PipelineCompletion.Durable,
		Schema:  consumer.PipelineCompletionSchema,
	}, consumer.Deps{Client: client, Handler: completion, Logger: logger, Metrics: metrics})
	if err != nil {
		return nil, err
	}

	return []*consumer.Consumer{enrichmentConsumer, completionConsumer}, nil
}

// generateViews is the administrative mode: read ontology changes from YAML,
// generate tenant-scoped compatibility views, archive them in the KV bucket,
// and print the SQL for the operator to apply.
func generateViews(cfg *config.Config, logger *slog.Logger, changesPath, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("generate-views requires -tenant")
	}

	data, err := os.ReadFile(changesPath)
	if err != nil {
		return fmt.Errorf("read changes file: %w", err)
	}
	var changes []schemaevo.Change
	if err := yaml.Unmarshal(data, &changes); err != nil {
		return fmt.Errorf("parse changes file: %w", err)
	}

	views, err := schemaevo.NewService(logger).GenerateViews(tenantID, changes)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","),
		natsclient.WithLogger(logger), natsclient.WithName(cfg.Service.Name+"-views"))
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = client.Close(ctx) }()

	bucket, err := client.EnsureKeyValueBucket(ctx, cfg.NATS.ViewsBucket)
	if err != nil {
		return err
	}

	archive, err := schemaevo.NewArchive(client.NewKVStore(bucket), logger)
	if err != nil {
		return err
	}
	if err := archive.Save(ctx, tenantID, views); err != nil {
		return err
	}

	for _, view := range views {
		fmt.Println(view.SQL)
		fmt.Println()
	}
	logger.Info("compatibility views generated and archived",
		"tenant_id", tenantID, "views", len(views), "bucket", cfg.NATS.ViewsBucket)
	return nil
}
