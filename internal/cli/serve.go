package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ddmq/ddmq/internal/admin"
	"github.com/ddmq/ddmq/internal/appconfig"
	"github.com/ddmq/ddmq/internal/archive"
	"github.com/ddmq/ddmq/internal/broker"
	"github.com/ddmq/ddmq/internal/cleaner"
	"github.com/ddmq/ddmq/internal/health"
	"github.com/ddmq/ddmq/internal/logging"
	"github.com/ddmq/ddmq/internal/metrics"
	"github.com/ddmq/ddmq/internal/profiling"
	"github.com/ddmq/ddmq/internal/ratelimit"
	"github.com/ddmq/ddmq/internal/security"
	"github.com/ddmq/ddmq/internal/server"
	"github.com/ddmq/ddmq/internal/shutdown"
	"github.com/ddmq/ddmq/internal/tracing"
)

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a long-lived janitor process: admin/metrics/health HTTP plus a periodic clean-all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(configFile)
			if err != nil {
				return err
			}
			if rootPath != "" && rootPath != "./ddmq-root" {
				cfg.Root = rootPath
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "path to a serve YAML config file (defaults if omitted)")
	return cmd
}

func runServe(ctx context.Context, cfg appconfig.Config) error {
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logging.SetGlobal(logger)

	b := broker.New(cfg.Root, logger)
	if err := b.InitRoot(); err != nil {
		logger.Warn().Err(err).Msg("serve: root init (may already be initiated)")
	}

	router := buildArchiveRouter(cfg.Archive, logger)
	if router != nil {
		b.SetArchive(router)
	}

	tracingProvider, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:    cfg.Tracing.Enabled,
		Endpoint:   cfg.Tracing.Endpoint,
		SampleRate: cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("serve: tracing disabled")
	} else {
		b.SetTracer(tracingProvider.Tracer())
	}

	a := admin.New(b)
	c := cleaner.New(b, logger, router)
	if tracingProvider != nil {
		c.SetTracer(tracingProvider.Tracer())
	}

	var profiler *profiling.Profiler
	if cfg.Profiling.Enabled {
		profiler, err = profiling.New(profiling.Config{Enabled: true, Address: cfg.Profiling.Address}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("serve: profiling disabled")
		} else if err := profiler.Start(); err != nil {
			logger.Warn().Err(err).Msg("serve: profiling server failed to start")
		}
	}

	checker := health.NewChecker(5 * time.Second)
	checker.Register("root", health.RootCheck(b.Root().Exists, b.Root().Initiated))
	checker.Register("queues", health.QueueListCheck(a.ListQueues))

	collector := metrics.NewCollector()
	collector.Start(15 * time.Second)

	tlsConfig, err := security.LoadTLSConfig(&security.TLSConfig{
		Enabled:            cfg.TLS.Enabled,
		CertFile:           cfg.TLS.CertFile,
		KeyFile:            cfg.TLS.KeyFile,
		CAFile:             cfg.TLS.CAFile,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
	})
	if err != nil {
		return fmt.Errorf("serve: load TLS config: %w", err)
	}

	srv := server.New(server.Config{
		MetricsAddress:  cfg.MetricsAddr,
		MetricsPath:     "/metrics",
		HealthAddress:   cfg.HealthAddr,
		LivenessPath:    "/health/live",
		ReadinessPath:   "/health/ready",
		AdminAddress:    cfg.AdminAddr,
		Admin:           a,
		MetricsRegistry: collector.Registry(),
		HealthChecker:   checker,
		Logger:          logger,
		TLS:             tlsConfig,
	})
	if err := srv.Start(); err != nil {
		return err
	}

	limiter := ratelimit.New(cfg.CleanRateLimit, 1)
	interval := time.Duration(cfg.CleanInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cleanCtx, cancelClean := context.WithCancel(ctx)
	cleanDone := make(chan struct{})
	go runCleanLoop(cleanCtx, c, limiter, interval, logger, cleanDone)

	mgr := shutdown.New(shutdown.Config{Timeout: 30 * time.Second, Logger: logger})
	mgr.RegisterFunc("server", func(stopCtx context.Context) error { return srv.Stop(stopCtx) })
	mgr.RegisterFunc("clean-loop", func(stopCtx context.Context) error {
		cancelClean()
		<-cleanDone
		collector.Stop()
		if err := b.Close(); err != nil {
			logger.Warn().Err(err).Msg("serve: archive worker pool did not drain cleanly")
		}
		if router != nil {
			return router.Close()
		}
		return nil
	})
	if tracingProvider != nil {
		mgr.RegisterFunc("tracing", func(stopCtx context.Context) error { return tracingProvider.Shutdown(stopCtx) })
	}
	if profiler != nil {
		mgr.RegisterFunc("profiling", func(stopCtx context.Context) error { return profiler.Stop() })
	}

	mgr.WaitForSignal()
	mgr.Shutdown()
	return nil
}

func runCleanLoop(ctx context.Context, c *cleaner.Cleaner, limiter *ratelimit.Limiter, interval time.Duration, logger *logging.Logger, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if _, err := c.CleanAll(false); err != nil {
				logger.Error().Err(err).Msg("serve: clean-all failed")
			}
		}
	}
}

// buildArchiveRouter starts one sink per configured archive destination and
// fans them out through a Router. It returns nil when no sink is
// configured, so serve runs fine with archiving entirely disabled.
func buildArchiveRouter(cfg appconfig.ArchiveConfig, logger *logging.Logger) *archive.Router {
	var sinks []archive.Sink

	if cfg.Kafka != nil {
		kcfg := archive.DefaultKafkaConfig()
		kcfg.Brokers = cfg.Kafka.Brokers
		kcfg.Topic = cfg.Kafka.Topic
		if sink, err := archive.NewKafkaSink(kcfg); err != nil {
			logger.Error().Err(err).Msg("serve: kafka archive sink disabled")
		} else {
			sinks = append(sinks, sink)
		}
	}

	if cfg.S3 != nil {
		scfg := archive.DefaultS3Config()
		scfg.Bucket = cfg.S3.Bucket
		scfg.Region = cfg.S3.Region
		if cfg.S3.Prefix != "" {
			scfg.Prefix = cfg.S3.Prefix
		}
		if sink, err := archive.NewS3Sink(context.Background(), scfg); err != nil {
			logger.Error().Err(err).Msg("serve: s3 archive sink disabled")
		} else {
			sinks = append(sinks, sink)
		}
	}

	if cfg.Elasticsearch != nil {
		ecfg := archive.DefaultElasticsearchConfig()
		ecfg.Addresses = cfg.Elasticsearch.Addresses
		ecfg.Index = cfg.Elasticsearch.Index
		if sink, err := archive.NewElasticsearchSink(ecfg); err != nil {
			logger.Error().Err(err).Msg("serve: elasticsearch archive sink disabled")
		} else {
			sinks = append(sinks, sink)
		}
	}

	if len(sinks) == 0 {
		return nil
	}

	routerCfg := archive.DefaultRouterConfig()
	if cfg.FailureStrategy != "" {
		routerCfg.FailureStrategy = cfg.FailureStrategy
	}
	routerCfg.Parallel = cfg.Parallel

	router := archive.NewRouter(routerCfg)
	for _, s := range sinks {
		router.AddSink(s)
	}
	return router
}
