package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"gastrolog/internal/blobstore"
	"gastrolog/internal/chunk"
	"gastrolog/internal/config"
	"gastrolog/internal/indexstore/memory"
	"gastrolog/internal/logging"
	"gastrolog/internal/metastore"
	"gastrolog/internal/metrics"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node: accept appends, roll over sealed chunks, serve queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			nodeID, _ := cmd.Flags().GetString("node-id")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
			evictionIntervalS, _ := cmd.Flags().GetInt("eviction-interval-s")
			localRetentionMaxChunks, _ := cmd.Flags().GetInt("local-retention-max-chunks")
			localRetentionAgeS, _ := cmd.Flags().GetInt64("local-retention-age-s")

			handler := logging.NewComponentFilterHandler(
				slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
				slog.LevelInfo,
			)
			logger := slog.New(handler)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, runOptions{
				configPath:              configPath,
				nodeID:                  nodeID,
				metricsAddr:             metricsAddr,
				evictionInterval:        time.Duration(evictionIntervalS) * time.Second,
				localRetentionMaxChunks: localRetentionMaxChunks,
				localRetentionAge:       time.Duration(localRetentionAgeS) * time.Second,
			})
		},
	}

	cmd.Flags().String("config", "chunknode.yaml", "path to the node's YAML config file")
	cmd.Flags().String("node-id", "", "raft node ID (default: hostname)")
	cmd.Flags().String("metrics-addr", ":9090", "listen address for the /metrics endpoint")
	cmd.Flags().Int("eviction-interval-s", 60, "seconds between stale-chunk eviction sweeps")
	cmd.Flags().Int("local-retention-max-chunks", 0, "evict oldest uploaded chunks beyond this count (0 disables)")
	cmd.Flags().Int64("local-retention-age-s", 0, "evict uploaded chunks older than this many seconds (0 disables)")

	return cmd
}

type runOptions struct {
	configPath              string
	nodeID                  string
	metricsAddr             string
	evictionInterval        time.Duration
	localRetentionMaxChunks int
	localRetentionAge       time.Duration
}

func run(ctx context.Context, logger *slog.Logger, opts runOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	nodeID := opts.nodeID
	if nodeID == "" {
		if hostname, err := os.Hostname(); err == nil {
			nodeID = hostname
		} else {
			nodeID = "chunknode"
		}
	}

	reg := metrics.New()

	var fatal error
	fatalCh := make(chan error, 1)
	store, err := metastore.Open(metastore.Config{
		Raft: metastore.RaftConfig{
			NodeID:       nodeID,
			DataDir:      filepath.Join(cfg.DataDirectory, "meta"),
			BindAddr:     cfg.ZKHost,
			ApplyTimeout: cfg.ApplyTimeout(),
		},
		Fatal: func(err error) {
			logger.Error("metastore fatal condition, arresting node", "error", err)
			select {
			case fatalCh <- err:
			default:
			}
		},
		Metrics:       reg,
		SweepInterval: time.Second,
	})
	if err != nil {
		return fmt.Errorf("open metastore: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("metastore close error", "error", err)
		}
	}()

	blob, err := blobstore.NewS3Store(ctx, cfg.S3Bucket)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	strategy := chunk.NewSizeOrCountStrategy(cfg.RolloverBytesThreshold, cfg.RolloverMessagesThreshold)

	mgr := chunk.NewManager(chunk.Config{
		Factory:               memory.New,
		Strategy:              strategy,
		Catalog:               store,
		Prefix:                cfg.ChunkDataPrefix,
		Logger:                logger,
		RolloverFutureTimeout: cfg.RolloverFutureTimeout(),
		NewChunkDir: func(id chunk.ID) string {
			return filepath.Join(cfg.DataDirectory, cfg.ChunkDataPrefix, id.String())
		},
		Blob:    blob,
		Bucket:  cfg.S3Bucket,
		Metrics: reg,
	})

	evictionPolicy := buildEvictionPolicy(opts.localRetentionMaxChunks, opts.localRetentionAge)
	scheduler, err := startEvictionSweep(logger, mgr, evictionPolicy, opts.evictionInterval)
	if err != nil {
		return fmt.Errorf("start eviction sweep: %w", err)
	}
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			logger.Error("eviction scheduler shutdown error", "error", err)
		}
	}()

	metricsSrv := &http.Server{
		Addr:              opts.metricsAddr,
		Handler:           metricsMux(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", "addr", opts.metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-fatalCh:
		fatal = err
		logger.Error("node arrested by fatal condition", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	if err := mgr.Close(shutdownCtx); err != nil {
		logger.Error("chunk manager close error", "error", err)
	}

	return fatal
}

func metricsMux(reg *metrics.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", reg.Handler())
	return mux
}

func buildEvictionPolicy(maxChunks int, maxAge time.Duration) chunk.EvictionPolicy {
	var policies []chunk.EvictionPolicy
	if maxChunks > 0 {
		policies = append(policies, chunk.NewCountEvictionPolicy(maxChunks))
	}
	if maxAge > 0 {
		policies = append(policies, chunk.NewAgeEvictionPolicy(int64(maxAge.Seconds())))
	}
	if len(policies) == 0 {
		return chunk.NeverEvict{}
	}
	return chunk.NewCompositeEvictionPolicy(policies...)
}

func startEvictionSweep(logger *slog.Logger, mgr *chunk.Manager, policy chunk.EvictionPolicy, interval time.Duration) (gocron.Scheduler, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create eviction scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			state := mgr.EvictionCandidates()
			stale := policy.Apply(state)
			if len(stale) == 0 {
				return
			}
			logger.Info("evicting stale chunks", "count", len(stale))
			mgr.RemoveStale(context.Background(), stale)
		}),
		gocron.WithName("stale-chunk-eviction"),
	)
	if err != nil {
		return nil, fmt.Errorf("create eviction job: %w", err)
	}
	s.Start()
	return s, nil
}
