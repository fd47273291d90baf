package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/voltgrid/haystack/internal/cache"
	"github.com/voltgrid/haystack/internal/client"
	"github.com/voltgrid/haystack/internal/config"
	"github.com/voltgrid/haystack/internal/log"
	"github.com/voltgrid/haystack/internal/ratelimit"
	"github.com/voltgrid/haystack/internal/store"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	storeID     string
	configPath  string
	directories []string
)

var rootCmd = &cobra.Command{
	Use:     "haystack-store",
	Short:   "Haystack Store: append-only needle volumes served over HTTP",
	Version: Version,
	RunE:    runStore,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("haystack-store %s (%s)\n", Version, Commit))
	rootCmd.Flags().StringVar(&storeID, "store-id", "", "unique id for this store replica (required)")
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.Flags().StringSliceVar(&directories, "directory", nil, "address of a Directory replica to heartbeat to (repeatable)")
	rootCmd.MarkFlagRequired("store-id")
}

func runStore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("haystack-store")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()

	s, err := store.Open(store.Options{
		ID:            storeID,
		Dir:           cfg.DataDir,
		MaxVolumeSize: cfg.MaxVolumeSize,
		CompactionEff: cfg.CompactionEfficiencyThreshold,
		Cache:         cache.NewRedisCache(rdb),
		CacheTTL:      cfg.CacheTTL,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var receivers []store.HeartbeatSender
	for _, addr := range directories {
		receivers = append(receivers, client.NewDirectoryClient(addr))
	}

	limiter := ratelimit.New(20, 40)
	go limiter.RunCleanup(5*cfg.HeartbeatInterval, 10*cfg.HeartbeatInterval, ctx.Done())

	heartbeat := store.NewHeartbeatWorker(s, cfg.ListenAddr, cfg.HeartbeatInterval, receivers)
	go heartbeat.Run(ctx)

	compaction := store.NewCompactionWorker(s, cfg.GCInterval)
	go compaction.Run(ctx)

	var fetch store.KnownIDsFetcher
	if len(directories) > 0 {
		dirClient := client.NewDirectoryClient(directories[0])
		fetch = dirClient.KnownPhotoIDs
	}
	if fetch != nil {
		gc := store.NewGCWorker(s, cfg.GCInterval, fetch)
		go gc.Run(ctx)
	}

	srv := store.NewServer(s, limiter)
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Str("store_id", storeID).Msg("store listening")
		errCh <- srv.ListenAndServe(cfg.ListenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	cancel()
	return nil
}
