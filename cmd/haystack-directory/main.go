package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/voltgrid/haystack/internal/config"
	"github.com/voltgrid/haystack/internal/coordination"
	"github.com/voltgrid/haystack/internal/directory"
	"github.com/voltgrid/haystack/internal/log"
	"github.com/voltgrid/haystack/internal/ratelimit"
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
	replicaID  string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:     "haystack-directory",
	Short:   "Haystack Directory: metadata authority and leader-elected commit log",
	Version: Version,
	RunE:    runDirectory,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("haystack-directory %s (%s)\n", Version, Commit))
	rootCmd.Flags().StringVar(&replicaID, "replica-id", "", "unique id for this Directory replica (required)")
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.MarkFlagRequired("replica-id")
}

func runDirectory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("haystack-directory")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	coordStore := coordination.NewRedisStore(rdb)

	bs, err := directory.OpenBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer bs.Close()

	election := directory.NewElection(coordStore, replicaID, cfg.LeaderTimeout, cfg.ElectionRefreshInterval())

	dir := directory.New(directory.Options{
		Store:               bs,
		Election:            election,
		HealthWindow:        cfg.HealthWindow,
		DefaultReplicaCount: cfg.DefaultReplicaCount,
		PlacementMargin:     0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go election.Run(ctx)
	go directory.NewHealthScanner(bs, cfg.HealthWindow, cfg.HealthWindow/2).Run(ctx)
	go dir.RunReadRateFlusher(ctx, 60*time.Second)
	if len(cfg.Followers) > 0 {
		go directory.NewSyncer(dir, cfg.Followers, cfg.FollowerSyncInterval).Run(ctx)
	}

	limiter := ratelimit.New(20, 40)
	go limiter.RunCleanup(5*cfg.HeartbeatInterval, 10*cfg.HeartbeatInterval, ctx.Done())

	srv := directory.NewServer(dir, limiter)
	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Str("replica_id", replicaID).Msg("directory listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}
