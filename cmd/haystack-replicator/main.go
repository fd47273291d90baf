package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/voltgrid/haystack/internal/cache"
	"github.com/voltgrid/haystack/internal/client"
	"github.com/voltgrid/haystack/internal/config"
	"github.com/voltgrid/haystack/internal/coordination"
	"github.com/voltgrid/haystack/internal/log"
	"github.com/voltgrid/haystack/internal/replication"
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
	instanceID string
	configPath string
	directory  string
	useCache   bool
)

var rootCmd = &cobra.Command{
	Use:     "haystack-replicator",
	Short:   "Haystack Replication Manager: desired-replica reconciliation and nightly audit",
	Version: Version,
	RunE:    runReplicator,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("haystack-replicator %s (%s)\n", Version, Commit))
	rootCmd.Flags().StringVar(&instanceID, "instance-id", "", "unique id for this replicator instance, used to attribute the advisory lock (defaults to a generated uuid)")
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.Flags().StringVar(&directory, "directory", "", "address of a Directory replica (required)")
	rootCmd.Flags().BoolVar(&useCache, "cache", true, "invalidate the Redis blob cache on de-replication")
	rootCmd.MarkFlagRequired("directory")
}

func runReplicator(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("haystack-replicator")

	if instanceID == "" {
		instanceID = uuid.New().String()
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	coordStore := coordination.NewRedisStore(rdb)

	var blobCache cache.Cache
	if useCache {
		blobCache = cache.NewRedisCache(rdb)
	}

	dirClient := client.NewDirectoryClient(directory)
	lock := replication.NewLock(coordStore, instanceID, cfg.ReplockTTL)

	mgr := replication.New(replication.Options{
		Directory: dirClient,
		NewStoreClient: func(address string) replication.StoreAPI {
			return client.NewStoreClient(address)
		},
		Cache:            blobCache,
		Lock:             lock,
		DefaultReplicas:  cfg.DefaultReplicaCount,
		MaxReplicas:      cfg.MaxReplicaCount,
		HotnessThreshold: cfg.HotnessThreshold,
		NightlyAuditHour: cfg.NightlyAuditHour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go mgr.RunControlLoop(ctx, cfg.ReplicationInterval)
	go mgr.RunNightlyAudit(ctx)

	logger.Info().Str("directory", directory).Str("instance_id", instanceID).Msg("replicator running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")
	cancel()
	return nil
}
