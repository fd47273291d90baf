package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voltgrid/haystack/internal/log"
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

var rootCmd = &cobra.Command{
	Use:     "haystack",
	Short:   "haystack is the client for a Haystack-style blob store",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("haystack %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().String("directory", "localhost:9090", "Directory replica address (host:port)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(initConfigCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: false})
}
