package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/voltgrid/haystack/internal/config"
)

var initConfigCmd = &cobra.Command{
	Use:   "init-config <path>",
	Short: "Write a config file populated with the default settings",
	Args:  cobra.ExactArgs(1),
	RunE:  runInitConfig,
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("init-config: %s already exists", path)
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Printf("✓ wrote default config to %s\n", path)
	return nil
}
