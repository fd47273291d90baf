package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voltgrid/haystack/internal/client"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "List every Store replica the Directory knows about, and its load",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	dirAddr, _ := cmd.Flags().GetString("directory")

	ctx := context.Background()
	dir := client.NewDirectoryClient(dirAddr)

	stores, err := dir.Stores(ctx)
	if err != nil {
		return fmt.Errorf("stores: %w", err)
	}

	fmt.Printf("%-20s %-22s %-10s %12s %10s\n", "STORE ID", "ADDRESS", "STATUS", "FREE BYTES", "OPS/60s")
	for _, s := range stores {
		fmt.Printf("%-20s %-22s %-10s %12d %10d\n", s.StoreID, s.Address, s.Status, s.FreeBytes, s.Ops60s)
	}
	return nil
}
