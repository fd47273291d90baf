package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/voltgrid/haystack/internal/client"
)

var statusCmd = &cobra.Command{
	Use:   "status <photo-id>",
	Short: "Show where a photo id currently lives",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	dirAddr, _ := cmd.Flags().GetString("directory")
	photoID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid photo id %q: %w", args[0], err)
	}

	ctx := context.Background()
	dir := client.NewDirectoryClient(dirAddr)

	addrs, err := dir.Locate(ctx, photoID)
	if err != nil {
		return fmt.Errorf("locate %d: %w", photoID, err)
	}

	fmt.Printf("photo %d: %d healthy replica(s)\n", photoID, len(addrs))
	for _, addr := range addrs {
		fmt.Printf("  - %s\n", addr)
	}
	return nil
}
