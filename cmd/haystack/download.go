package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/voltgrid/haystack/internal/client"
)

var downloadCmd = &cobra.Command{
	Use:   "download <photo-id> <path>",
	Short: "Download a photo id's bytes to a local file",
	Args:  cobra.ExactArgs(2),
	RunE:  runDownload,
}

func runDownload(cmd *cobra.Command, args []string) error {
	dirAddr, _ := cmd.Flags().GetString("directory")
	photoID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid photo id %q: %w", args[0], err)
	}
	destPath := args[1]

	ctx := context.Background()
	dir := client.NewDirectoryClient(dirAddr)

	addrs, err := dir.Locate(ctx, photoID)
	if err != nil {
		return fmt.Errorf("locate %d: %w", photoID, err)
	}

	var lastErr error
	for _, addr := range addrs {
		data, err := client.NewStoreClient(addr).Get(ctx, photoID)
		if err != nil {
			lastErr = err
			continue
		}
		if err := os.WriteFile(destPath, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", destPath, err)
		}
		fmt.Printf("✓ downloaded photo %d from %s to %s (%d bytes)\n", photoID, addr, destPath, len(data))
		return nil
	}
	return fmt.Errorf("download %d: all %d known replicas failed, last error: %w", photoID, len(addrs), lastErr)
}
