package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voltgrid/haystack/internal/client"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <path>",
	Short: "Upload a file and print its photo id",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func runUpload(cmd *cobra.Command, args []string) error {
	dirAddr, _ := cmd.Flags().GetString("directory")
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	checksum := sha256.Sum256(data)

	ctx := context.Background()
	dir := client.NewDirectoryClient(dirAddr)

	reg, err := dir.Register(ctx, int64(len(data)), checksum)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	var locations []string
	for i, storeID := range reg.StoreIDs {
		addr := reg.Addresses[i]
		if err := client.NewStoreClient(addr).Put(ctx, reg.PhotoID, data); err != nil {
			return fmt.Errorf("put to %s: %w", addr, err)
		}
		locations = append(locations, storeID)
	}
	if len(locations) == 0 {
		return fmt.Errorf("upload %s: no stores accepted the write", path)
	}

	if err := dir.Commit(ctx, reg.PhotoID, locations); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	fmt.Printf("✓ uploaded %s as photo %d (%d replicas)\n", path, reg.PhotoID, len(locations))
	return nil
}
