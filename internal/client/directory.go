// Package client provides plain HTTP/JSON clients for the Directory and
// Store wire contracts, used by daemons talking to their peers and by the
// haystack CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/voltgrid/haystack/internal/types"
)

// DirectoryClient talks to one Directory replica's HTTP API.
type DirectoryClient struct {
	addr string
	hc   *http.Client
}

// NewDirectoryClient wraps addr (host:port, no scheme) with a sane default
// timeout.
func NewDirectoryClient(addr string) *DirectoryClient {
	return &DirectoryClient{
		addr: addr,
		hc:   &http.Client{Timeout: 10 * time.Second},
	}
}

type RegisterRequest struct {
	Size     int64    `json:"size"`
	Checksum [32]byte `json:"checksum"`
}

type RegisterResponse struct {
	PhotoID   uint64   `json:"photo_id"`
	StoreIDs  []string `json:"store_ids"`
	Addresses []string `json:"addresses"`
}

// Register allocates a new photo id and placement. Leader-only; callers
// should target the known leader address.
func (c *DirectoryClient) Register(ctx context.Context, size int64, checksum [32]byte) (*RegisterResponse, error) {
	var resp RegisterResponse
	err := c.postJSON(ctx, "/register", RegisterRequest{Size: size, Checksum: checksum}, &resp)
	return &resp, err
}

type CommitRequest struct {
	PhotoID   uint64   `json:"photo_id"`
	Locations []string `json:"locations"`
}

// Commit records which stores actually hold photoID's data. Leader-only.
func (c *DirectoryClient) Commit(ctx context.Context, photoID uint64, locations []string) error {
	return c.postJSON(ctx, "/commit", CommitRequest{PhotoID: photoID, Locations: locations}, nil)
}

type LocateResponse struct {
	Locations []string `json:"locations"`
}

// ErrNotFound is returned by Locate for an unknown or deleted photo id.
var ErrNotFound = fmt.Errorf("client: not found")

// Locate returns the healthy addresses currently holding photoID.
func (c *DirectoryClient) Locate(ctx context.Context, photoID uint64) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/locate?id=%d", c.addr, photoID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("locate %d: %w", photoID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("locate %d: unexpected status %d", photoID, resp.StatusCode)
	}
	var out LocateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("locate %d: decode response: %w", photoID, err)
	}
	return out.Locations, nil
}

// MarkDeleted marks photoID deleted in the metadata. Leader-only.
func (c *DirectoryClient) MarkDeleted(ctx context.Context, photoID uint64) error {
	return c.postJSON(ctx, fmt.Sprintf("/mark_deleted?id=%d", photoID), nil, nil)
}

type setDesiredReplicasRequest struct {
	PhotoID uint64 `json:"photo_id"`
	Count   int    `json:"count"`
}

// SetDesiredReplicas updates photoID's target replica count, used by the
// Replication Manager's hotness adaptation.
func (c *DirectoryClient) SetDesiredReplicas(ctx context.Context, photoID uint64, count int) error {
	return c.postJSON(ctx, "/desired_replicas", setDesiredReplicasRequest{PhotoID: photoID, Count: count}, nil)
}

// Heartbeat pushes this store's descriptor to the Directory replica.
func (c *DirectoryClient) Heartbeat(ctx context.Context, desc types.StoreDescriptor) error {
	return c.postJSON(ctx, "/heartbeat", desc, nil)
}

// Stores returns every store descriptor this Directory replica knows about.
func (c *DirectoryClient) Stores(ctx context.Context) ([]types.StoreDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/stores", c.addr), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stores: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stores: unexpected status %d", resp.StatusCode)
	}
	var out []types.StoreDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("stores: decode response: %w", err)
	}
	return out, nil
}

// Audit returns every blob's metadata, for the Replication Manager's
// per-tick and nightly full scans.
func (c *DirectoryClient) Audit(ctx context.Context) ([]*types.BlobMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/audit", c.addr), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audit: unexpected status %d", resp.StatusCode)
	}
	var out []*types.BlobMetadata
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("audit: decode response: %w", err)
	}
	return out, nil
}

// KnownPhotoIDs returns every photo id this Directory associates with
// storeID, for the GC worker to diff against.
func (c *DirectoryClient) KnownPhotoIDs(ctx context.Context, storeID string) (map[uint64]bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/known?store_id=%s", c.addr, storeID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("known %s: %w", storeID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("known %s: unexpected status %d", storeID, resp.StatusCode)
	}
	var ids []uint64
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("known %s: decode response: %w", storeID, err)
	}
	out := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (c *DirectoryClient) postJSON(ctx context.Context, path string, body, out any) error {
	var reader bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reader).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://%s%s", c.addr, path), &reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("post %s: unexpected status %d", path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("post %s: decode response: %w", path, err)
		}
	}
	return nil
}
