package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StoreClient talks to one Store replica's HTTP API.
type StoreClient struct {
	addr string
	hc   *http.Client
}

// NewStoreClient wraps addr (host:port, no scheme).
func NewStoreClient(addr string) *StoreClient {
	return &StoreClient{
		addr: addr,
		hc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Put uploads data under photoID.
func (c *StoreClient) Put(ctx context.Context, photoID uint64, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://%s/put?id=%d", c.addr, photoID), bytes.NewReader(data))
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("put %d to %s: %w", photoID, c.addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("put %d to %s: unexpected status %d", photoID, c.addr, resp.StatusCode)
	}
	return nil
}

// Get downloads photoID's bytes.
func (c *StoreClient) Get(ctx context.Context, photoID uint64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/get?id=%d", c.addr, photoID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %d from %s: %w", photoID, c.addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %d from %s: unexpected status %d", photoID, c.addr, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Delete tombstones photoID.
func (c *StoreClient) Delete(ctx context.Context, photoID uint64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("http://%s/del?id=%d", c.addr, photoID), nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("delete %d from %s: %w", photoID, c.addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete %d from %s: unexpected status %d", photoID, c.addr, resp.StatusCode)
	}
	return nil
}

// StatsResponse mirrors the Store's stats() contract.
type StatsResponse struct {
	FreeBytes   int64 `json:"free_bytes"`
	VolumeBytes int64 `json:"volume_bytes"`
	LiveBytes   int64 `json:"live_bytes"`
	Ops60s      int64 `json:"ops_60s"`
}

// Stats fetches the Store's current stats.
func (c *StoreClient) Stats(ctx context.Context) (*StatsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/stats", c.addr), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stats from %s: %w", c.addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats from %s: unexpected status %d", c.addr, resp.StatusCode)
	}
	var out StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("stats from %s: decode response: %w", c.addr, err)
	}
	return &out, nil
}

// CopyTo instructs this store to stream photoID to the peer at toAddr,
// used by the Replication Manager when up-replicating a blob.
func (c *StoreClient) CopyTo(ctx context.Context, photoID uint64, toAddr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://%s/copy?id=%d&to=%s", c.addr, photoID, toAddr), nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("copy %d from %s to %s: %w", photoID, c.addr, toAddr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("copy %d from %s to %s: unexpected status %d", photoID, c.addr, toAddr, resp.StatusCode)
	}
	return nil
}
