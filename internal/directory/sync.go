package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/voltgrid/haystack/internal/log"
	"github.com/voltgrid/haystack/internal/types"
)

// Syncer keeps follower replicas current with the leader's commit stream:
// the leader pushes each commit directly to every follower with bounded
// exponential backoff, and every replica (leader included, harmlessly) also
// runs a slower anti-entropy poll to pick up anything a push missed.
type Syncer struct {
	dir       *Directory
	followers []string
	interval  time.Duration
	hc        *http.Client

	lastPoll time.Time
}

// NewSyncer builds a Syncer over the given peer addresses (the other
// Directory replicas, never including this one).
func NewSyncer(dir *Directory, followers []string, pollInterval time.Duration) *Syncer {
	s := &Syncer{
		dir:       dir,
		followers: followers,
		interval:  pollInterval,
		hc:        &http.Client{Timeout: 10 * time.Second},
	}
	dir.OnCommit(s.push)
	return s
}

// push fires a best-effort, backoff-retried push of the current state of
// photoID to every follower. Called synchronously from Directory.Commit /
// MarkDeleted on the leader, so each peer push runs in its own goroutine to
// avoid blocking the caller.
func (s *Syncer) push(photoID uint64) {
	b, ok, err := s.dir.store.GetBlob(photoID)
	if err != nil || !ok {
		return
	}
	body, err := json.Marshal(b)
	if err != nil {
		return
	}
	logger := log.WithComponent("directory.sync")
	for _, addr := range s.followers {
		addr := addr
		go func() {
			if err := s.pushWithBackoff(addr, body); err != nil {
				logger.Warn().Err(err).Str("peer", addr).Uint64("photo_id", photoID).Msg("push failed")
			}
		}()
	}
}

func (s *Syncer) pushWithBackoff(addr string, body []byte) error {
	backoff := 100 * time.Millisecond
	const maxAttempts = 5
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/sync", bytes.NewReader(body))
		if err != nil {
			cancel()
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.hc.Do(req)
		cancel()
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = fmt.Errorf("push %s: status %d", addr, resp.StatusCode)
		} else {
			lastErr = err
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// Run blocks, polling every peer for changes this replica may have missed,
// until ctx is canceled. Safe to run on every replica, including the
// leader: pushes win the race most of the time, so polling mostly no-ops.
func (s *Syncer) Run(ctx context.Context) {
	logger := log.WithComponent("directory.sync")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx, logger)
		}
	}
}

func (s *Syncer) poll(ctx context.Context, logger zerolog.Logger) {
	since := s.lastPoll
	now := time.Now()
	for _, addr := range s.followers {
		blobs, err := s.fetchSince(ctx, addr, since)
		if err != nil {
			logger.Warn().Err(err).Str("peer", addr).Msg("sync poll failed")
			continue
		}
		for _, b := range blobs {
			if err := s.dir.store.PutBlob(b); err != nil {
				logger.Warn().Err(err).Str("peer", addr).Uint64("photo_id", b.PhotoID).Msg("sync apply failed")
			}
		}
	}
	s.lastPoll = now
}

func (s *Syncer) fetchSince(ctx context.Context, addr string, since time.Time) ([]*types.BlobMetadata, error) {
	url := fmt.Sprintf("http://%s/sync?since=%d", addr, since.UnixNano())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sync poll %s: status %d", addr, resp.StatusCode)
	}
	var out []*types.BlobMetadata
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("sync poll %s: decode: %w", addr, err)
	}
	return out, nil
}
