package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/haystack/internal/types"
)

func TestServerRegisterCommitLocate(t *testing.T) {
	d := newTestDirectory(t)
	seedStore(t, d, "s1", "10.0.0.1:8080", 1<<20)
	srv := NewServer(d, nil)

	body, _ := json.Marshal(registerRequest{Size: 100})
	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var regResp registerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &regResp))
	require.NotZero(t, regResp.PhotoID)
	require.Equal(t, []string{"s1"}, regResp.StoreIDs)

	commitBody, _ := json.Marshal(commitRequest{PhotoID: regResp.PhotoID, Locations: []string{"s1"}})
	req = httptest.NewRequest(http.MethodPost, "/commit", bytes.NewReader(commitBody))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/locate?id=%d", regResp.PhotoID), nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var locResp locateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &locResp))
	require.Equal(t, []string{"10.0.0.1:8080"}, locResp.Locations)
}

func TestServerLocateMissingReturns404(t *testing.T) {
	d := newTestDirectory(t)
	srv := NewServer(d, nil)

	req := httptest.NewRequest(http.MethodGet, "/locate?id=999", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerHeartbeatAndStores(t *testing.T) {
	d := newTestDirectory(t)
	srv := NewServer(d, nil)

	desc := types.StoreDescriptor{StoreID: "s1", Address: "10.0.0.1:8080", FreeBytes: 500}
	body, _ := json.Marshal(desc)
	req := httptest.NewRequest(http.MethodPost, "/heartbeat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/stores", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stores []types.StoreDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stores))
	require.Len(t, stores, 1)
	require.Equal(t, types.StoreHealthy, stores[0].Status)
}

func TestServerWriteRejectedWhenNotLeader(t *testing.T) {
	bs, err := OpenBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })

	coord := &fakeCoordStore{}
	other := NewElection(coord, "replica-other", time.Minute, time.Millisecond)
	other.tick(context.Background(), zerolog.Nop())

	election := NewElection(coord, "replica-a", time.Minute, time.Millisecond)
	election.tick(context.Background(), zerolog.Nop())

	d := New(Options{Store: bs, Election: election, DefaultReplicaCount: 1})
	srv := NewServer(d, nil)

	body, _ := json.Marshal(registerRequest{Size: 10})
	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServerSyncRoundTrip(t *testing.T) {
	d := newTestDirectory(t)
	srv := NewServer(d, nil)
	seedStore(t, d, "s1", "10.0.0.1:8080", 1<<20)
	photoID, _, err := d.Register(context.Background(), 10, [32]byte{})
	require.NoError(t, err)
	require.NoError(t, d.Commit(context.Background(), photoID, []string{"s1"}))

	req := httptest.NewRequest(http.MethodGet, "/sync?since=0", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var blobs []*types.BlobMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &blobs))
	require.Len(t, blobs, 1)
	require.Equal(t, photoID, blobs[0].PhotoID)
}
