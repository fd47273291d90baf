package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/voltgrid/haystack/internal/log"
	"github.com/voltgrid/haystack/internal/metrics"
	"github.com/voltgrid/haystack/internal/ratelimit"
	"github.com/voltgrid/haystack/internal/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server exposes a Directory replica over HTTP: register/commit/locate for
// the client-facing write-commit flow, heartbeat/stores for Store <->
// Directory health, sync for follower replication, known for a Store's GC
// diff, and a read-only audit dump.
type Server struct {
	dir     *Directory
	limiter *ratelimit.Limiter
	mux     *http.ServeMux
}

// NewServer wires handlers onto a fresh ServeMux. limiter may be nil to
// disable rate limiting (e.g. in tests).
func NewServer(d *Directory, limiter *ratelimit.Limiter) *Server {
	srv := &Server{dir: d, limiter: limiter, mux: http.NewServeMux()}

	writeHandlers := map[string]http.HandlerFunc{
		"/register":         srv.handleRegister,
		"/commit":           srv.handleCommit,
		"/mark_deleted":     srv.handleMarkDeleted,
		"/desired_replicas": srv.handleSetDesiredReplicas,
		"/heartbeat":        srv.handleHeartbeat,
	}
	for path, h := range writeHandlers {
		if limiter != nil {
			srv.mux.Handle(path, limiter.Middleware(h))
		} else {
			srv.mux.HandleFunc(path, h)
		}
	}

	srv.mux.HandleFunc("/locate", srv.handleLocate)
	srv.mux.HandleFunc("/stores", srv.handleStores)
	srv.mux.HandleFunc("/known", srv.handleKnown)
	srv.mux.HandleFunc("/sync", srv.handleSync)
	srv.mux.HandleFunc("/audit", srv.handleAudit)
	srv.mux.HandleFunc("/healthz", srv.handleHealthz)
	srv.mux.HandleFunc("/readyz", srv.handleReadyz)
	srv.mux.Handle("/metrics", metrics.Handler())

	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type registerRequest struct {
	Size     int64    `json:"size"`
	Checksum [32]byte `json:"checksum"`
}

type registerResponse struct {
	PhotoID   uint64   `json:"photo_id"`
	StoreIDs  []string `json:"store_ids"`
	Addresses []string `json:"addresses"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	photoID, chosen, err := s.dir.Register(r.Context(), req.Size, req.Checksum)
	if err != nil {
		s.writeError(w, "register", err)
		return
	}

	resp := registerResponse{PhotoID: photoID}
	for _, d := range chosen {
		resp.StoreIDs = append(resp.StoreIDs, d.StoreID)
		resp.Addresses = append(resp.Addresses, d.Address)
	}
	metrics.APIRequestsTotal.WithLabelValues("register", "ok").Inc()
	writeJSON(w, http.StatusOK, resp)
}

type commitRequest struct {
	PhotoID   uint64   `json:"photo_id"`
	Locations []string `json:"locations"`
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.dir.Commit(r.Context(), req.PhotoID, req.Locations); err != nil {
		s.writeError(w, "commit", err)
		return
	}
	metrics.APIRequestsTotal.WithLabelValues("commit", "ok").Inc()
	w.WriteHeader(http.StatusOK)
}

type locateResponse struct {
	Locations []string `json:"locations"`
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	photoID, err := parsePhotoID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	locs, err := s.dir.Locate(r.Context(), photoID)
	if err != nil {
		s.writeError(w, "locate", err)
		return
	}
	metrics.APIRequestsTotal.WithLabelValues("locate", "ok").Inc()
	writeJSON(w, http.StatusOK, locateResponse{Locations: locs})
}

func (s *Server) handleMarkDeleted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	photoID, err := parsePhotoID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.dir.MarkDeleted(r.Context(), photoID); err != nil {
		s.writeError(w, "mark_deleted", err)
		return
	}
	metrics.APIRequestsTotal.WithLabelValues("mark_deleted", "ok").Inc()
	w.WriteHeader(http.StatusOK)
}

type setDesiredReplicasRequest struct {
	PhotoID uint64 `json:"photo_id"`
	Count   int    `json:"count"`
}

func (s *Server) handleSetDesiredReplicas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req setDesiredReplicasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.dir.SetDesiredReplicas(r.Context(), req.PhotoID, req.Count); err != nil {
		s.writeError(w, "desired_replicas", err)
		return
	}
	metrics.APIRequestsTotal.WithLabelValues("desired_replicas", "ok").Inc()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var desc types.StoreDescriptor
	if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.dir.Heartbeat(r.Context(), desc); err != nil {
		log.WithComponent("directory.server").Error().Err(err).Str("store_id", desc.StoreID).Msg("heartbeat failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		metrics.APIRequestsTotal.WithLabelValues("heartbeat", "error").Inc()
		return
	}
	metrics.APIRequestsTotal.WithLabelValues("heartbeat", "ok").Inc()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStores(w http.ResponseWriter, r *http.Request) {
	stores, err := s.dir.Stores(r.Context())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stores)
}

func (s *Server) handleKnown(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		http.Error(w, "missing store_id", http.StatusBadRequest)
		return
	}
	known, err := s.dir.KnownPhotoIDs(r.Context(), storeID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	ids := make([]uint64, 0, len(known))
	for id := range known {
		ids = append(ids, id)
	}
	writeJSON(w, http.StatusOK, ids)
}

// handleSync serves two roles on the same path: a GET from a follower doing
// an anti-entropy catch-up poll (returns every blob updated after `since`),
// and a POST from the leader pushing one freshly committed blob directly to
// a follower's replica.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sinceNanos, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
		since := time.Unix(0, sinceNanos)
		var out []*types.BlobMetadata
		err := s.dir.store.RangeBlobs(func(b *types.BlobMetadata) bool {
			if b.UpdatedAt.After(since) {
				out = append(out, b.Clone())
			}
			return true
		})
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var b types.BlobMetadata
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if err := s.dir.store.PutBlob(&b); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAudit is a read-only dump of every blob's metadata, supplementing
// the spec with a way to inspect replication state without touching bbolt
// directly.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	var out []*types.BlobMetadata
	err := s.dir.store.RangeBlobs(func(b *types.BlobMetadata) bool {
		out = append(out, b.Clone())
		return true
	})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.dir.election.IsLeader() {
		w.Write([]byte("leader"))
		return
	}
	w.Write([]byte("follower"))
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotLeader):
		if leader, ok, lerr := s.dir.election.CurrentLeader(context.Background()); lerr == nil && ok {
			w.Header().Set("X-Leader-Hint", leader)
		}
		http.Error(w, "not leader", http.StatusConflict)
		metrics.APIRequestsTotal.WithLabelValues(op, "not_leader").Inc()
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		metrics.APIRequestsTotal.WithLabelValues(op, "not_found").Inc()
	default:
		log.WithComponent("directory.server").Error().Err(err).Str("op", op).Msg("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		metrics.APIRequestsTotal.WithLabelValues(op, "error").Inc()
	}
}

func parsePhotoID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(r.URL.Query().Get("id"), 10, 64)
}
