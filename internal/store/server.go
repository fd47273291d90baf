package store

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/voltgrid/haystack/internal/client"
	"github.com/voltgrid/haystack/internal/log"
	"github.com/voltgrid/haystack/internal/metrics"
	"github.com/voltgrid/haystack/internal/ratelimit"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server exposes a Store over the put/get/del/stats/copy HTTP contract,
// mirroring the teacher's one-ServeMux-with-handler-funcs style.
type Server struct {
	store   *Store
	limiter *ratelimit.Limiter
	mux     *http.ServeMux
}

// NewServer wires handlers onto a fresh ServeMux. limiter may be nil to
// disable rate limiting (e.g. in tests).
func NewServer(s *Store, limiter *ratelimit.Limiter) *Server {
	srv := &Server{store: s, limiter: limiter, mux: http.NewServeMux()}

	writeHandlers := map[string]http.HandlerFunc{
		"/put":  srv.handlePut,
		"/del":  srv.handleDelete,
		"/copy": srv.handleCopy,
	}
	for path, h := range writeHandlers {
		if limiter != nil {
			srv.mux.Handle(path, limiter.Middleware(h))
		} else {
			srv.mux.HandleFunc(path, h)
		}
	}

	srv.mux.HandleFunc("/get", srv.handleGet)
	srv.mux.HandleFunc("/stats", srv.handleStats)
	srv.mux.HandleFunc("/healthz", srv.handleHealthz)
	srv.mux.HandleFunc("/readyz", srv.handleHealthz)
	srv.mux.Handle("/metrics", metrics.Handler())

	return srv
}

// ListenAndServe blocks serving on addr.
func (s *Server) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

func parsePhotoID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(r.URL.Query().Get("id"), 10, 64)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	photoID, err := parsePhotoID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if err := s.store.Put(r.Context(), photoID, data); err != nil {
		switch {
		case errors.Is(err, ErrFull):
			http.Error(w, err.Error(), http.StatusInsufficientStorage)
		default:
			log.WithComponent("store.server").Error().Err(err).Uint64("photo_id", photoID).Msg("put failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		metrics.APIRequestsTotal.WithLabelValues("put", "error").Inc()
		return
	}
	metrics.APIRequestsTotal.WithLabelValues("put", "ok").Inc()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	photoID, err := parsePhotoID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	data, err := s.store.Get(photoID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
			metrics.APIRequestsTotal.WithLabelValues("get", "not_found").Inc()
		case errors.Is(err, ErrCorrupt):
			http.Error(w, "corrupt", http.StatusInternalServerError)
			metrics.APIRequestsTotal.WithLabelValues("get", "corrupt").Inc()
		default:
			http.Error(w, "internal error", http.StatusInternalServerError)
			metrics.APIRequestsTotal.WithLabelValues("get", "error").Inc()
		}
		return
	}
	metrics.APIRequestsTotal.WithLabelValues("get", "ok").Inc()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	photoID, err := parsePhotoID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.store.Delete(r.Context(), photoID); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			metrics.APIRequestsTotal.WithLabelValues("delete", "not_found").Inc()
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		metrics.APIRequestsTotal.WithLabelValues("delete", "error").Inc()
		return
	}
	metrics.APIRequestsTotal.WithLabelValues("delete", "ok").Inc()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	photoID, err := parsePhotoID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	to := r.URL.Query().Get("to")
	if to == "" {
		http.Error(w, "missing to", http.StatusBadRequest)
		return
	}

	data, err := s.store.Get(photoID)
	if err != nil {
		http.Error(w, "source read failed: "+err.Error(), http.StatusNotFound)
		metrics.APIRequestsTotal.WithLabelValues("copy", "error").Inc()
		return
	}

	peer := client.NewStoreClient(to)
	if err := peer.Put(r.Context(), photoID, data); err != nil {
		log.WithComponent("store.server").Error().Err(err).Uint64("photo_id", photoID).Str("to", to).Msg("copy_to failed")
		http.Error(w, "copy failed: "+err.Error(), http.StatusBadGateway)
		metrics.APIRequestsTotal.WithLabelValues("copy", "error").Inc()
		return
	}
	metrics.APIRequestsTotal.WithLabelValues("copy", "ok").Inc()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
