package store

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServerPutGetDelete(t *testing.T) {
	s := newTestStore(t)
	srv := NewServer(s, nil)

	putReq := httptest.NewRequest(http.MethodPost, "/put?id=42", bytes.NewReader([]byte("payload")))
	putRec := httptest.NewRecorder()
	srv.mux.ServeHTTP(putRec, putReq)
	require.Equal(t, http.StatusOK, putRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/get?id=42", nil)
	getRec := httptest.NewRecorder()
	srv.mux.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
	require.Equal(t, "payload", getRec.Body.String())

	delReq := httptest.NewRequest(http.MethodDelete, "/del?id=42", nil)
	delRec := httptest.NewRecorder()
	srv.mux.ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusOK, delRec.Code)

	getReq2 := httptest.NewRequest(http.MethodGet, "/get?id=42", nil)
	getRec2 := httptest.NewRecorder()
	srv.mux.ServeHTTP(getRec2, getReq2)
	require.Equal(t, http.StatusNotFound, getRec2.Code)
}

func TestServerStats(t *testing.T) {
	s := newTestStore(t)
	srv := NewServer(s, nil)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "free_bytes")
}

func TestServerGetMissingReturns404(t *testing.T) {
	s := newTestStore(t)
	srv := NewServer(s, nil)

	req := httptest.NewRequest(http.MethodGet, "/get?id=1", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
