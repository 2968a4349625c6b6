// Package api exposes the client-facing HTTP surface of a node: file
// get/put, the local index, health, and Prometheus metrics. It is a thin
// shim over the replication engine; all distributed behavior lives in
// the node package.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meshstore/meshstore/internal/metrics"
	"github.com/meshstore/meshstore/internal/node"
	"github.com/meshstore/meshstore/internal/store"
	"github.com/meshstore/meshstore/pkg/proto"
)

// Server serves the client API for one node.
type Server struct {
	node   *node.Node
	mux    *http.ServeMux
	logger zerolog.Logger
}

// NewServer assembles the API routes.
func NewServer(n *node.Node) *Server {
	s := &Server{
		node:   n,
		mux:    http.NewServeMux(),
		logger: log.With().Str("component", "api").Logger(),
	}
	s.mux.HandleFunc("/files/", s.handleFiles)
	s.mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/healthz", s.handleHealth)
	return s
}

// Handler returns the assembled route handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves the API until ctx is cancelled.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("listen", listen).Msg("client API listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("client API: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"node":   s.node.Self().String(),
	})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/files/")

	if name == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleIndex(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, r, name)
	case http.MethodPut, http.MethodPost:
		s.handlePut(w, r, name)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	names, err := s.node.Index()
	if err != nil {
		http.Error(w, "listing failed", http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string][]string{"files": names})
}

// handleGet resolves the authoritative copy across the mesh and serves
// it. Only the fetch-from-winner step can fail hard.
func (s *Server) handleGet(w http.ResponseWriter, _ *http.Request, name string) {
	reqID := uuid.NewString()

	data, claim, err := s.node.ResolveAndServe(name)
	switch {
	case errors.Is(err, store.ErrInvalidName):
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "file not found", http.StatusNotFound)
		return
	case err != nil:
		s.logger.Error().Err(err).Str("req", reqID).Str("file", name).Msg("read failed")
		http.Error(w, "error retrieving file", http.StatusBadGateway)
		return
	}

	s.logger.Info().
		Str("req", reqID).
		Str("file", name).
		Str("owner", claim.Owner.String()).
		Int("size", len(data)).
		Msg("file served")

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Last-Modified", time.Unix(0, claim.ModTime).UTC().Format(http.TimeFormat))
	_, _ = w.Write(data)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, name string) {
	reqID := uuid.NewString()

	body, err := io.ReadAll(io.LimitReader(r.Body, proto.MaxFileBytes+1))
	if err != nil {
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}
	if len(body) > proto.MaxFileBytes {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := s.node.AcceptUpload(name, body); err != nil {
		if errors.Is(err, store.ErrInvalidName) {
			http.Error(w, "invalid filename", http.StatusBadRequest)
			return
		}
		s.logger.Error().Err(err).Str("req", reqID).Str("file", name).Msg("upload failed")
		http.Error(w, "error storing file", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
