// Copyright (C) 2025-2026 CartaHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package navapi exposes the hierarchy resolver over HTTP/JSON.
package navapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/cartahq/cartanav/hierdb"
	"github.com/cartahq/cartanav/internal/resolver"
)

// Service serves navigation queries. Construct with NewService and drive
// with Run.
type Service struct {
	resolver *resolver.Resolver
	port     int
}

func NewService(res *resolver.Resolver) *Service {
	port := 8080
	if portStr := os.Getenv("NAVAPI_PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil && p > 0 && p < 65536 {
			port = p
		}
	}
	return &Service{resolver: res, port: port}
}

// envelope wraps every successful response with its provenance, so
// callers can see which tier answered and whether the answer is stale.
type envelope struct {
	Value    any      `json:"value"`
	Source   string   `json:"source"`
	Stale    bool     `json:"stale,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func writeResult[T any](w http.ResponseWriter, res resolver.Result[T]) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope{
		Value:    res.Value,
		Source:   string(res.Source),
		Stale:    res.Stale,
		Warnings: res.Warnings,
	})
}

func (s *Service) Run(doneCtx context.Context) error {
	slog.Info("Starting navigation API", slog.Int("port", s.port))

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/entities/{id}", s.handleGetEntity)
	mux.HandleFunc("GET /api/v1/entities/{id}/ancestors", s.handleAncestors)
	mux.HandleFunc("GET /api/v1/entities/{id}/descendants", s.handleDescendants)
	mux.HandleFunc("GET /api/v1/entities", s.handleGetEntityByPath)
	mux.HandleFunc("POST /api/v1/entities", s.handleCreateEntity)
	mux.HandleFunc("POST /api/v1/entities/{id}/name", s.handleRenameEntity)
	mux.HandleFunc("POST /api/v1/projection/refresh", s.handleRefreshProjection)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start HTTP server", slog.Any("error", err))
		}
	}()

	<-doneCtx.Done()

	slog.Info("Shutting down navigation API")
	if err := srv.Shutdown(context.Background()); err != nil {
		slog.Error("Failed to shutdown HTTP server", slog.Any("error", err))
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func entityID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("id"))
}

func (s *Service) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id, err := entityID(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, ErrBadRequest, "invalid entity id")
		return
	}
	res, err := s.resolver.GetEntity(r.Context(), id)
	if err != nil {
		writeResolverError(w, err)
		return
	}
	writeResult(w, res)
}

func (s *Service) handleGetEntityByPath(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeAPIError(w, http.StatusBadRequest, ErrBadRequest, "path query parameter required")
		return
	}
	res, err := s.resolver.GetEntityByPath(r.Context(), path)
	if err != nil {
		writeResolverError(w, err)
		return
	}
	writeResult(w, res)
}

func (s *Service) handleAncestors(w http.ResponseWriter, r *http.Request) {
	id, err := entityID(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, ErrBadRequest, "invalid entity id")
		return
	}
	res, err := s.resolver.ResolveAncestors(r.Context(), id)
	if err != nil {
		writeResolverError(w, err)
		return
	}
	writeResult(w, res)
}

func (s *Service) handleDescendants(w http.ResponseWriter, r *http.Request) {
	id, err := entityID(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, ErrBadRequest, "invalid entity id")
		return
	}
	var limit int32
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.ParseInt(l, 10, 32)
		if err != nil || v < 0 {
			writeAPIError(w, http.StatusBadRequest, ErrBadRequest, "invalid limit")
			return
		}
		limit = int32(v)
	}
	res, err := s.resolver.ResolveDescendants(r.Context(), id, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		writeResolverError(w, err)
		return
	}
	writeResult(w, res)
}

type createEntityRequest struct {
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	Segment    string         `json:"segment"`
	ParentID   *uuid.UUID     `json:"parentId,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (s *Service) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req createEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" || req.Segment == "" {
		writeAPIError(w, http.StatusBadRequest, ErrBadRequest, "name and segment are required")
		return
	}

	entity, err := s.resolver.CreateEntity(r.Context(), hierdb.InsertEntityParams{
		ID:         uuid.New(),
		Name:       req.Name,
		Kind:       hierdb.EntityKind(req.Kind),
		Segment:    req.Segment,
		ParentID:   req.ParentID,
		Confidence: req.Confidence,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeAPIError(w, http.StatusUnprocessableEntity, ErrBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(entity)
}

type renameEntityRequest struct {
	Name string `json:"name"`
}

func (s *Service) handleRenameEntity(w http.ResponseWriter, r *http.Request) {
	id, err := entityID(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, ErrBadRequest, "invalid entity id")
		return
	}
	var req renameEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeAPIError(w, http.StatusBadRequest, ErrBadRequest, "name is required")
		return
	}
	entity, err := s.resolver.RenameEntity(r.Context(), id, req.Name)
	if err != nil {
		writeResolverError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entity)
}

func (s *Service) handleRefreshProjection(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	rows, err := s.resolver.RefreshProjection(r.Context(), scope)
	if err != nil {
		writeResolverError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"rows": rows})
}
