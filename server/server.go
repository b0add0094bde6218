// Package server exposes a lakehouse over JSON/HTTP. It is a thin layer:
// every endpoint delegates to the library engines and translates their
// typed errors to status codes.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	lakehouse "github.com/jpequegn/iceberg-lakehouse"
	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
)

// Server serves the HTTP API for one lakehouse.
type Server struct {
	lh     *lakehouse.Lakehouse
	logger *slog.Logger
}

// New creates a Server over an opened lakehouse.
func New(lh *lakehouse.Lakehouse, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{lh: lh, logger: logger.With("component", "server")}
}

// Handler returns the full route tree.
//
//	POST   /api/v1/query                       — run SQL over catalog tables
//	POST   /api/v1/query/external              — run SQL over a standalone file
//	GET    /api/v1/tables                      — list tables
//	POST   /api/v1/tables                      — create table
//	GET    /api/v1/tables/{table}              — table metadata
//	DELETE /api/v1/tables/{table}              — drop table
//	GET    /api/v1/tables/{table}/snapshots    — snapshot history, newest first
//	POST   /api/v1/tables/{table}/rows         — insert rows
//	POST   /api/v1/tables/{table}/delete       — predicate delete
//	POST   /api/v1/tables/{table}/update       — predicate update
//	POST   /api/v1/tables/{table}/upsert       — key-based upsert
//	POST   /api/v1/tables/{table}/batch        — ordered mutation batch
//	POST   /api/v1/tables/{table}/rollback     — move current to a snapshot
//	POST   /api/v1/tables/{table}/expire       — expire old snapshots
//	POST   /api/v1/tables/{table}/schema       — evolve the schema
//	GET    /api/v1/tables/{table}/properties/{key}
//	PUT    /api/v1/tables/{table}/properties/{key}
//	DELETE /api/v1/tables/{table}/properties/{key}
//	POST   /api/v1/convert                     — convert a data file
//	GET    /api/v1/files/info?path=            — inspect a data file
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"arrow_native": s.lh.ArrowNative(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Post("/query/external", s.handleQueryExternal)

		r.Get("/tables", s.handleListTables)
		r.Post("/tables", s.handleCreateTable)
		r.Route("/tables/{table}", func(r chi.Router) {
			r.Get("/", s.handleGetTable)
			r.Delete("/", s.handleDropTable)
			r.Get("/snapshots", s.handleListSnapshots)
			r.Post("/rows", s.handleInsert)
			r.Post("/delete", s.handleDelete)
			r.Post("/update", s.handleUpdate)
			r.Post("/upsert", s.handleUpsert)
			r.Post("/batch", s.handleBatch)
			r.Post("/rollback", s.handleRollback)
			r.Post("/expire", s.handleExpire)
			r.Post("/schema", s.handleAlterSchema)
			r.Get("/properties/{key}", s.handleGetProperty)
			r.Put("/properties/{key}", s.handleSetProperty)
			r.Delete("/properties/{key}", s.handleRemoveProperty)
		})

		r.Post("/convert", s.handleConvert)
		r.Get("/files/info", s.handleFileInfo)
	})
	return r
}

// HTTPServer wraps the handler in an http.Server with sane timeouts.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case lakeerr.IsNotFound(err):
		return http.StatusNotFound
	case lakeerr.IsAlreadyExists(err), lakeerr.IsConcurrentModification(err):
		return http.StatusConflict
	case lakeerr.IsValidation(err), lakeerr.IsSchemaViolation(err), lakeerr.IsQuery(err), lakeerr.IsConversion(err):
		return http.StatusBadRequest
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
