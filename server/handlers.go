package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jpequegn/iceberg-lakehouse/catalog"
	"github.com/jpequegn/iceberg-lakehouse/convert"
	"github.com/jpequegn/iceberg-lakehouse/format"
	"github.com/jpequegn/iceberg-lakehouse/mutate"
	"github.com/jpequegn/iceberg-lakehouse/query"
)

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

type queryRequest struct {
	SQL      string `json:"sql"`
	Bindings []struct {
		Table          string    `json:"table"`
		Alias          string    `json:"alias"`
		AsOfSnapshotID int64     `json:"as_of_snapshot_id"`
		AsOfTime       time.Time `json:"as_of_time"`
	} `json:"bindings"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	var bindings []query.Binding
	for _, b := range req.Bindings {
		bindings = append(bindings, query.Binding{
			Table:          b.Table,
			Alias:          b.Alias,
			AsOfSnapshotID: b.AsOfSnapshotID,
			AsOfTime:       b.AsOfTime,
		})
	}
	rs, err := s.lh.Query().Execute(r.Context(), req.SQL, bindings)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleQueryExternal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SQL    string `json:"sql"`
		Path   string `json:"path"`
		Format string `json:"format"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	rs, err := s.lh.Query().QueryExternal(r.Context(), req.SQL, req.Path, format.Format(req.Format))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	names, err := s.lh.Catalog().ListTables(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": names, "count": len(names)})
}

func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string            `json:"name"`
		Schema     catalog.Schema    `json:"schema"`
		Properties map[string]string `json:"properties"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	meta, err := s.lh.Catalog().CreateTable(r.Context(), req.Name, req.Schema, req.Properties)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tableSummary(meta))
}

func tableSummary(meta *catalog.TableMetadata) map[string]any {
	cur := meta.CurrentSnapshotRef()
	return map[string]any{
		"name":             meta.Identifier(),
		"uuid":             meta.TableUUID,
		"location":         meta.Location,
		"schema":           meta.CurrentSchema(),
		"schema_version":   meta.CurrentSchemaID,
		"current_snapshot": meta.CurrentSnapshot,
		"total_records":    cur.TotalRecords,
		"snapshot_count":   len(meta.Snapshots),
		"properties":       meta.Properties,
	}
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	meta, err := s.lh.Catalog().LoadTable(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tableSummary(meta))
}

func (s *Server) handleDropTable(w http.ResponseWriter, r *http.Request) {
	if err := s.lh.Catalog().DropTable(r.Context(), chi.URLParam(r, "table")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dropped"})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	seq, err := s.lh.Catalog().ListSnapshots(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	snaps := []catalog.Snapshot{}
	for snap := range seq {
		snaps = append(snaps, snap)
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps, "count": len(snaps)})
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rows    []convert.Row `json:"rows"`
		Format  string        `json:"format"`
		Compact bool          `json:"compact"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.lh.Mutate().Insert(r.Context(), chi.URLParam(r, "table"), req.Rows,
		mutate.WriteOptions{Format: req.Format, Compact: req.Compact})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Predicate string `json:"predicate"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.lh.Mutate().Delete(r.Context(), chi.URLParam(r, "table"), req.Predicate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Predicate   string            `json:"predicate"`
		Assignments map[string]string `json:"assignments"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.lh.Mutate().Update(r.Context(), chi.URLParam(r, "table"), req.Predicate, req.Assignments)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KeyColumns []string      `json:"key_columns"`
		Rows       []convert.Row `json:"rows"`
		Format     string        `json:"format"`
		Compact    bool          `json:"compact"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.lh.Mutate().Upsert(r.Context(), chi.URLParam(r, "table"), req.KeyColumns, req.Rows,
		mutate.WriteOptions{Format: req.Format, Compact: req.Compact})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ops []mutate.Op `json:"ops"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	results, err := s.lh.Mutate().Batch(r.Context(), chi.URLParam(r, "table"), req.Ops)
	if err != nil {
		// Partial results: completed ops stay committed.
		writeJSON(w, statusFor(err), map[string]any{
			"error":     err.Error(),
			"completed": results,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SnapshotID int64 `json:"snapshot_id"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	meta, err := s.lh.Catalog().Rollback(r.Context(), chi.URLParam(r, "table"), req.SnapshotID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tableSummary(meta))
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RetainLast int `json:"retain_last"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.lh.Catalog().ExpireSnapshots(r.Context(), chi.URLParam(r, "table"), req.RetainLast)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAlterSchema(w http.ResponseWriter, r *http.Request) {
	var op catalog.SchemaOp
	if err := decode(r, &op); err != nil {
		s.writeError(w, err)
		return
	}
	meta, err := s.lh.Catalog().AlterSchema(r.Context(), chi.URLParam(r, "table"), op)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tableSummary(meta))
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	v, ok, err := s.lh.Catalog().GetProperty(r.Context(), chi.URLParam(r, "table"), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "property not set"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": v})
}

func (s *Server) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.lh.Catalog().SetProperty(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "key"), req.Value); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "set"})
}

func (s *Server) handleRemoveProperty(w http.ResponseWriter, r *http.Request) {
	if err := s.lh.Catalog().RemoveProperty(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "key")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Src     string `json:"src"`
		Dst     string `json:"dst"`
		Format  string `json:"format"`
		Compact bool   `json:"compact"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	target, err := format.Parse(req.Format)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := convert.ConvertFile(r.Context(), req.Src, req.Dst, target, req.Compact)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, fmt.Errorf("%w: path query parameter is required", errBadRequest))
		return
	}
	info, err := convert.Inspect(path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
