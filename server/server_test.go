package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	lakehouse "github.com/jpequegn/iceberg-lakehouse"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	lh, err := lakehouse.Open(context.Background(), t.TempDir(), lakehouse.WithArrowNative(false))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ts := httptest.NewServer(New(lh, nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func createEventsTable(t *testing.T, ts *httptest.Server) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/tables", map[string]any{
		"name": "events",
		"schema": map[string]any{
			"fields": []map[string]any{
				{"name": "id", "type": "long", "required": true},
				{"name": "name", "type": "string"},
			},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create table: status %d, body %v", resp.StatusCode, body)
	}
}

func TestTableLifecycle(t *testing.T) {
	ts := newTestServer(t)
	createEventsTable(t, ts)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/tables", nil)
	if resp.StatusCode != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("list tables: status %d, body %v", resp.StatusCode, body)
	}

	// Duplicate create conflicts.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/tables", map[string]any{
		"name":   "events",
		"schema": map[string]any{"fields": []map[string]any{{"name": "id", "type": "long"}}},
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate create: status %d, want 409", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/tables/nosuch", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing table: status %d, want 404", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/tables/events", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("drop: status %d", resp.StatusCode)
	}
}

func TestInsertAndQuery(t *testing.T) {
	ts := newTestServer(t)
	createEventsTable(t, ts)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/tables/events/rows", map[string]any{
		"rows": []map[string]any{
			{"id": 1, "name": "a"},
			{"id": 2, "name": "b"},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("insert: status %d, body %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/query", map[string]any{
		"sql": `SELECT count(*) AS c FROM events`,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query: status %d, body %v", resp.StatusCode, body)
	}
	rows := body["rows"].([]any)
	if len(rows) != 1 || rows[0].(map[string]any)["c"] != float64(2) {
		t.Errorf("query rows = %v", rows)
	}

	// Bad SQL surfaces as 400.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/query", map[string]any{"sql": "SELECT FROM WHERE"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad sql: status %d, want 400", resp.StatusCode)
	}
}

func TestSnapshotsAndRollback(t *testing.T) {
	ts := newTestServer(t)
	createEventsTable(t, ts)

	doJSON(t, http.MethodPost, ts.URL+"/api/v1/tables/events/rows", map[string]any{
		"rows": []map[string]any{{"id": 1, "name": "a"}},
	})
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/tables/events/rows", map[string]any{
		"rows": []map[string]any{{"id": 2, "name": "b"}},
	})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/tables/events/snapshots", nil)
	if resp.StatusCode != http.StatusOK || body["count"] != float64(3) {
		t.Fatalf("snapshots: status %d, body %v", resp.StatusCode, body)
	}
	snaps := body["snapshots"].([]any)
	// Newest first; roll back to the middle one (first insert).
	target := snaps[1].(map[string]any)["snapshot-id"].(float64)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/tables/events/rollback", map[string]any{
		"snapshot_id": int64(target),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rollback: status %d, body %v", resp.StatusCode, body)
	}
	if body["total_records"] != float64(1) {
		t.Errorf("after rollback total_records = %v, want 1", body["total_records"])
	}
}

func TestProperties(t *testing.T) {
	ts := newTestServer(t)
	createEventsTable(t, ts)
	base := ts.URL + "/api/v1/tables/events/properties/write.format.default"

	resp, _ := doJSON(t, http.MethodGet, base, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unset property: status %d, want 404", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPut, base, map[string]string{"value": "arrow"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set property: status %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, base, nil)
	if resp.StatusCode != http.StatusOK || body["value"] != "arrow" {
		t.Errorf("get property: status %d, body %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodDelete, base, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("remove property: status %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: status %d, body %v", resp.StatusCode, body)
	}
	if _, ok := body["arrow_native"]; !ok {
		t.Error("healthz does not report the arrow reader path")
	}
}
