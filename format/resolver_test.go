package format

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jpequegn/iceberg-lakehouse/catalog"
	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
)

func tableMeta(props map[string]string) *catalog.TableMetadata {
	return &catalog.TableMetadata{
		Namespace:  catalog.DefaultNamespace,
		Name:       "events",
		Properties: props,
	}
}

func writeConfig(t *testing.T, body string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lakehouse.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	return cfg
}

func TestParse(t *testing.T) {
	for _, s := range []string{"parquet", "arrow"} {
		if _, err := Parse(s); err != nil {
			t.Errorf("Parse(%q): %v", s, err)
		}
	}
	if _, err := Parse("orc"); !lakeerr.IsValidation(err) {
		t.Errorf("Parse(orc): got %v, want ValidationError", err)
	}
}

func TestResolvePrecedence(t *testing.T) {
	cfg := writeConfig(t, `
defaults:
  format: arrow
tables:
  - name: events
    format: parquet
`)
	r := NewResolver(cfg, nil)

	// Override beats everything.
	f, src, err := r.Resolve(tableMeta(map[string]string{catalog.PropertyWriteFormat: "parquet"}), "arrow")
	if err != nil || f != Arrow || src != SourceOverride {
		t.Errorf("override: got %v/%v/%v", f, src, err)
	}

	// Table property beats config.
	f, src, err = r.Resolve(tableMeta(map[string]string{catalog.PropertyWriteFormat: "arrow"}), "")
	if err != nil || f != Arrow || src != SourceTableProperty {
		t.Errorf("property: got %v/%v/%v", f, src, err)
	}

	// Per-table config beats the default.
	f, src, err = r.Resolve(tableMeta(nil), "")
	if err != nil || f != Parquet || src != SourceTableConfig {
		t.Errorf("table config: got %v/%v/%v", f, src, err)
	}

	// Config default applies to unconfigured tables.
	other := &catalog.TableMetadata{Namespace: "analytics", Name: "clicks"}
	f, src, err = r.Resolve(other, "")
	if err != nil || f != Arrow || src != SourceDefaultConfig {
		t.Errorf("default config: got %v/%v/%v", f, src, err)
	}
}

func TestResolveFallback(t *testing.T) {
	r := NewResolver(nil, nil)
	f, src, err := r.Resolve(tableMeta(nil), "")
	if err != nil || f != Parquet || src != SourceFallback {
		t.Errorf("fallback: got %v/%v/%v", f, src, err)
	}
}

func TestResolveInvalidInputs(t *testing.T) {
	r := NewResolver(nil, nil)

	if _, _, err := r.Resolve(tableMeta(nil), "csv"); !lakeerr.IsValidation(err) {
		t.Errorf("bad override: got %v, want ValidationError", err)
	}
	// A corrupt stored property errors rather than falling through.
	if _, _, err := r.Resolve(tableMeta(map[string]string{catalog.PropertyWriteFormat: "csv"}), ""); !lakeerr.IsValidation(err) {
		t.Errorf("bad property: got %v, want ValidationError", err)
	}
}

func TestConfigQualifiedNames(t *testing.T) {
	cfg := writeConfig(t, `
tables:
  - name: analytics.clicks
    format: arrow
`)
	r := NewResolver(cfg, nil)
	meta := &catalog.TableMetadata{Namespace: "analytics", Name: "clicks"}
	f, src, err := r.Resolve(meta, "")
	if err != nil || f != Arrow || src != SourceTableConfig {
		t.Errorf("qualified lookup: got %v/%v/%v", f, src, err)
	}
}

func TestConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig on missing file: %v", err)
	}
	if _, ok := cfg.DefaultFormat(); ok {
		t.Error("missing file produced a default format")
	}
}

func TestConfigRejectsInvalidFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lakehouse.yaml")
	if err := os.WriteFile(path, []byte("defaults:\n  format: orc\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("invalid format in config accepted")
	}
}

func TestConfigSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lakehouse.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if err := cfg.SetDefaultFormat(Arrow); err != nil {
		t.Fatalf("SetDefaultFormat: %v", err)
	}
	if err := cfg.SetTableFormat("events", Parquet); err != nil {
		t.Fatalf("SetTableFormat: %v", err)
	}

	fresh, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if f, ok := fresh.DefaultFormat(); !ok || f != Arrow {
		t.Errorf("persisted default = %v ok=%v, want arrow", f, ok)
	}
	if f, ok := fresh.TableFormat("events"); !ok || f != Parquet {
		t.Errorf("persisted table format = %v ok=%v, want parquet", f, ok)
	}

	if err := fresh.RemoveTableFormat("events"); err != nil {
		t.Fatalf("RemoveTableFormat: %v", err)
	}
	if err := fresh.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, ok := fresh.TableFormat("events"); ok {
		t.Error("removed table format still present after reload")
	}
}
