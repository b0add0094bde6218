package catalog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
	"github.com/jpequegn/iceberg-lakehouse/metrics"
)

// DefaultNamespace is used when a table name carries no namespace prefix.
const DefaultNamespace = "default"

// Catalog stores table metadata as versioned JSON files under a warehouse
// directory. Table location: {warehouse}/{namespace}/{table}/.
type Catalog struct {
	warehouse string
	storage   Storage
	logger    *slog.Logger

	mu      sync.Mutex
	commits map[string]*sync.Mutex // per-table commit locks
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithStorage overrides the storage backend (default LocalStorage).
func WithStorage(s Storage) Option {
	return func(c *Catalog) { c.storage = s }
}

// WithLogger sets the logger. If not set, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

// New creates a catalog rooted at the given warehouse directory.
func New(warehouse string, opts ...Option) *Catalog {
	c := &Catalog{
		warehouse: warehouse,
		storage:   &LocalStorage{},
		commits:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "catalog")
	return c
}

// Warehouse returns the warehouse root directory.
func (c *Catalog) Warehouse() string { return c.warehouse }

// Storage returns the storage backend, for writers that need to place data
// files next to the metadata this catalog manages.
func (c *Catalog) Storage() Storage { return c.storage }

// SplitName splits a table name into namespace and short name, applying
// DefaultNamespace when no namespace is given.
func SplitName(name string) (namespace, table string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return DefaultNamespace, name
}

func (c *Catalog) tablePath(ns, table string) string {
	return filepath.Join(c.warehouse, ns, table)
}

func (c *Catalog) metadataDir(ns, table string) string {
	return filepath.Join(c.tablePath(ns, table), "metadata")
}

// NewDataFilePath returns a fresh, unique path for a data file of the table,
// with the given extension (e.g. ".parquet").
func (c *Catalog) NewDataFilePath(meta *TableMetadata, ext string) string {
	return filepath.Join(meta.Location, "data", uuid.New().String()+ext)
}

func (c *Catalog) commitLock(ns, table string) *sync.Mutex {
	key := ns + "." + table
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.commits[key]
	if !ok {
		l = &sync.Mutex{}
		c.commits[key] = l
	}
	return l
}

// CreateTable creates a new table with an empty initial snapshot. It fails
// with lakeerr.AlreadyExistsError if the name is taken.
func (c *Catalog) CreateTable(ctx context.Context, name string, schema Schema, props map[string]string) (*TableMetadata, error) {
	ns, table := SplitName(name)

	normalized, err := normalizeSchema(name, schema)
	if err != nil {
		return nil, err
	}

	metaDir := c.metadataDir(ns, table)
	version, err := c.latestVersion(ctx, metaDir)
	if err != nil {
		return nil, err
	}
	if version > 0 {
		return nil, &lakeerr.AlreadyExistsError{Kind: "table", Name: ns + "." + table}
	}

	meta := newTableMetadata(ns, table, c.tablePath(ns, table), normalized, props)

	data, err := writeMetadata(meta)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(metaDir, "v1.metadata.json")
	if err := c.storage.WriteExclusive(ctx, path, data); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, &lakeerr.AlreadyExistsError{Kind: "table", Name: ns + "." + table}
		}
		return nil, fmt.Errorf("write metadata v1: %w", err)
	}
	if err := c.writeVersionHint(ctx, metaDir, 1); err != nil {
		return nil, err
	}

	c.logger.Info("table created", "table", meta.Identifier(), "columns", len(normalized.Fields))
	return meta, nil
}

// LoadTable loads the current metadata for a table. It fails with
// lakeerr.NotFoundError if the table does not exist.
func (c *Catalog) LoadTable(ctx context.Context, name string) (*TableMetadata, error) {
	meta, _, err := c.loadLatest(ctx, name)
	return meta, err
}

// loadLatest reads the newest metadata version and its version number.
func (c *Catalog) loadLatest(ctx context.Context, name string) (*TableMetadata, int, error) {
	ns, table := SplitName(name)
	metaDir := c.metadataDir(ns, table)

	version, err := c.latestVersion(ctx, metaDir)
	if err != nil {
		return nil, 0, err
	}
	if version < 1 {
		return nil, 0, &lakeerr.NotFoundError{Kind: "table", Name: ns + "." + table}
	}

	path := filepath.Join(metaDir, fmt.Sprintf("v%d.metadata.json", version))
	data, err := c.storage.Read(ctx, path)
	if err != nil {
		return nil, 0, fmt.Errorf("read metadata v%d: %w", version, err)
	}
	meta, err := readMetadata(data)
	if err != nil {
		return nil, 0, fmt.Errorf("parse metadata v%d: %w", version, err)
	}
	return meta, version, nil
}

// DropTable removes a table's metadata and data files.
func (c *Catalog) DropTable(ctx context.Context, name string) error {
	ns, table := SplitName(name)
	metaDir := c.metadataDir(ns, table)
	version, err := c.latestVersion(ctx, metaDir)
	if err != nil {
		return err
	}
	if version < 1 {
		return &lakeerr.NotFoundError{Kind: "table", Name: ns + "." + table}
	}
	if err := os.RemoveAll(c.tablePath(ns, table)); err != nil {
		return fmt.Errorf("drop table %s.%s: %w", ns, table, err)
	}
	c.logger.Info("table dropped", "table", ns+"."+table)
	return nil
}

// ListTables returns the namespace-qualified names of all tables in the
// warehouse, sorted.
func (c *Catalog) ListTables(ctx context.Context) ([]string, error) {
	namespaces, err := os.ReadDir(c.warehouse)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list warehouse: %w", err)
	}

	var names []string
	for _, nsEntry := range namespaces {
		if !nsEntry.IsDir() {
			continue
		}
		tables, err := os.ReadDir(filepath.Join(c.warehouse, nsEntry.Name()))
		if err != nil {
			return nil, fmt.Errorf("list namespace %s: %w", nsEntry.Name(), err)
		}
		for _, tEntry := range tables {
			if !tEntry.IsDir() {
				continue
			}
			metaDir := c.metadataDir(nsEntry.Name(), tEntry.Name())
			if v, err := c.latestVersion(ctx, metaDir); err == nil && v >= 1 {
				names = append(names, nsEntry.Name()+"."+tEntry.Name())
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// CommitSnapshot atomically replaces the table's current snapshot with a new
// one holding the given data file set, but only if baseSnapshotID still names
// the current snapshot at commit time. On mismatch it fails with
// lakeerr.ConcurrentModificationError and the caller must re-read and retry
// or abort.
func (c *Catalog) CommitSnapshot(ctx context.Context, name string, baseSnapshotID int64, files []DataFile, schemaID int, summary map[string]string) (*TableMetadata, error) {
	ns, table := SplitName(name)
	lock := c.commitLock(ns, table)
	lock.Lock()
	defer lock.Unlock()

	meta, version, err := c.loadLatest(ctx, name)
	if err != nil {
		return nil, err
	}
	if meta.CurrentSnapshot != baseSnapshotID {
		metrics.SnapshotCommits.WithLabelValues("conflict").Inc()
		return nil, &lakeerr.ConcurrentModificationError{
			Table:          meta.Identifier(),
			BaseSnapshotID: baseSnapshotID,
			CurrentID:      meta.CurrentSnapshot,
		}
	}
	if _, ok := meta.SchemaByID(schemaID); !ok {
		return nil, &lakeerr.ValidationError{Field: "schema_version", Reason: fmt.Sprintf("schema %d not present on table %s", schemaID, meta.Identifier())}
	}

	snapID := generateSnapshotID()

	// Mark files carried over from the parent as existing, the rest as added.
	parentFiles := map[string]bool{}
	if parent, ok := meta.SnapshotByID(baseSnapshotID); ok && parent.ManifestPath != "" {
		prev, err := c.readManifestFile(ctx, parent.ManifestPath)
		if err != nil {
			return nil, err
		}
		for _, f := range prev {
			parentFiles[f.FilePath] = true
		}
	}
	statuses := make([]int, len(files))
	var totalRecords int64
	for i, f := range files {
		totalRecords += f.RecordCount
		if parentFiles[f.FilePath] {
			statuses[i] = ManifestEntryStatusExisting
		} else {
			statuses[i] = ManifestEntryStatusAdded
		}
	}

	manifestData, err := writeManifest(snapID, files, statuses)
	if err != nil {
		return nil, err
	}
	manifestPath := filepath.Join(meta.Location, "metadata", fmt.Sprintf("%s-m0.avro", uuid.New().String()))
	if err := c.storage.Write(ctx, manifestPath, manifestData); err != nil {
		return nil, fmt.Errorf("store manifest: %w", err)
	}

	now := time.Now()
	parent := baseSnapshotID
	newMeta := cloneMetadata(meta)
	newMeta.LastSeqNumber++
	newMeta.LastUpdatedMS = now.UnixMilli()
	snap := Snapshot{
		SnapshotID:       snapID,
		ParentSnapshotID: &parent,
		SequenceNumber:   newMeta.LastSeqNumber,
		TimestampMS:      now.UnixMilli(),
		ManifestPath:     manifestPath,
		TotalRecords:     totalRecords,
		Summary:          summary,
		SchemaID:         schemaID,
	}
	newMeta.Snapshots = append(newMeta.Snapshots, snap)
	newMeta.SnapshotLog = append(newMeta.SnapshotLog, SnapshotLogEntry{
		TimestampMS: now.UnixMilli(),
		SnapshotID:  snapID,
	})
	newMeta.CurrentSnapshot = snapID

	if err := c.commitMetadata(ctx, newMeta, version); err != nil {
		return nil, err
	}

	metrics.SnapshotCommits.WithLabelValues("ok").Inc()
	c.logger.Info("snapshot committed",
		"table", newMeta.Identifier(),
		"snapshot", snapID,
		"parent", baseSnapshotID,
		"data_files", len(files),
		"total_records", totalRecords,
	)
	return newMeta, nil
}

// commitMetadata writes the next metadata version file. The exclusive create
// is the atomicity primitive: if another writer got there first, the commit
// surfaces as a ConcurrentModificationError.
func (c *Catalog) commitMetadata(ctx context.Context, meta *TableMetadata, baseVersion int) error {
	metaDir := c.metadataDir(meta.Namespace, meta.Name)
	data, err := writeMetadata(meta)
	if err != nil {
		return err
	}

	newVersion := baseVersion + 1
	path := filepath.Join(metaDir, fmt.Sprintf("v%d.metadata.json", newVersion))
	if err := c.storage.WriteExclusive(ctx, path, data); err != nil {
		if errors.Is(err, os.ErrExist) {
			metrics.SnapshotCommits.WithLabelValues("conflict").Inc()
			return &lakeerr.ConcurrentModificationError{
				Table:          meta.Identifier(),
				BaseSnapshotID: meta.CurrentSnapshot,
				CurrentID:      meta.CurrentSnapshot,
			}
		}
		metrics.SnapshotCommits.WithLabelValues("error").Inc()
		return fmt.Errorf("write metadata v%d: %w", newVersion, err)
	}
	return c.writeVersionHint(ctx, metaDir, newVersion)
}

func (c *Catalog) writeVersionHint(ctx context.Context, metaDir string, version int) error {
	hintPath := filepath.Join(metaDir, "version-hint.text")
	if err := c.storage.Write(ctx, hintPath, []byte(strconv.Itoa(version))); err != nil {
		return fmt.Errorf("write version hint: %w", err)
	}
	return nil
}

// latestVersion finds the highest metadata version. Returns 0 if the table
// does not exist.
func (c *Catalog) latestVersion(ctx context.Context, metaDir string) (int, error) {
	hintPath := filepath.Join(metaDir, "version-hint.text")
	if hintData, err := c.storage.Read(ctx, hintPath); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(string(hintData))); err == nil && v > 0 {
			// The hint may be stale if a commit raced; scan forward from it.
			for {
				next := filepath.Join(metaDir, fmt.Sprintf("v%d.metadata.json", v+1))
				exists, err := c.storage.Exists(ctx, next)
				if err != nil {
					return 0, err
				}
				if !exists {
					break
				}
				v++
			}
			path := filepath.Join(metaDir, fmt.Sprintf("v%d.metadata.json", v))
			if exists, _ := c.storage.Exists(ctx, path); exists {
				return v, nil
			}
		}
	}

	// No usable hint: scan from v1.
	version := 0
	for {
		path := filepath.Join(metaDir, fmt.Sprintf("v%d.metadata.json", version+1))
		exists, err := c.storage.Exists(ctx, path)
		if err != nil {
			return 0, err
		}
		if !exists {
			return version, nil
		}
		version++
	}
}

// ListSnapshots returns a restartable iterator over the table's snapshots,
// newest first.
func (c *Catalog) ListSnapshots(ctx context.Context, name string) (iter.Seq[Snapshot], error) {
	meta, err := c.LoadTable(ctx, name)
	if err != nil {
		return nil, err
	}

	snaps := make([]Snapshot, len(meta.Snapshots))
	copy(snaps, meta.Snapshots)
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].TimestampMS != snaps[j].TimestampMS {
			return snaps[i].TimestampMS > snaps[j].TimestampMS
		}
		return snaps[i].SequenceNumber > snaps[j].SequenceNumber
	})

	return func(yield func(Snapshot) bool) {
		for _, s := range snaps {
			if !yield(s) {
				return
			}
		}
	}, nil
}

// SnapshotAsOf returns the most recent snapshot at or before the given time.
func (m *TableMetadata) SnapshotAsOf(t time.Time) (Snapshot, bool) {
	cutoff := t.UnixMilli()
	var best Snapshot
	found := false
	for _, s := range m.Snapshots {
		if s.TimestampMS > cutoff {
			continue
		}
		if !found || s.TimestampMS > best.TimestampMS ||
			(s.TimestampMS == best.TimestampMS && s.SequenceNumber > best.SequenceNumber) {
			best = s
			found = true
		}
	}
	return best, found
}

// Rollback moves the current pointer to an existing prior snapshot. It does
// not delete intervening snapshots; the target becomes the new tip, so
// subsequent commits branch a new lineage from it.
func (c *Catalog) Rollback(ctx context.Context, name string, snapshotID int64) (*TableMetadata, error) {
	ns, table := SplitName(name)
	lock := c.commitLock(ns, table)
	lock.Lock()
	defer lock.Unlock()

	meta, version, err := c.loadLatest(ctx, name)
	if err != nil {
		return nil, err
	}
	if _, ok := meta.SnapshotByID(snapshotID); !ok {
		return nil, &lakeerr.NotFoundError{Kind: "snapshot", Name: strconv.FormatInt(snapshotID, 10)}
	}
	if meta.CurrentSnapshot == snapshotID {
		return meta, nil
	}

	newMeta := cloneMetadata(meta)
	newMeta.CurrentSnapshot = snapshotID
	newMeta.LastUpdatedMS = time.Now().UnixMilli()
	newMeta.SnapshotLog = append(newMeta.SnapshotLog, SnapshotLogEntry{
		TimestampMS: newMeta.LastUpdatedMS,
		SnapshotID:  snapshotID,
	})

	if err := c.commitMetadata(ctx, newMeta, version); err != nil {
		return nil, err
	}
	c.logger.Info("rolled back", "table", newMeta.Identifier(), "snapshot", snapshotID)
	return newMeta, nil
}

// ExpireResult summarizes an ExpireSnapshots run.
type ExpireResult struct {
	Expired          int
	Remaining        int
	DataFilesDeleted int
}

// ExpireSnapshots deletes all snapshots except the retainLast most recent
// ones and the current snapshot, then removes manifest and data files no
// surviving snapshot references.
func (c *Catalog) ExpireSnapshots(ctx context.Context, name string, retainLast int) (ExpireResult, error) {
	if retainLast < 1 {
		return ExpireResult{}, &lakeerr.ValidationError{Field: "retain_last", Reason: "must be at least 1"}
	}

	ns, table := SplitName(name)
	lock := c.commitLock(ns, table)
	lock.Lock()
	defer lock.Unlock()

	meta, version, err := c.loadLatest(ctx, name)
	if err != nil {
		return ExpireResult{}, err
	}

	ordered := make([]Snapshot, len(meta.Snapshots))
	copy(ordered, meta.Snapshots)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].TimestampMS != ordered[j].TimestampMS {
			return ordered[i].TimestampMS > ordered[j].TimestampMS
		}
		return ordered[i].SequenceNumber > ordered[j].SequenceNumber
	})

	keep := map[int64]bool{meta.CurrentSnapshot: true}
	for i, s := range ordered {
		if i < retainLast {
			keep[s.SnapshotID] = true
		}
	}

	var removed []Snapshot
	for _, s := range meta.Snapshots {
		if !keep[s.SnapshotID] {
			removed = append(removed, s)
		}
	}
	if len(removed) == 0 {
		return ExpireResult{Remaining: len(meta.Snapshots)}, nil
	}

	// Collect everything surviving snapshots still reference.
	keepManifests := map[string]bool{}
	keepFiles := map[string]bool{}
	for _, s := range meta.Snapshots {
		if !keep[s.SnapshotID] || s.ManifestPath == "" {
			continue
		}
		keepManifests[s.ManifestPath] = true
		files, err := c.readManifestFile(ctx, s.ManifestPath)
		if err != nil {
			return ExpireResult{}, err
		}
		for _, f := range files {
			keepFiles[f.FilePath] = true
		}
	}

	// Work out which manifests and data files become unreferenced.
	dropManifests := map[string]bool{}
	dropFiles := map[string]bool{}
	for _, s := range removed {
		if s.ManifestPath == "" || keepManifests[s.ManifestPath] {
			continue
		}
		dropManifests[s.ManifestPath] = true
		files, err := c.readManifestFile(ctx, s.ManifestPath)
		if err != nil {
			return ExpireResult{}, err
		}
		for _, f := range files {
			if !keepFiles[f.FilePath] {
				dropFiles[f.FilePath] = true
			}
		}
	}

	newMeta := cloneMetadata(meta)
	newMeta.Snapshots = newMeta.Snapshots[:0]
	for _, s := range meta.Snapshots {
		if keep[s.SnapshotID] {
			newMeta.Snapshots = append(newMeta.Snapshots, s)
		}
	}
	newMeta.SnapshotLog = newMeta.SnapshotLog[:0]
	for _, e := range meta.SnapshotLog {
		if keep[e.SnapshotID] {
			newMeta.SnapshotLog = append(newMeta.SnapshotLog, e)
		}
	}
	newMeta.LastUpdatedMS = time.Now().UnixMilli()

	if err := c.commitMetadata(ctx, newMeta, version); err != nil {
		return ExpireResult{}, err
	}

	// Metadata no longer references the dropped files; remove them. A failed
	// delete leaves an orphan file, never a dangling reference.
	g, gctx := errgroup.WithContext(ctx)
	for path := range dropManifests {
		g.Go(func() error { return c.storage.Delete(gctx, path) })
	}
	for path := range dropFiles {
		g.Go(func() error { return c.storage.Delete(gctx, path) })
	}
	if err := g.Wait(); err != nil {
		c.logger.Warn("expire left orphan files", "table", newMeta.Identifier(), "error", err)
	}

	metrics.SnapshotsExpired.Add(float64(len(removed)))
	c.logger.Info("snapshots expired",
		"table", newMeta.Identifier(),
		"expired", len(removed),
		"remaining", len(newMeta.Snapshots),
		"data_files_deleted", len(dropFiles),
	)
	return ExpireResult{
		Expired:          len(removed),
		Remaining:        len(newMeta.Snapshots),
		DataFilesDeleted: len(dropFiles),
	}, nil
}

// ManifestDataFiles reads the data file references of a snapshot.
func (c *Catalog) ManifestDataFiles(ctx context.Context, snap Snapshot) ([]DataFile, error) {
	if snap.ManifestPath == "" {
		return nil, nil
	}
	return c.readManifestFile(ctx, snap.ManifestPath)
}

func (c *Catalog) readManifestFile(ctx context.Context, path string) ([]DataFile, error) {
	data, err := c.storage.Read(ctx, path)
	if err != nil {
		return nil, &lakeerr.NotFoundError{Kind: "file", Name: path, Err: err}
	}
	return readManifest(data)
}

// GetProperty returns a table property value and whether it was set.
func (c *Catalog) GetProperty(ctx context.Context, name, key string) (string, bool, error) {
	meta, err := c.LoadTable(ctx, name)
	if err != nil {
		return "", false, err
	}
	v, ok := meta.Properties[key]
	return v, ok, nil
}

// SetProperty sets a table property via the versioned-metadata commit
// protocol. The snapshot pointer is unchanged.
func (c *Catalog) SetProperty(ctx context.Context, name, key, value string) error {
	return c.updateProperties(ctx, name, func(props map[string]string) {
		props[key] = value
	})
}

// RemoveProperty deletes a table property if present.
func (c *Catalog) RemoveProperty(ctx context.Context, name, key string) error {
	return c.updateProperties(ctx, name, func(props map[string]string) {
		delete(props, key)
	})
}

func (c *Catalog) updateProperties(ctx context.Context, name string, apply func(map[string]string)) error {
	ns, table := SplitName(name)
	lock := c.commitLock(ns, table)
	lock.Lock()
	defer lock.Unlock()

	meta, version, err := c.loadLatest(ctx, name)
	if err != nil {
		return err
	}
	newMeta := cloneMetadata(meta)
	if newMeta.Properties == nil {
		newMeta.Properties = map[string]string{}
	}
	apply(newMeta.Properties)
	newMeta.LastUpdatedMS = time.Now().UnixMilli()
	return c.commitMetadata(ctx, newMeta, version)
}

// cloneMetadata copies metadata deeply enough that mutating the clone's
// slices and maps never aliases the original.
func cloneMetadata(meta *TableMetadata) *TableMetadata {
	clone := *meta
	clone.Schemas = append([]Schema(nil), meta.Schemas...)
	clone.Snapshots = append([]Snapshot(nil), meta.Snapshots...)
	clone.SnapshotLog = append([]SnapshotLogEntry(nil), meta.SnapshotLog...)
	clone.Properties = make(map[string]string, len(meta.Properties))
	for k, v := range meta.Properties {
		clone.Properties[k] = v
	}
	return &clone
}
