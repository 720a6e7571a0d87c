// Package sqlindex implements internal/index.Backend over database/sql,
// mirroring internal/store/sqlstore's dialect-switched query style so the
// same code serves both index.kind = sqlite and index.kind = postgres.
// Schema versioning is delegated to golang-migrate's iofs source over the
// embedded schema/ directory, rather than the single-file exec sqlstore
// uses, since an index backend is expected to gain facets over the life
// of a store and migrate's up/down pairs give that a real history.
package sqlindex

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Dialect captures the parameter-marker and driver differences between
// sqlite and postgres, matching internal/store/sqlstore.Dialect.
type Dialect struct {
	DriverName     string
	MigrateDriver  string
	Placeholder    func(i int) string
}

// SQLite is the pack-native dialect, used for index.kind = sqlite.
func SQLite() Dialect {
	return Dialect{
		DriverName:    "sqlite",
		MigrateDriver: "sqlite3",
		Placeholder:   func(int) string { return "?" },
	}
}

// Postgres configures the same backend for index.kind = postgres. Callers
// must register a postgres database/sql driver under DriverName
// themselves; none ships in this module (see DESIGN.md).
func Postgres(driverName string) Dialect {
	return Dialect{
		DriverName:    driverName,
		MigrateDriver: "postgres",
		Placeholder:   func(i int) string { return fmt.Sprintf("$%d", i) },
	}
}

// Index is a database/sql-backed secondary index.
type Index struct {
	db      *sql.DB
	dialect Dialect
}

var _ index.Backend = (*Index)(nil)

// Open opens a database at dsn under dialect and applies pending
// migrations from the embedded schema directory.
func Open(dialect Dialect, dsn string) (*Index, error) {
	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlindex: open: %w", err)
	}
	if dialect.DriverName == "sqlite" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlindex: enable WAL: %w", err)
		}
	}
	if err := migrateUp(dialect, dsn); err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db, dialect: dialect}, nil
}

func migrateUp(dialect Dialect, dsn string) error {
	src, err := iofs.New(schemaFS, "schema")
	if err != nil {
		return fmt.Errorf("sqlindex: load migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance(
		"iofs", src,
		fmt.Sprintf("%s://%s", dialect.MigrateDriver, dsn))
	if err != nil {
		return fmt.Errorf("sqlindex: init migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("sqlindex: apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying *sql.DB.
func (idx *Index) Close() error { return idx.db.Close() }

func (idx *Index) ph(i int) string { return idx.dialect.Placeholder(i) }

func (idx *Index) GetObject(ctx context.Context, objID id.ID) (*index.ObjectMetadata, error) {
	query := fmt.Sprintf(
		"SELECT touched_at, complete, size_bytes, stored, children FROM idx_objects WHERE id = %s",
		idx.ph(1))
	var touchedNano int64
	var completeInt int64
	var size int64
	var storedJSON, childrenJSON string
	err := idx.db.QueryRowContext(ctx, query, objID.Raw()).Scan(
		&touchedNano, &completeInt, &size, &storedJSON, &childrenJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlindex: get object %s: %w", objID, err)
	}
	stored, err := decodeStoredJSON(storedJSON)
	if err != nil {
		return nil, err
	}
	children, err := decodeChildrenJSON(childrenJSON)
	if err != nil {
		return nil, err
	}
	return &index.ObjectMetadata{
		ID:          objID,
		TouchedAt:   time.Unix(0, touchedNano).UTC(),
		Stored:      stored,
		Complete:    completeInt != 0,
		SizeBytes:   size,
		ChildrenIDs: children,
	}, nil
}

func (idx *Index) PutObject(ctx context.Context, meta index.ObjectMetadata) error {
	existing, err := idx.GetObject(ctx, meta.ID)
	if err != nil {
		return err
	}
	merged := meta
	if existing != nil {
		merged.TouchedAt = index.MergeTouchedAt(existing.TouchedAt, meta.TouchedAt)
		merged.Stored = index.MergeStored(existing.Stored, meta.Stored)
		merged.Complete = existing.Complete || meta.Complete
	}
	storedJSON, err := encodeStoredJSON(merged.Stored)
	if err != nil {
		return err
	}
	childrenJSON, err := encodeChildrenJSON(merged.ChildrenIDs)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		"INSERT INTO idx_objects (id, touched_at, complete, size_bytes, stored, children) VALUES (%s, %s, %s, %s, %s, %s) "+
			"ON CONFLICT (id) DO UPDATE SET touched_at = excluded.touched_at, complete = excluded.complete, "+
			"size_bytes = excluded.size_bytes, stored = excluded.stored, children = excluded.children",
		idx.ph(1), idx.ph(2), idx.ph(3), idx.ph(4), idx.ph(5), idx.ph(6))
	_, err = idx.db.ExecContext(ctx, query,
		merged.ID.Raw(), merged.TouchedAt.UnixNano(), boolToInt(merged.Complete), merged.SizeBytes, storedJSON, childrenJSON)
	if err != nil {
		return fmt.Errorf("sqlindex: put object %s: %w", meta.ID, err)
	}
	return nil
}

// TouchAndGetObject reads the row with GetObject and writes the bumped
// touched_at back with PutObject: these are separate statements, so the
// call takes several round trips and does not run in one transaction.
func (idx *Index) TouchAndGetObject(ctx context.Context, objID id.ID, at time.Time) (*index.ObjectMetadata, error) {
	existing, err := idx.GetObject(ctx, objID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		meta := index.ObjectMetadata{ID: objID, TouchedAt: at}
		if err := idx.PutObject(ctx, meta); err != nil {
			return nil, err
		}
		return &meta, nil
	}
	existing.TouchedAt = index.MergeTouchedAt(existing.TouchedAt, at)
	if err := idx.PutObject(ctx, *existing); err != nil {
		return nil, err
	}
	return existing, nil
}

func (idx *Index) GetProcess(ctx context.Context, procID id.ID) (*index.ProcessMetadata, error) {
	query := fmt.Sprintf(
		"SELECT touched_at, status, children_complete, command_complete, children_commands_complete, output_complete, children_outputs_complete FROM idx_processes WHERE id = %s",
		idx.ph(1))
	var touchedNano int64
	var status string
	var childrenComplete, commandComplete, childrenCommandsComplete, outputComplete, childrenOutputsComplete int64
	err := idx.db.QueryRowContext(ctx, query, procID.Raw()).Scan(
		&touchedNano, &status, &childrenComplete, &commandComplete, &childrenCommandsComplete, &outputComplete, &childrenOutputsComplete)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlindex: get process %s: %w", procID, err)
	}
	return &index.ProcessMetadata{
		ID:                       procID,
		TouchedAt:                time.Unix(0, touchedNano).UTC(),
		Status:                   status,
		ChildrenComplete:         childrenComplete != 0,
		CommandComplete:          commandComplete != 0,
		ChildrenCommandsComplete: childrenCommandsComplete != 0,
		OutputComplete:           outputComplete != 0,
		ChildrenOutputsComplete:  childrenOutputsComplete != 0,
	}, nil
}

func (idx *Index) PutProcess(ctx context.Context, meta index.ProcessMetadata) error {
	existing, err := idx.GetProcess(ctx, meta.ID)
	if err != nil {
		return err
	}
	merged := meta
	if existing != nil {
		merged.TouchedAt = index.MergeTouchedAt(existing.TouchedAt, meta.TouchedAt)
		merged.ChildrenComplete = existing.ChildrenComplete || meta.ChildrenComplete
		merged.CommandComplete = existing.CommandComplete || meta.CommandComplete
		merged.ChildrenCommandsComplete = existing.ChildrenCommandsComplete || meta.ChildrenCommandsComplete
		merged.OutputComplete = existing.OutputComplete || meta.OutputComplete
		merged.ChildrenOutputsComplete = existing.ChildrenOutputsComplete || meta.ChildrenOutputsComplete
	}
	query := fmt.Sprintf(
		"INSERT INTO idx_processes (id, touched_at, status, children_complete, command_complete, children_commands_complete, output_complete, children_outputs_complete) VALUES (%s, %s, %s, %s, %s, %s, %s, %s) "+
			"ON CONFLICT (id) DO UPDATE SET touched_at = excluded.touched_at, status = excluded.status, "+
			"children_complete = excluded.children_complete, command_complete = excluded.command_complete, "+
			"children_commands_complete = excluded.children_commands_complete, output_complete = excluded.output_complete, "+
			"children_outputs_complete = excluded.children_outputs_complete",
		idx.ph(1), idx.ph(2), idx.ph(3), idx.ph(4), idx.ph(5), idx.ph(6), idx.ph(7), idx.ph(8))
	_, err = idx.db.ExecContext(ctx, query,
		merged.ID.Raw(), merged.TouchedAt.UnixNano(), merged.Status,
		boolToInt(merged.ChildrenComplete), boolToInt(merged.CommandComplete),
		boolToInt(merged.ChildrenCommandsComplete), boolToInt(merged.OutputComplete),
		boolToInt(merged.ChildrenOutputsComplete))
	if err != nil {
		return fmt.Errorf("sqlindex: put process %s: %w", meta.ID, err)
	}
	return nil
}

func (idx *Index) GetTag(ctx context.Context, tag string) (*index.TagMetadata, error) {
	query := fmt.Sprintf("SELECT item_id, touched_at FROM idx_tags WHERE tag = %s", idx.ph(1))
	var itemRaw []byte
	var touchedNano int64
	err := idx.db.QueryRowContext(ctx, query, tag).Scan(&itemRaw, &touchedNano)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlindex: get tag %s: %w", tag, err)
	}
	itemID, err := id.FromRaw(id.Kind(itemRaw[0]), itemRaw)
	if err != nil {
		return nil, err
	}
	return &index.TagMetadata{Tag: tag, ItemID: itemID, TouchedAt: time.Unix(0, touchedNano).UTC()}, nil
}

func (idx *Index) PutTag(ctx context.Context, meta index.TagMetadata) error {
	query := fmt.Sprintf(
		"INSERT INTO idx_tags (tag, item_id, touched_at) VALUES (%s, %s, %s) "+
			"ON CONFLICT (tag) DO UPDATE SET item_id = excluded.item_id, touched_at = "+
			"CASE WHEN excluded.touched_at > idx_tags.touched_at THEN excluded.touched_at ELSE idx_tags.touched_at END",
		idx.ph(1), idx.ph(2), idx.ph(3))
	_, err := idx.db.ExecContext(ctx, query, meta.Tag, meta.ItemID.Raw(), meta.TouchedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlindex: put tag %s: %w", meta.Tag, err)
	}
	return nil
}

func (idx *Index) ListTags(ctx context.Context, prefix string) ([]index.TagMetadata, error) {
	query := fmt.Sprintf("SELECT tag, item_id, touched_at FROM idx_tags WHERE tag LIKE %s ORDER BY tag", idx.ph(1))
	rows, err := idx.db.QueryContext(ctx, query, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("sqlindex: list tags %s: %w", prefix, err)
	}
	defer rows.Close()
	var out []index.TagMetadata
	for rows.Next() {
		var tag string
		var itemRaw []byte
		var touchedNano int64
		if err := rows.Scan(&tag, &itemRaw, &touchedNano); err != nil {
			return nil, err
		}
		itemID, err := id.FromRaw(id.Kind(itemRaw[0]), itemRaw)
		if err != nil {
			return nil, err
		}
		out = append(out, index.TagMetadata{Tag: tag, ItemID: itemID, TouchedAt: time.Unix(0, touchedNano).UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, rows.Err()
}

func (idx *Index) GetCacheEntry(ctx context.Context, objID id.ID) (*index.CacheEntryMetadata, error) {
	query := fmt.Sprintf(
		"SELECT touched_at, size_bytes, disk_path FROM idx_cache_entries WHERE id = %s", idx.ph(1))
	var touchedNano, size int64
	var diskPath string
	err := idx.db.QueryRowContext(ctx, query, objID.Raw()).Scan(&touchedNano, &size, &diskPath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlindex: get cache entry %s: %w", objID, err)
	}
	return &index.CacheEntryMetadata{ID: objID, TouchedAt: time.Unix(0, touchedNano).UTC(), SizeBytes: size, DiskPath: diskPath}, nil
}

func (idx *Index) PutCacheEntry(ctx context.Context, meta index.CacheEntryMetadata) error {
	existing, err := idx.GetCacheEntry(ctx, meta.ID)
	if err != nil {
		return err
	}
	merged := meta
	if existing != nil {
		merged.TouchedAt = index.MergeTouchedAt(existing.TouchedAt, meta.TouchedAt)
	}
	query := fmt.Sprintf(
		"INSERT INTO idx_cache_entries (id, touched_at, size_bytes, disk_path) VALUES (%s, %s, %s, %s) "+
			"ON CONFLICT (id) DO UPDATE SET touched_at = excluded.touched_at, size_bytes = excluded.size_bytes, disk_path = excluded.disk_path",
		idx.ph(1), idx.ph(2), idx.ph(3), idx.ph(4))
	_, err = idx.db.ExecContext(ctx, query, merged.ID.Raw(), merged.TouchedAt.UnixNano(), merged.SizeBytes, merged.DiskPath)
	if err != nil {
		return fmt.Errorf("sqlindex: put cache entry %s: %w", meta.ID, err)
	}
	return nil
}

func (idx *Index) DeleteCacheEntry(ctx context.Context, objID id.ID) error {
	query := fmt.Sprintf("DELETE FROM idx_cache_entries WHERE id = %s", idx.ph(1))
	_, err := idx.db.ExecContext(ctx, query, objID.Raw())
	if err != nil {
		return fmt.Errorf("sqlindex: delete cache entry %s: %w", objID, err)
	}
	return nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func encodeStoredJSON(m map[string]bool) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("sqlindex: encode stored: %w", err)
	}
	return string(b), nil
}

func decodeStoredJSON(s string) (map[string]bool, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]bool
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("sqlindex: decode stored: %w", err)
	}
	return m, nil
}

func encodeChildrenJSON(ids []id.ID) (string, error) {
	raw := make([]string, len(ids))
	for i, c := range ids {
		raw[i] = c.String()
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("sqlindex: encode children: %w", err)
	}
	return string(b), nil
}

func decodeChildrenJSON(s string) ([]id.ID, error) {
	if s == "" {
		return nil, nil
	}
	var raw []string
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("sqlindex: decode children: %w", err)
	}
	out := make([]id.ID, len(raw))
	for i, r := range raw {
		parsed, err := id.Parse(r)
		if err != nil {
			return nil, err
		}
		out[i] = parsed
	}
	return out, nil
}
