// Package sqlstore implements internal/store.Backend over database/sql,
// grounded on banksean/sand's boxer.go (sql.Open("sqlite", path), WAL
// pragma, schema initialized from an embedded .sql file).
//
// The same query code serves both store.kind = sqlite (via
// modernc.org/sqlite, the pack's pure-Go driver) and store.kind =
// postgres: no Postgres driver ships anywhere in the retrieval pack, so
// rather than vendor one never seen in the corpus, the two kinds share
// this package behind a small Dialect that only varies parameter markers
// and the registered driver name (see DESIGN.md).
package sqlstore

import (
	"context"
	_ "embed"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Dialect captures the handful of ways sqlite and postgres query syntax
// diverge for this schema.
type Dialect struct {
	DriverName string
	// Placeholder renders the i'th (1-based) bound parameter marker:
	// "?" for sqlite, "$1"/"$2"/... for postgres.
	Placeholder func(i int) string
}

// SQLite is the pack-native dialect, used for store.kind = sqlite.
func SQLite() Dialect {
	return Dialect{
		DriverName:  "sqlite",
		Placeholder: func(int) string { return "?" },
	}
}

// Postgres configures the same backend for store.kind = postgres. Callers
// must register a postgres database/sql driver under DriverName
// themselves; none ships in this module (see DESIGN.md).
func Postgres(driverName string) Dialect {
	return Dialect{
		DriverName:  driverName,
		Placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
	}
}

// Store is a database/sql-backed object store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ store.Backend = (*Store)(nil)

// Open opens (and for sqlite, creates) a database at dsn using dialect,
// enabling WAL mode on sqlite and applying the embedded schema.
func Open(dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if dialect.DriverName == "sqlite" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlstore: enable WAL: %w", err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: init schema: %w", err)
	}
	return &Store{db: db, dialect: dialect}, nil
}

// Close releases the underlying *sql.DB.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ph(i int) string { return s.dialect.Placeholder(i) }

// Get implements store.Backend.Get.
func (s *Store) Get(ctx context.Context, objID id.ID) (store.GetResult, error) {
	query := fmt.Sprintf("SELECT data FROM objects WHERE id = %s", s.ph(1))
	var data []byte
	err := s.db.QueryRowContext(ctx, query, objID.Raw()).Scan(&data)
	if err == sql.ErrNoRows {
		return store.GetResult{}, store.NotFound(objID)
	}
	if err != nil {
		return store.GetResult{}, fmt.Errorf("sqlstore: get %s: %w", objID, err)
	}
	return store.GetResult{Bytes: data}, nil
}

// GetBatch implements store.Backend.GetBatch.
func (s *Store) GetBatch(ctx context.Context, ids []id.ID) ([]store.GetResult, error) {
	out := make([]store.GetResult, len(ids))
	for i, objID := range ids {
		res, err := s.Get(ctx, objID)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

// GetCacheReference implements store.Backend.GetCacheReference.
func (s *Store) GetCacheReference(ctx context.Context, objID id.ID) (*store.CacheReference, error) {
	query := fmt.Sprintf(
		"SELECT artifact_id, relative_path, byte_offset, byte_length FROM cache_references WHERE id = %s",
		s.ph(1))
	var ref store.CacheReference
	var artifactRaw []byte
	err := s.db.QueryRowContext(ctx, query, objID.Raw()).Scan(
		&artifactRaw, &ref.RelativePath, &ref.ByteOffset, &ref.ByteLength)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get cache reference %s: %w", objID, err)
	}
	artifactID, err := id.FromRaw(id.Kind(artifactRaw[0]), artifactRaw)
	if err != nil {
		return nil, err
	}
	ref.ArtifactID = artifactID
	return &ref, nil
}

// Put implements store.Backend.Put. The upsert makes Put idempotent per
// spec §4.3.
func (s *Store) Put(ctx context.Context, objID id.ID, data []byte) error {
	query := fmt.Sprintf(
		"INSERT INTO objects (id, data) VALUES (%s, %s) ON CONFLICT (id) DO UPDATE SET data = excluded.data",
		s.ph(1), s.ph(2))
	_, err := s.db.ExecContext(ctx, query, objID.Raw(), data)
	if err != nil {
		return fmt.Errorf("sqlstore: put %s: %w", objID, err)
	}
	return nil
}

// PutBatch implements store.Backend.PutBatch.
func (s *Store) PutBatch(ctx context.Context, items map[id.ID][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin put batch: %w", err)
	}
	defer tx.Rollback()
	query := fmt.Sprintf(
		"INSERT INTO objects (id, data) VALUES (%s, %s) ON CONFLICT (id) DO UPDATE SET data = excluded.data",
		s.ph(1), s.ph(2))
	for objID, data := range items {
		if _, err := tx.ExecContext(ctx, query, objID.Raw(), data); err != nil {
			return fmt.Errorf("sqlstore: put batch %s: %w", objID, err)
		}
	}
	return tx.Commit()
}

// Delete implements store.Backend.Delete.
func (s *Store) Delete(ctx context.Context, objID id.ID) error {
	query := fmt.Sprintf("DELETE FROM objects WHERE id = %s", s.ph(1))
	_, err := s.db.ExecContext(ctx, query, objID.Raw())
	if err != nil {
		return fmt.Errorf("sqlstore: delete %s: %w", objID, err)
	}
	return nil
}

// DeleteBatch implements store.Backend.DeleteBatch.
func (s *Store) DeleteBatch(ctx context.Context, ids []id.ID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin delete batch: %w", err)
	}
	defer tx.Rollback()
	query := fmt.Sprintf("DELETE FROM objects WHERE id = %s", s.ph(1))
	for _, objID := range ids {
		if _, err := tx.ExecContext(ctx, query, objID.Raw()); err != nil {
			return fmt.Errorf("sqlstore: delete batch %s: %w", objID, err)
		}
	}
	return tx.Commit()
}

// Flush implements store.Backend.Flush. Each Exec above already commits,
// so there is nothing further to force durable here beyond what sqlite's
// WAL checkpointing already guarantees.
func (s *Store) Flush(_ context.Context) error { return nil }

// PutCacheReference records objID's on-disk cache location.
func (s *Store) PutCacheReference(ctx context.Context, objID id.ID, ref store.CacheReference) error {
	query := fmt.Sprintf(
		"INSERT INTO cache_references (id, artifact_id, relative_path, byte_offset, byte_length) VALUES (%s, %s, %s, %s, %s) "+
			"ON CONFLICT (id) DO UPDATE SET artifact_id = excluded.artifact_id, relative_path = excluded.relative_path, "+
			"byte_offset = excluded.byte_offset, byte_length = excluded.byte_length",
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	_, err := s.db.ExecContext(ctx, query,
		objID.Raw(), ref.ArtifactID.Raw(), ref.RelativePath, ref.ByteOffset, ref.ByteLength)
	if err != nil {
		return fmt.Errorf("sqlstore: put cache reference %s: %w", objID, err)
	}
	return nil
}
