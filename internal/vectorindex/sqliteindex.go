package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteIndex stores chunks and their embeddings as JSON blobs in a plain
// SQLite table, then ranks them in Go at search time. This is the fallback
// path codenerd's vector store itself falls back to when the cgo
// sqlite-vec extension is unavailable — adopted here as the only path, since
// this module never invokes a build/toolchain step that could verify a cgo
// extension actually loaded.
type SQLiteIndex struct {
	db *sql.DB
}

// OpenSQLiteIndex opens (creating if absent) the chunk table at path.
func OpenSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite vector index: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	datasource TEXT NOT NULL,
	kind TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding TEXT NOT NULL,
	metadata TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_datasource ON chunks(datasource);
`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create chunk schema: %w", err)
	}

	return &SQLiteIndex{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// Upsert writes each chunk, replacing any existing row with the same
// content-addressed ID — the mechanism that makes re-indexing a datasource
// idempotent.
func (s *SQLiteIndex) Upsert(ctx context.Context, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}

	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, datasource, kind, content, embedding, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET content=excluded.content, embedding=excluded.embedding, metadata=excluded.metadata`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}

	defer stmt.Close()

	for _, c := range chunks {
		embeddingJSON, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding for chunk %s: %w", c.ID, err)
		}

		metadataJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for chunk %s: %w", c.ID, err)
		}

		if _, err := stmt.ExecContext(ctx, c.ID, c.Datasource, string(c.Kind), c.Content,
			string(embeddingJSON), string(metadataJSON)); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteDatasource removes every chunk indexed for datasource, the backing
// operation for ClearIndex.
func (s *SQLiteIndex) DeleteDatasource(ctx context.Context, datasource string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE datasource = ?`, datasource)
	if err != nil {
		return fmt.Errorf("delete datasource %s: %w", datasource, err)
	}

	return nil
}

// All loads every chunk indexed for datasource. Ranking happens in Go, not
// SQL, since there is no vector-similarity operator available without the
// cgo extension this package deliberately does not depend on.
func (s *SQLiteIndex) All(ctx context.Context, datasource string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, datasource, kind, content, embedding, metadata FROM chunks WHERE datasource = ?`, datasource)
	if err != nil {
		return nil, fmt.Errorf("query chunks for %s: %w", datasource, err)
	}

	defer rows.Close()

	var out []Chunk

	for rows.Next() {
		var (
			c             Chunk
			kind          string
			embeddingJSON string
			metadataJSON  string
		)

		if err := rows.Scan(&c.ID, &c.Datasource, &kind, &c.Content, &embeddingJSON, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}

		c.Kind = Kind(kind)

		if err := json.Unmarshal([]byte(embeddingJSON), &c.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding for chunk %s: %w", c.ID, err)
		}

		if err := json.Unmarshal([]byte(metadataJSON), &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for chunk %s: %w", c.ID, err)
		}

		out = append(out, c)
	}

	return out, rows.Err()
}
