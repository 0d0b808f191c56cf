package novelty

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists bullet-point embeddings in SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenStore opens (creating if needed) an embedding store at path.
// Use ":memory:" for an in-memory store.
func OpenStore(path string) (*SQLiteStore, error) {
	connStr := path
	if path == ":memory:" {
		// Shared cache so the connection pool sees one database.
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bullet_point_embeddings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id TEXT NOT NULL,
		date TIMESTAMP NOT NULL,
		embedding TEXT NOT NULL,
		original_text TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_entity_date
		ON bullet_point_embeddings(entity_id, date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Retrieve returns all embeddings stored for entityID within [start, end].
func (s *SQLiteStore) Retrieve(ctx context.Context, entityID string, start, end time.Time) ([]BulletPointEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, date, embedding, original_text
		FROM bullet_point_embeddings
		WHERE entity_id = ? AND date >= ? AND date <= ?
		ORDER BY date`,
		entityID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var out []BulletPointEmbedding
	for rows.Next() {
		var bp BulletPointEmbedding
		var encoded string
		if err := rows.Scan(&bp.EntityID, &bp.Date, &encoded, &bp.Text); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		if err := json.Unmarshal([]byte(encoded), &bp.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
		bp.Novel = true
		out = append(out, bp)
	}
	return out, rows.Err()
}

// Store inserts a batch of embeddings in a single transaction.
func (s *SQLiteStore) Store(ctx context.Context, embeddings []BulletPointEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bullet_point_embeddings (entity_id, date, embedding, original_text)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, bp := range embeddings {
		encoded, err := json.Marshal(bp.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, bp.EntityID, bp.Date.UTC(), string(encoded), bp.Text); err != nil {
			return fmt.Errorf("insert embedding: %w", err)
		}
	}
	return tx.Commit()
}
