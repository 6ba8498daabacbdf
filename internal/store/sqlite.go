package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/assay-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL DEFAULT 'design',
	name       TEXT NOT NULL DEFAULT '',
	alias      TEXT NOT NULL DEFAULT '',
	sequence   TEXT NOT NULL DEFAULT '',
	mutations  TEXT NOT NULL DEFAULT '[]',
	parent_id  TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entities_sequence ON entities(sequence);
CREATE INDEX IF NOT EXISTS idx_entities_parent_id ON entities(parent_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListEntities(ctx context.Context) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, name, alias, sequence, mutations, parent_id FROM entities ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var (
			e         model.Entity
			kind      string
			mutations string
		)
		if err := rows.Scan(&e.ID, &kind, &e.Name, &e.Alias, &e.Sequence, &mutations, &e.ParentID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		e.Kind = model.EntityKind(kind)
		if err := json.Unmarshal([]byte(mutations), &e.Mutations); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal mutations for %s", e.ID)
		}
		if len(e.Mutations) == 0 {
			e.Mutations = nil
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate entities")
}

const sqliteUpsert = `
INSERT INTO entities (id, kind, name, alias, sequence, mutations, parent_id, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	kind = excluded.kind,
	name = excluded.name,
	alias = excluded.alias,
	sequence = excluded.sequence,
	mutations = excluded.mutations,
	parent_id = excluded.parent_id,
	updated_at = excluded.updated_at`

func (s *SQLiteStore) UpsertEntities(ctx context.Context, entities []model.Entity) (int64, error) {
	if len(entities) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var total int64
	for _, e := range entities {
		mutations, err := json.Marshal(mutationList(e.Mutations))
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal mutations for %s", e.ID)
		}
		res, err := stmt.ExecContext(ctx, e.ID, string(e.Kind), e.Name, e.Alias, e.Sequence, string(mutations), e.ParentID, now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert entity %s", e.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return total, nil
}

// mutationList keeps an empty list from encoding as null.
func mutationList(m []string) []string {
	if m == nil {
		return []string{}
	}
	return m
}
