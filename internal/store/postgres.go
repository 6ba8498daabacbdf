package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assay-cli/internal/db"
	"github.com/sells-group/assay-cli/internal/model"
	"github.com/sells-group/assay-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool. Connecting and
// the first ping are retried while the server reports a transient failure.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, retry resilience.RetryConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("postgres connect")
	}
	pool, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: create pool")
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, eris.Wrap(err, "postgres: ping")
		}
		return pool, nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("postgres: connected",
		zap.String("host", pgxCfg.ConnConfig.Host),
		zap.Int32("max_conns", maxConns),
	)
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL DEFAULT 'design',
	name       TEXT NOT NULL DEFAULT '',
	alias      TEXT NOT NULL DEFAULT '',
	sequence   TEXT NOT NULL DEFAULT '',
	mutations  TEXT[] NOT NULL DEFAULT '{}',
	parent_id  TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entities_sequence ON entities(sequence);
CREATE INDEX IF NOT EXISTS idx_entities_parent_id ON entities(parent_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ListEntities(ctx context.Context) ([]model.Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, name, alias, sequence, mutations, parent_id FROM entities ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var (
			e    model.Entity
			kind string
		)
		if err := rows.Scan(&e.ID, &kind, &e.Name, &e.Alias, &e.Sequence, &e.Mutations, &e.ParentID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		e.Kind = model.EntityKind(kind)
		if len(e.Mutations) == 0 {
			e.Mutations = nil
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate entities")
}

var entityUpsert = db.UpsertConfig{
	Table:        "entities",
	Columns:      []string{"id", "kind", "name", "alias", "sequence", "mutations", "parent_id", "updated_at"},
	ConflictKeys: []string{"id"},
}

func (s *PostgresStore) UpsertEntities(ctx context.Context, entities []model.Entity) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(entities))
	for i, e := range entities {
		rows[i] = []any{e.ID, string(e.Kind), e.Name, e.Alias, e.Sequence, mutationList(e.Mutations), e.ParentID, now}
	}
	n, err := db.BulkUpsert(ctx, s.pool, entityUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert entities")
	}
	return n, nil
}
