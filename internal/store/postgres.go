package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/place-resolver/internal/db"
)

// PostgresStore persists canonical places, raw records and both review
// queues using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the per-record queries issued by the batch jobs.
var preparedStatements = map[string]string{
	"get_place":         selectPlace + ` WHERE p.id = $1`,
	"raw_for_place":     selectRawForPlace,
	"update_confidence": updateConfidenceSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	if connString == "" {
		return nil, eris.New("postgres: database url is empty")
	}
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller owns its lifetime.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS sources (
	id         TEXT PRIMARY KEY,
	trust_tier DOUBLE PRECISION NOT NULL CHECK (trust_tier >= 0 AND trust_tier <= 1),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS places (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	slug                  TEXT UNIQUE,
	name                  TEXT NOT NULL,
	address               TEXT,
	neighborhood          TEXT,
	city                  TEXT,
	postal_code           TEXT,
	region                TEXT,
	phone                 TEXT,
	website               TEXT,
	hours                 JSONB,
	description           TEXT,
	lat                   DOUBLE PRECISION,
	lng                   DOUBLE PRECISION,
	location              geometry(Point, 4326),
	google_place_id       TEXT,
	confidence            JSONB,
	overall_confidence    DOUBLE PRECISION,
	confidence_updated_at TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_places_region ON places(region);
CREATE INDEX IF NOT EXISTS idx_places_gpid ON places(google_place_id);
CREATE INDEX IF NOT EXISTS idx_places_location ON places USING GIST(location);

CREATE TABLE IF NOT EXISTS raw_records (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	place_id    TEXT REFERENCES places(id),
	source_name TEXT NOT NULL,
	raw_json    JSONB NOT NULL,
	lat         DOUBLE PRECISION,
	lng         DOUBLE PRECISION,
	processed   BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_raw_records_place ON raw_records(place_id);

CREATE TABLE IF NOT EXISTS entity_links (
	raw_record_id    TEXT PRIMARY KEY REFERENCES raw_records(id),
	place_id         TEXT NOT NULL,
	match_method     TEXT NOT NULL,
	match_confidence DOUBLE PRECISION,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entity_links_place ON entity_links(place_id);

CREATE TABLE IF NOT EXISTS gpid_resolution_queue (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	place_id         TEXT NOT NULL REFERENCES places(id),
	candidate_gpid   TEXT,
	resolver_status  TEXT NOT NULL,
	reason_code      TEXT NOT NULL,
	similarity_score DOUBLE PRECISION,
	candidates       JSONB NOT NULL DEFAULT '[]',
	human_status     TEXT NOT NULL DEFAULT 'PENDING',
	human_decision   TEXT,
	human_note       TEXT,
	reviewed_by      TEXT,
	reviewed_at      TIMESTAMPTZ,
	run_id           TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_gpid_queue_pending_place
	ON gpid_resolution_queue(place_id) WHERE human_status = 'PENDING';
CREATE INDEX IF NOT EXISTS idx_gpid_queue_status ON gpid_resolution_queue(human_status);

CREATE TABLE IF NOT EXISTS review_queue (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	conflict_type      TEXT NOT NULL,
	raw_record_a       TEXT NOT NULL REFERENCES raw_records(id),
	raw_record_b       TEXT REFERENCES raw_records(id),
	canonical_id       TEXT,
	match_confidence   DOUBLE PRECISION,
	conflicting_fields JSONB NOT NULL DEFAULT '[]',
	priority           INTEGER NOT NULL DEFAULT 5,
	status             TEXT NOT NULL DEFAULT 'pending',
	resolution         TEXT,
	resolved_by        TEXT,
	resolved_at        TIMESTAMPTZ,
	notes              TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_review_queue_status ON review_queue(status, priority DESC);
`
