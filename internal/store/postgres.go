package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/leadore/distill/internal/model"
)

// Pool abstracts pgxpool.Pool so tests can substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
	opts Options
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, opts Options) (*PostgresStore, error) {
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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	return &PostgresStore{pool: pool, opts: opts.withDefaults()}, nil
}

// NewPostgresWithPool wraps an existing pool (or a pgxmock in tests).
func NewPostgresWithPool(pool Pool, opts Options) *PostgresStore {
	return &PostgresStore{pool: pool, opts: opts.withDefaults()}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS raw_captures (
	id              UUID PRIMARY KEY,
	organization_id TEXT NOT NULL,
	url             TEXT NOT NULL,
	platform        TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	raw_content     TEXT NOT NULL,
	cleaned_text    TEXT NOT NULL,
	meta            JSONB NOT NULL,
	size_bytes      BIGINT NOT NULL,
	seen_count      INTEGER NOT NULL DEFAULT 1,
	verified        BOOLEAN NOT NULL DEFAULT FALSE,
	verified_at     TIMESTAMPTZ,
	flagged         BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	last_seen_at    TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS extracted_signals (
	id            UUID PRIMARY KEY,
	capture_id    UUID NOT NULL,
	signal_id     TEXT NOT NULL,
	label         TEXT NOT NULL,
	source_text   TEXT NOT NULL,
	confidence    INTEGER NOT NULL,
	platform      TEXT NOT NULL,
	score_boost   INTEGER NOT NULL,
	pattern_match BOOLEAN NOT NULL,
	occurrences   INTEGER NOT NULL,
	extracted_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_captures_org_hash ON raw_captures(organization_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_captures_org_url ON raw_captures(organization_id, url);
CREATE INDEX IF NOT EXISTS idx_captures_expires_at ON raw_captures(expires_at);
CREATE INDEX IF NOT EXISTS idx_signals_capture ON extracted_signals(capture_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Put deduplicates inside a transaction holding an advisory lock keyed by
// tenant+hash, so concurrent puts of identical content serialize to one
// insert plus updates.
func (s *PostgresStore) Put(ctx context.Context, target model.Target, rawContent, cleanedText string, meta model.CaptureMeta) (*model.RawCapture, bool, error) {
	hash := ContentHash(rawContent)
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, storeErr("put: begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		target.OrganizationID+":"+hash,
	); err != nil {
		return nil, false, storeErr("put: advisory lock", err)
	}

	var existingID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM raw_captures
		 WHERE organization_id = $1 AND content_hash = $2 AND NOT flagged AND expires_at > $3
		 ORDER BY created_at DESC LIMIT 1`,
		target.OrganizationID, hash, now,
	).Scan(&existingID)

	switch {
	case err == nil:
		if _, err := tx.Exec(ctx,
			`UPDATE raw_captures SET seen_count = seen_count + 1, last_seen_at = $1 WHERE id = $2`,
			now, existingID,
		); err != nil {
			return nil, false, storeErr("put: update duplicate", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, storeErr("put: commit", err)
		}
		capture, err := s.getByID(ctx, existingID)
		if err != nil {
			return nil, false, err
		}
		return capture, false, nil

	case errors.Is(err, pgx.ErrNoRows):
		capture := &model.RawCapture{
			ID:             uuid.New().String(),
			OrganizationID: target.OrganizationID,
			URL:            target.URL,
			Platform:       target.Platform,
			ContentHash:    hash,
			RawContent:     rawContent,
			CleanedText:    cleanedText,
			Meta:           meta,
			SizeBytes:      int64(len(rawContent)),
			SeenCount:      1,
			CreatedAt:      now,
			LastSeenAt:     now,
			ExpiresAt:      now.Add(s.opts.Retention),
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, false, storeErr("put: marshal meta", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO raw_captures
			 (id, organization_id, url, platform, content_hash, raw_content, cleaned_text, meta,
			  size_bytes, seen_count, verified, flagged, created_at, last_seen_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, FALSE, FALSE, $10, $11, $12)`,
			capture.ID, capture.OrganizationID, capture.URL, string(capture.Platform),
			capture.ContentHash, capture.RawContent, capture.CleanedText, metaJSON,
			capture.SizeBytes, capture.CreatedAt, capture.LastSeenAt, capture.ExpiresAt,
		); err != nil {
			return nil, false, storeErr("put: insert", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, storeErr("put: commit", err)
		}
		return capture, true, nil

	default:
		return nil, false, storeErr("put: lookup", err)
	}
}

func (s *PostgresStore) GetLive(ctx context.Context, organizationID, url string) (*model.RawCapture, error) {
	row := s.pool.QueryRow(ctx,
		pgSelectCapture+` WHERE organization_id = $1 AND url = $2 AND NOT flagged AND expires_at > $3
		 ORDER BY created_at DESC LIMIT 1`,
		organizationID, url, time.Now().UTC(),
	)
	capture, err := scanPgCapture(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get live", err)
	}
	return capture, nil
}

func (s *PostgresStore) FlagForDeletion(ctx context.Context, captureID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_captures SET flagged = TRUE WHERE id = $1`, captureID)
	if err != nil {
		return storeErr("flag for deletion", err)
	}
	return checkPgRows(tag, "capture", captureID)
}

func (s *PostgresStore) Verify(ctx context.Context, captureID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_captures SET verified = TRUE, verified_at = $1 WHERE id = $2`,
		time.Now().UTC(), captureID)
	if err != nil {
		return storeErr("verify", err)
	}
	return checkPgRows(tag, "capture", captureID)
}

func (s *PostgresStore) SweepExpired(ctx context.Context, organizationID string) (int, error) {
	total := 0
	now := time.Now().UTC()
	for {
		query := `DELETE FROM raw_captures WHERE id IN (
			SELECT id FROM raw_captures WHERE (expires_at <= $1 OR flagged)`
		args := []any{now}
		if organizationID != "" {
			query += ` AND organization_id = $2 LIMIT $3)`
			args = append(args, organizationID, SweepBatchSize)
		} else {
			query += ` LIMIT $2)`
			args = append(args, SweepBatchSize)
		}

		tag, err := s.pool.Exec(ctx, query, args...)
		if err != nil {
			return total, storeErr("sweep", err)
		}
		n := int(tag.RowsAffected())
		total += n
		if n < SweepBatchSize {
			return total, nil
		}
	}
}

func (s *PostgresStore) EstimateStorageCost(ctx context.Context, organizationID string) (*model.StorageCost, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0), COALESCE(SUM(size_bytes * seen_count), 0)
		 FROM raw_captures WHERE organization_id = $1 AND NOT flagged AND expires_at > $2`,
		organizationID, time.Now().UTC(),
	)

	var rows int
	var liveBytes, baselineBytes int64
	if err := row.Scan(&rows, &liveBytes, &baselineBytes); err != nil {
		return nil, storeErr("estimate cost", err)
	}
	return priceStorage(organizationID, rows, liveBytes, baselineBytes, s.opts.Rates), nil
}

func (s *PostgresStore) RecordSignals(ctx context.Context, signals []model.ExtractedSignal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("record signals: begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, sig := range signals {
		sig.BoundSourceText()
		if _, err := tx.Exec(ctx,
			`INSERT INTO extracted_signals
			 (id, capture_id, signal_id, label, source_text, confidence, platform, score_boost, pattern_match, occurrences, extracted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			uuid.New().String(), sig.SourceCaptureID, sig.SignalID, sig.Label, sig.SourceText,
			sig.Confidence, string(sig.Platform), sig.ScoreBoost, sig.PatternMatch, sig.Occurrences, sig.ExtractedAt,
		); err != nil {
			return storeErr("record signals: insert", err)
		}
	}
	return storeErrNil("record signals: commit", tx.Commit(ctx))
}

func (s *PostgresStore) ListSignals(ctx context.Context, captureID string) ([]model.ExtractedSignal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT capture_id, signal_id, label, source_text, confidence, platform, score_boost, pattern_match, occurrences, extracted_at
		 FROM extracted_signals WHERE capture_id = $1 ORDER BY extracted_at`,
		captureID,
	)
	if err != nil {
		return nil, storeErr("list signals", err)
	}
	defer rows.Close()

	var signals []model.ExtractedSignal
	for rows.Next() {
		var sig model.ExtractedSignal
		var platform string
		if err := rows.Scan(&sig.SourceCaptureID, &sig.SignalID, &sig.Label, &sig.SourceText,
			&sig.Confidence, &platform, &sig.ScoreBoost, &sig.PatternMatch, &sig.Occurrences, &sig.ExtractedAt,
		); err != nil {
			return nil, storeErr("list signals: scan", err)
		}
		sig.Platform = model.Platform(platform)
		signals = append(signals, sig)
	}
	return signals, storeErrNil("list signals: iterate", rows.Err())
}

func (s *PostgresStore) getByID(ctx context.Context, id string) (*model.RawCapture, error) {
	row := s.pool.QueryRow(ctx, pgSelectCapture+` WHERE id = $1`, id)
	capture, err := scanPgCapture(row)
	if err != nil {
		return nil, storeErr("get by id", err)
	}
	return capture, nil
}

const pgSelectCapture = `SELECT id, organization_id, url, platform, content_hash, raw_content, cleaned_text, meta,
	size_bytes, seen_count, verified, verified_at, flagged, created_at, last_seen_at, expires_at
	FROM raw_captures`

func scanPgCapture(row pgx.Row) (*model.RawCapture, error) {
	var c model.RawCapture
	var platform string
	var metaJSON []byte
	var verifiedAt *time.Time

	err := row.Scan(&c.ID, &c.OrganizationID, &c.URL, &platform, &c.ContentHash,
		&c.RawContent, &c.CleanedText, &metaJSON, &c.SizeBytes, &c.SeenCount,
		&c.Verified, &verifiedAt, &c.FlaggedForDeletion, &c.CreatedAt, &c.LastSeenAt, &c.ExpiresAt)
	if err != nil {
		return nil, err
	}
	c.Platform = model.Platform(platform)
	c.VerifiedAt = verifiedAt
	if err := json.Unmarshal(metaJSON, &c.Meta); err != nil {
		return nil, eris.Wrap(err, "unmarshal meta")
	}
	return &c, nil
}

func checkPgRows(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return &model.StoreError{Op: "lookup", Err: eris.Errorf("%s not found: %s", entity, id)}
	}
	return nil
}
