package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/leadore/distill/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	opts Options
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts Options) (*SQLiteStore, error) {
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
	return &SQLiteStore{db: db, opts: opts.withDefaults()}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS raw_captures (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	url             TEXT NOT NULL,
	platform        TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	raw_content     TEXT NOT NULL,
	cleaned_text    TEXT NOT NULL,
	meta            TEXT NOT NULL,
	size_bytes      INTEGER NOT NULL,
	seen_count      INTEGER NOT NULL DEFAULT 1,
	verified        INTEGER NOT NULL DEFAULT 0,
	verified_at     DATETIME,
	flagged         INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL,
	last_seen_at    DATETIME NOT NULL,
	expires_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS extracted_signals (
	id           TEXT PRIMARY KEY,
	capture_id   TEXT NOT NULL,
	signal_id    TEXT NOT NULL,
	label        TEXT NOT NULL,
	source_text  TEXT NOT NULL,
	confidence   INTEGER NOT NULL,
	platform     TEXT NOT NULL,
	score_boost  INTEGER NOT NULL,
	pattern_match INTEGER NOT NULL,
	occurrences  INTEGER NOT NULL,
	extracted_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_captures_org_hash ON raw_captures(organization_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_captures_org_url ON raw_captures(organization_id, url);
CREATE INDEX IF NOT EXISTS idx_captures_expires_at ON raw_captures(expires_at);
CREATE INDEX IF NOT EXISTS idx_signals_capture ON extracted_signals(capture_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put deduplicates by tenant+hash inside a single immediate transaction.
// SQLite serializes writers, so concurrent puts for the same content see
// either the committed row (update) or no row (one insert wins).
func (s *SQLiteStore) Put(ctx context.Context, target model.Target, rawContent, cleanedText string, meta model.CaptureMeta) (*model.RawCapture, bool, error) {
	hash := ContentHash(rawContent)
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, storeErr("put", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx,
		`SELECT id, seen_count FROM raw_captures
		 WHERE organization_id = ? AND content_hash = ? AND flagged = 0 AND expires_at > ?
		 ORDER BY created_at DESC LIMIT 1`,
		target.OrganizationID, hash, now,
	)

	var existingID string
	var seenCount int
	err = row.Scan(&existingID, &seenCount)
	switch {
	case err == nil:
		// Duplicate: bump seen count and last-seen, never the expiry.
		if _, err := tx.ExecContext(ctx,
			`UPDATE raw_captures SET seen_count = seen_count + 1, last_seen_at = ? WHERE id = ?`,
			now, existingID,
		); err != nil {
			return nil, false, storeErr("put: update duplicate", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, storeErr("put: commit", err)
		}
		capture, err := s.getByID(ctx, existingID)
		if err != nil {
			return nil, false, err
		}
		return capture, false, nil

	case err == sql.ErrNoRows:
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
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO raw_captures
			 (id, organization_id, url, platform, content_hash, raw_content, cleaned_text, meta,
			  size_bytes, seen_count, verified, flagged, created_at, last_seen_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0, 0, ?, ?, ?)`,
			capture.ID, capture.OrganizationID, capture.URL, string(capture.Platform),
			capture.ContentHash, capture.RawContent, capture.CleanedText, string(metaJSON),
			capture.SizeBytes, capture.CreatedAt, capture.LastSeenAt, capture.ExpiresAt,
		); err != nil {
			return nil, false, storeErr("put: insert", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, storeErr("put: commit", err)
		}
		return capture, true, nil

	default:
		return nil, false, storeErr("put: lookup", err)
	}
}

func (s *SQLiteStore) GetLive(ctx context.Context, organizationID, url string) (*model.RawCapture, error) {
	row := s.db.QueryRowContext(ctx,
		selectCapture+` WHERE organization_id = ? AND url = ? AND flagged = 0 AND expires_at > ?
		 ORDER BY created_at DESC LIMIT 1`,
		organizationID, url, time.Now().UTC(),
	)
	capture, err := scanCapture(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get live", err)
	}
	return capture, nil
}

func (s *SQLiteStore) FlagForDeletion(ctx context.Context, captureID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_captures SET flagged = 1 WHERE id = ?`, captureID)
	if err != nil {
		return storeErr("flag for deletion", err)
	}
	return checkRowsAffected(res, "capture", captureID)
}

func (s *SQLiteStore) Verify(ctx context.Context, captureID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_captures SET verified = 1, verified_at = ? WHERE id = ?`,
		time.Now().UTC(), captureID)
	if err != nil {
		return storeErr("verify", err)
	}
	return checkRowsAffected(res, "capture", captureID)
}

// SweepExpired deletes expired or flagged rows in batches of SweepBatchSize
// until none remain. Each batch is its own statement, so a concurrent Put
// never waits on the whole sweep.
func (s *SQLiteStore) SweepExpired(ctx context.Context, organizationID string) (int, error) {
	total := 0
	now := time.Now().UTC()
	for {
		query := `DELETE FROM raw_captures WHERE id IN (
			SELECT id FROM raw_captures WHERE (expires_at <= ? OR flagged = 1)`
		args := []any{now}
		if organizationID != "" {
			query += ` AND organization_id = ?`
			args = append(args, organizationID)
		}
		query += ` LIMIT ?)`
		args = append(args, SweepBatchSize)

		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, storeErr("sweep", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, storeErr("sweep: rows affected", err)
		}
		total += int(n)
		if n < SweepBatchSize {
			return total, nil
		}
	}
}

func (s *SQLiteStore) EstimateStorageCost(ctx context.Context, organizationID string) (*model.StorageCost, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0), COALESCE(SUM(size_bytes * seen_count), 0)
		 FROM raw_captures WHERE organization_id = ? AND flagged = 0 AND expires_at > ?`,
		organizationID, time.Now().UTC(),
	)

	var rows int
	var liveBytes, baselineBytes int64
	if err := row.Scan(&rows, &liveBytes, &baselineBytes); err != nil {
		return nil, storeErr("estimate cost", err)
	}
	return priceStorage(organizationID, rows, liveBytes, baselineBytes, s.opts.Rates), nil
}

func (s *SQLiteStore) RecordSignals(ctx context.Context, signals []model.ExtractedSignal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("record signals", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, sig := range signals {
		sig.BoundSourceText()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO extracted_signals
			 (id, capture_id, signal_id, label, source_text, confidence, platform, score_boost, pattern_match, occurrences, extracted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), sig.SourceCaptureID, sig.SignalID, sig.Label, sig.SourceText,
			sig.Confidence, string(sig.Platform), sig.ScoreBoost, sig.PatternMatch, sig.Occurrences, sig.ExtractedAt,
		); err != nil {
			return storeErr("record signals: insert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("record signals: commit", err)
	}
	return nil
}

func (s *SQLiteStore) ListSignals(ctx context.Context, captureID string) ([]model.ExtractedSignal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT capture_id, signal_id, label, source_text, confidence, platform, score_boost, pattern_match, occurrences, extracted_at
		 FROM extracted_signals WHERE capture_id = ? ORDER BY extracted_at`,
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

func (s *SQLiteStore) getByID(ctx context.Context, id string) (*model.RawCapture, error) {
	row := s.db.QueryRowContext(ctx, selectCapture+` WHERE id = ?`, id)
	capture, err := scanCapture(row)
	if err != nil {
		return nil, storeErr("get by id", err)
	}
	return capture, nil
}

// helpers

const selectCapture = `SELECT id, organization_id, url, platform, content_hash, raw_content, cleaned_text, meta,
	size_bytes, seen_count, verified, verified_at, flagged, created_at, last_seen_at, expires_at
	FROM raw_captures`

type scannable interface {
	Scan(dest ...any) error
}

func scanCapture(row scannable) (*model.RawCapture, error) {
	var c model.RawCapture
	var platform, metaJSON string
	var verifiedAt sql.NullTime

	err := row.Scan(&c.ID, &c.OrganizationID, &c.URL, &platform, &c.ContentHash,
		&c.RawContent, &c.CleanedText, &metaJSON, &c.SizeBytes, &c.SeenCount,
		&c.Verified, &verifiedAt, &c.FlaggedForDeletion, &c.CreatedAt, &c.LastSeenAt, &c.ExpiresAt)
	if err != nil {
		return nil, err
	}
	c.Platform = model.Platform(platform)
	if verifiedAt.Valid {
		t := verifiedAt.Time
		c.VerifiedAt = &t
	}
	if err := json.Unmarshal([]byte(metaJSON), &c.Meta); err != nil {
		return nil, eris.Wrap(err, "unmarshal meta")
	}
	return &c, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("rows affected", err)
	}
	if n == 0 {
		return &model.StoreError{Op: "lookup", Err: eris.Errorf("%s not found: %s", entity, id)}
	}
	return nil
}

func priceStorage(organizationID string, rows int, liveBytes, baselineBytes int64, rates CostRates) *model.StorageCost {
	const gb = 1 << 30
	cost := &model.StorageCost{
		OrganizationID:      organizationID,
		TotalRows:           rows,
		TotalBytes:          liveBytes,
		EstimatedMonthlyUSD: float64(liveBytes) / gb * rates.USDPerGBMonth,
		BaselineMonthlyUSD:  float64(baselineBytes) / gb * rates.USDPerGBMonth,
	}
	if baselineBytes > 0 {
		cost.SavingsPercent = (1 - float64(liveBytes)/float64(baselineBytes)) * 100
	}
	return cost
}

func storeErr(op string, err error) error {
	return &model.StoreError{Op: op, Err: err}
}

func storeErrNil(op string, err error) error {
	if err == nil {
		return nil
	}
	return storeErr(op, err)
}
