package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/shelfline/curator-cli/internal/model"
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
CREATE TABLE IF NOT EXISTS products (
	sku        TEXT PRIMARY KEY,
	barcode    TEXT NOT NULL DEFAULT '',
	brand      TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL,
	variant    TEXT NOT NULL DEFAULT '',
	size_text  TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'not_processed',
	image_path TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	source     TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS search_cache (
	id         TEXT PRIMARY KEY,
	barcode    TEXT NOT NULL,
	brand      TEXT NOT NULL,
	candidates TEXT NOT NULL,
	cached_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS learning_feedback (
	id            TEXT PRIMARY KEY,
	sku           TEXT NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	query         TEXT NOT NULL DEFAULT '',
	confidence    REAL NOT NULL DEFAULT 0,
	verdict       TEXT NOT NULL,
	barcode_match INTEGER NOT NULL DEFAULT 0,
	brand_match   INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS batches (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	total       INTEGER NOT NULL DEFAULT 0,
	processed   INTEGER NOT NULL DEFAULT 0,
	approved    INTEGER NOT NULL DEFAULT 0,
	pending     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_products_status ON products(status);
CREATE INDEX IF NOT EXISTS idx_products_brand ON products(brand);
CREATE INDEX IF NOT EXISTS idx_search_cache_key ON search_cache(barcode, brand);
CREATE INDEX IF NOT EXISTS idx_search_cache_expires_at ON search_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_feedback_source ON learning_feedback(source);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertProduct(ctx context.Context, p *model.Product) error {
	if p.Status == "" {
		p.Status = model.StatusNotProcessed
	}
	if !p.Status.Valid() {
		return eris.Errorf("sqlite: invalid status %q", p.Status)
	}
	now := time.Now().UTC()
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (sku, barcode, brand, title, variant, size_text, status, image_path, confidence, source, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(sku) DO UPDATE SET
			barcode = excluded.barcode,
			brand = excluded.brand,
			title = excluded.title,
			variant = excluded.variant,
			size_text = excluded.size_text,
			updated_at = excluded.updated_at`,
		p.SKU, p.Barcode, p.Brand, p.Title, p.Variant, p.SizeText,
		string(p.Status), p.ImagePath, p.Confidence, p.Source, now,
	)
	return eris.Wrapf(err, "sqlite: upsert product %s", p.SKU)
}

// UpsertProducts inserts or refreshes catalog rows in a single transaction.
// Review fields (status, image_path, confidence, source) are preserved for
// existing rows.
func (s *SQLiteStore) UpsertProducts(ctx context.Context, products []model.Product) (int64, error) {
	if len(products) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO products (sku, barcode, brand, title, variant, size_text, status, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(sku) DO UPDATE SET
			barcode = excluded.barcode,
			brand = excluded.brand,
			title = excluded.title,
			variant = excluded.variant,
			size_text = excluded.size_text,
			updated_at = excluded.updated_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var n int64
	for i := range products {
		p := &products[i]
		status := p.Status
		if status == "" {
			status = model.StatusNotProcessed
		}
		if _, err := stmt.ExecContext(ctx, p.SKU, p.Barcode, p.Brand, p.Title, p.Variant, p.SizeText, string(status), now); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert product %s", p.SKU)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert")
	}
	return n, nil
}

func (s *SQLiteStore) GetProduct(ctx context.Context, sku string) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sku, barcode, brand, title, variant, size_text, status, image_path, confidence, source, updated_at
		 FROM products WHERE sku = ?`,
		sku,
	)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{SKU: sku}
		}
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) ListProducts(ctx context.Context, filter ProductFilter) ([]model.Product, error) {
	query := `SELECT sku, barcode, brand, title, variant, size_text, status, image_path, confidence, source, updated_at
		 FROM products WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Brand != "" {
		query += ` AND brand = ?`
		args = append(args, filter.Brand)
	}
	if filter.FromBottom {
		query += ` ORDER BY sku DESC`
	} else {
		query += ` ORDER BY sku ASC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list products")
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, eris.Wrap(rows.Err(), "sqlite: list products iterate")
}

func (s *SQLiteStore) UpdateImageResult(ctx context.Context, sku string, status model.ImageStatus, imagePath string, confidence float64, source string) error {
	if !status.Valid() {
		return eris.Errorf("sqlite: invalid status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET status = ?, image_path = ?, confidence = ?, source = ?, updated_at = ? WHERE sku = ?`,
		string(status), imagePath, confidence, source, time.Now().UTC(), sku,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update image result %s", sku)
	}
	return checkRowsAffected(res, "product", sku)
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.ImageStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM products GROUP BY status`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close()

	counts := make(map[model.ImageStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.ImageStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count by status iterate")
}

func (s *SQLiteStore) GetCachedSearch(ctx context.Context, barcode, brand string) (*model.SearchCacheEntry, error) {
	barcode, brand = normalizeCacheKey(barcode, brand)
	row := s.db.QueryRowContext(ctx,
		`SELECT id, barcode, brand, candidates, cached_at FROM search_cache
		 WHERE barcode = ? AND brand = ? AND expires_at > datetime('now')
		 ORDER BY cached_at DESC LIMIT 1`,
		barcode, brand,
	)

	var e model.SearchCacheEntry
	var candidatesJSON string
	err := row.Scan(&e.ID, &e.Barcode, &e.Brand, &candidatesJSON, &e.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached search")
	}
	if err := json.Unmarshal([]byte(candidatesJSON), &e.Candidates); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached candidates")
	}
	return &e, nil
}

func (s *SQLiteStore) SetCachedSearch(ctx context.Context, barcode, brand string, candidates []model.SearchCandidate, ttl time.Duration) error {
	barcode, brand = normalizeCacheKey(barcode, brand)
	now := time.Now().UTC()

	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal candidates")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO search_cache (id, barcode, brand, candidates, cached_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), barcode, brand, string(candidatesJSON), now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set cached search")
}

func (s *SQLiteStore) AppendFeedback(ctx context.Context, rec *model.FeedbackRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learning_feedback (id, sku, source, query, confidence, verdict, barcode_match, brand_match, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SKU, rec.Source, rec.Query, rec.Confidence, string(rec.Verdict),
		rec.BarcodeMatch, rec.BrandMatch, rec.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: append feedback %s", rec.SKU)
}

func (s *SQLiteStore) ListFeedback(ctx context.Context) ([]model.FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sku, source, query, confidence, verdict, barcode_match, brand_match, created_at
		 FROM learning_feedback ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list feedback")
	}
	defer rows.Close()

	var records []model.FeedbackRecord
	for rows.Next() {
		var r model.FeedbackRecord
		var verdict string
		if err := rows.Scan(&r.ID, &r.SKU, &r.Source, &r.Query, &r.Confidence, &verdict, &r.BarcodeMatch, &r.BrandMatch, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feedback")
		}
		r.Verdict = model.Verdict(verdict)
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list feedback iterate")
}

func (s *SQLiteStore) CreateBatch(ctx context.Context, total int) (*model.Batch, error) {
	b := &model.Batch{
		ID:        uuid.New().String(),
		Status:    model.BatchRunning,
		Total:     total,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (id, status, total, started_at) VALUES (?, ?, ?, ?)`,
		b.ID, string(b.Status), b.Total, b.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert batch")
	}
	return b, nil
}

func (s *SQLiteStore) FinishBatch(ctx context.Context, b *model.Batch) error {
	now := time.Now().UTC()
	b.FinishedAt = &now
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, processed = ?, approved = ?, pending = ?, failed = ?, finished_at = ? WHERE id = ?`,
		string(b.Status), b.Processed, b.Approved, b.Pending, b.Failed, now, b.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish batch %s", b.ID)
	}
	return checkRowsAffected(res, "batch", b.ID)
}

// helpers

func normalizeCacheKey(barcode, brand string) (string, string) {
	return strings.ToLower(strings.TrimSpace(barcode)), strings.ToLower(strings.TrimSpace(brand))
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProduct(row scannable) (*model.Product, error) {
	var p model.Product
	var status string

	err := row.Scan(&p.SKU, &p.Barcode, &p.Brand, &p.Title, &p.Variant, &p.SizeText,
		&status, &p.ImagePath, &p.Confidence, &p.Source, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan product")
	}
	p.Status = model.ImageStatus(status)
	return &p, nil
}
