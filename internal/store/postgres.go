package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/shelfline/curator-cli/internal/db"
	"github.com/shelfline/curator-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_product":         `SELECT sku, barcode, brand, title, variant, size_text, status, image_path, confidence, source, updated_at FROM products WHERE sku = $1`,
	"update_image_result": `UPDATE products SET status = $1, image_path = $2, confidence = $3, source = $4, updated_at = $5 WHERE sku = $6`,
	"get_cached_search":   `SELECT id, barcode, brand, candidates, cached_at FROM search_cache WHERE barcode = $1 AND brand = $2 AND expires_at > now() ORDER BY cached_at DESC LIMIT 1`,
	"set_cached_search":   `INSERT INTO search_cache (id, barcode, brand, candidates, cached_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"append_feedback":     `INSERT INTO learning_feedback (id, sku, source, query, confidence, verdict, barcode_match, brand_match, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
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

	// Prepare frequently-used statements on each new connection.
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

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS products (
	sku        TEXT PRIMARY KEY,
	barcode    TEXT NOT NULL DEFAULT '',
	brand      TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL,
	variant    TEXT NOT NULL DEFAULT '',
	size_text  TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'not_processed',
	image_path TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	source     TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS search_cache (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	barcode    TEXT NOT NULL,
	brand      TEXT NOT NULL,
	candidates JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS learning_feedback (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	sku           TEXT NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	query         TEXT NOT NULL DEFAULT '',
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	verdict       TEXT NOT NULL,
	barcode_match BOOLEAN NOT NULL DEFAULT false,
	brand_match   BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS batches (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status      TEXT NOT NULL DEFAULT 'running',
	total       INTEGER NOT NULL DEFAULT 0,
	processed   INTEGER NOT NULL DEFAULT 0,
	approved    INTEGER NOT NULL DEFAULT 0,
	pending     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_products_status ON products(status);
CREATE INDEX IF NOT EXISTS idx_products_brand ON products(brand);
CREATE INDEX IF NOT EXISTS idx_search_cache_key ON search_cache(barcode, brand);
CREATE INDEX IF NOT EXISTS idx_search_cache_expires_at ON search_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_feedback_source ON learning_feedback(source);
`

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

func (s *PostgresStore) UpsertProduct(ctx context.Context, p *model.Product) error {
	if p.Status == "" {
		p.Status = model.StatusNotProcessed
	}
	if !p.Status.Valid() {
		return eris.Errorf("postgres: invalid status %q", p.Status)
	}
	now := time.Now().UTC()
	p.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO products (sku, barcode, brand, title, variant, size_text, status, image_path, confidence, source, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (sku) DO UPDATE SET
			barcode = EXCLUDED.barcode,
			brand = EXCLUDED.brand,
			title = EXCLUDED.title,
			variant = EXCLUDED.variant,
			size_text = EXCLUDED.size_text,
			updated_at = EXCLUDED.updated_at`,
		p.SKU, p.Barcode, p.Brand, p.Title, p.Variant, p.SizeText,
		string(p.Status), p.ImagePath, p.Confidence, p.Source, now,
	)
	return eris.Wrapf(err, "postgres: upsert product %s", p.SKU)
}

// UpsertProducts bulk-loads catalog rows via COPY into a temp table plus
// INSERT ON CONFLICT. Review fields are preserved for existing rows.
func (s *PostgresStore) UpsertProducts(ctx context.Context, products []model.Product) (int64, error) {
	if len(products) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(products))
	for i := range products {
		p := &products[i]
		status := p.Status
		if status == "" {
			status = model.StatusNotProcessed
		}
		rows = append(rows, []any{p.SKU, p.Barcode, p.Brand, p.Title, p.Variant, p.SizeText, string(status), "", 0.0, "", now})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "products",
		Columns:      []string{"sku", "barcode", "brand", "title", "variant", "size_text", "status", "image_path", "confidence", "source", "updated_at"},
		ConflictKeys: []string{"sku"},
		UpdateCols:   []string{"barcode", "brand", "title", "variant", "size_text", "updated_at"},
	}, rows)
	return n, eris.Wrap(err, "postgres: bulk upsert products")
}

func (s *PostgresStore) GetProduct(ctx context.Context, sku string) (*model.Product, error) {
	var p model.Product
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT sku, barcode, brand, title, variant, size_text, status, image_path, confidence, source, updated_at
		 FROM products WHERE sku = $1`,
		sku,
	).Scan(&p.SKU, &p.Barcode, &p.Brand, &p.Title, &p.Variant, &p.SizeText,
		&status, &p.ImagePath, &p.Confidence, &p.Source, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{SKU: sku}
		}
		return nil, eris.Wrapf(err, "postgres: get product %s", sku)
	}
	p.Status = model.ImageStatus(status)
	return &p, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context, filter ProductFilter) ([]model.Product, error) {
	query := `SELECT sku, barcode, brand, title, variant, size_text, status, image_path, confidence, source, updated_at
		 FROM products WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Brand != "" {
		query += fmt.Sprintf(` AND brand = $%d`, argIdx)
		args = append(args, filter.Brand)
		argIdx++
	}
	if filter.FromBottom {
		query += ` ORDER BY sku DESC`
	} else {
		query += ` ORDER BY sku ASC`
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
		if filter.Offset > 0 {
			query += fmt.Sprintf(` OFFSET $%d`, argIdx)
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list products")
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		var status string
		if err := rows.Scan(&p.SKU, &p.Barcode, &p.Brand, &p.Title, &p.Variant, &p.SizeText,
			&status, &p.ImagePath, &p.Confidence, &p.Source, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		p.Status = model.ImageStatus(status)
		products = append(products, p)
	}
	return products, eris.Wrap(rows.Err(), "postgres: list products iterate")
}

func (s *PostgresStore) UpdateImageResult(ctx context.Context, sku string, status model.ImageStatus, imagePath string, confidence float64, source string) error {
	if !status.Valid() {
		return eris.Errorf("postgres: invalid status %q", status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET status = $1, image_path = $2, confidence = $3, source = $4, updated_at = $5 WHERE sku = $6`,
		string(status), imagePath, confidence, source, time.Now().UTC(), sku,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update image result %s", sku)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("product not found: %s", sku)
	}
	return nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[model.ImageStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM products GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()

	counts := make(map[model.ImageStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.ImageStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count by status iterate")
}

func (s *PostgresStore) GetCachedSearch(ctx context.Context, barcode, brand string) (*model.SearchCacheEntry, error) {
	barcode, brand = normalizeCacheKey(barcode, brand)

	var e model.SearchCacheEntry
	var candidatesJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, barcode, brand, candidates, cached_at FROM search_cache
		 WHERE barcode = $1 AND brand = $2 AND expires_at > now()
		 ORDER BY cached_at DESC LIMIT 1`,
		barcode, brand,
	).Scan(&e.ID, &e.Barcode, &e.Brand, &candidatesJSON, &e.CachedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached search")
	}
	if err := json.Unmarshal(candidatesJSON, &e.Candidates); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached candidates")
	}
	return &e, nil
}

func (s *PostgresStore) SetCachedSearch(ctx context.Context, barcode, brand string, candidates []model.SearchCandidate, ttl time.Duration) error {
	barcode, brand = normalizeCacheKey(barcode, brand)
	now := time.Now().UTC()

	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal candidates")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO search_cache (id, barcode, brand, candidates, cached_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), barcode, brand, candidatesJSON, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached search")
}

func (s *PostgresStore) AppendFeedback(ctx context.Context, rec *model.FeedbackRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO learning_feedback (id, sku, source, query, confidence, verdict, barcode_match, brand_match, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.SKU, rec.Source, rec.Query, rec.Confidence, string(rec.Verdict),
		rec.BarcodeMatch, rec.BrandMatch, rec.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append feedback %s", rec.SKU)
}

func (s *PostgresStore) ListFeedback(ctx context.Context) ([]model.FeedbackRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sku, source, query, confidence, verdict, barcode_match, brand_match, created_at
		 FROM learning_feedback ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list feedback")
	}
	defer rows.Close()

	var records []model.FeedbackRecord
	for rows.Next() {
		var r model.FeedbackRecord
		var verdict string
		if err := rows.Scan(&r.ID, &r.SKU, &r.Source, &r.Query, &r.Confidence, &verdict, &r.BarcodeMatch, &r.BrandMatch, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feedback")
		}
		r.Verdict = model.Verdict(verdict)
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list feedback iterate")
}

func (s *PostgresStore) CreateBatch(ctx context.Context, total int) (*model.Batch, error) {
	b := &model.Batch{
		ID:        uuid.New().String(),
		Status:    model.BatchRunning,
		Total:     total,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO batches (id, status, total, started_at) VALUES ($1, $2, $3, $4)`,
		b.ID, string(b.Status), b.Total, b.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert batch")
	}
	return b, nil
}

func (s *PostgresStore) FinishBatch(ctx context.Context, b *model.Batch) error {
	now := time.Now().UTC()
	b.FinishedAt = &now
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET status = $1, processed = $2, approved = $3, pending = $4, failed = $5, finished_at = $6 WHERE id = $7`,
		string(b.Status), b.Processed, b.Approved, b.Pending, b.Failed, now, b.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish batch %s", b.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("batch not found: %s", b.ID)
	}
	return nil
}
