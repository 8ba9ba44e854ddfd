package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfline/curator-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgresUpdateImageResult(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE products SET status`).
		WithArgs("approved", "/img/a.jpg", 82.5, "checkers.co.za", pgxmock.AnyArg(), "SKU001").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateImageResult(context.Background(), "SKU001", model.StatusApproved, "/img/a.jpg", 82.5, "checkers.co.za")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateImageResultNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE products SET status`).
		WithArgs("pending", "", 0.0, "", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateImageResult(context.Background(), "missing", model.StatusPending, "", 0, "")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetProduct(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"sku", "barcode", "brand", "title", "variant", "size_text", "status", "image_path", "confidence", "source", "updated_at"}).
		AddRow("SKU001", "6001234567890", "Koo", "Baked Beans", "Tomato Sauce", "410g", "pending", "/img/p.jpg", 55.0, "pnp.co.za", now)
	mock.ExpectQuery(`SELECT sku, barcode, brand`).
		WithArgs("SKU001").
		WillReturnRows(rows)

	got, err := s.GetProduct(context.Background(), "SKU001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, "pnp.co.za", got.Source)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendFeedback(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO learning_feedback`).
		WithArgs(pgxmock.AnyArg(), "SKU001", "checkers.co.za", "Koo Baked Beans site:checkers.co.za", 88.0, "approved", true, false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := &model.FeedbackRecord{
		SKU:          "SKU001",
		Source:       "checkers.co.za",
		Query:        "Koo Baked Beans site:checkers.co.za",
		Confidence:   88,
		Verdict:      model.VerdictApproved,
		BarcodeMatch: true,
	}
	require.NoError(t, s.AppendFeedback(context.Background(), rec))
	assert.NotEmpty(t, rec.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetCachedSearchNormalizesKey(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, barcode, brand, candidates`).
		WithArgs("6001234567890", "koo").
		WillReturnRows(pgxmock.NewRows([]string{"id", "barcode", "brand", "candidates", "cached_at"}).
			AddRow("id1", "6001234567890", "koo", []byte(`[{"title":"Koo Baked Beans","image_url":"https://cdn.example/koo.jpg","source":"checkers.co.za","score":0,"variant_score":0}]`), time.Now().UTC()))

	entry, err := s.GetCachedSearch(context.Background(), " 6001234567890 ", "KOO")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Len(t, entry.Candidates, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
