package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockCache(t *testing.T) (*OrgCache, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return New(mock), mock
}

func TestGet_NotFoundIsNotAnError(t *testing.T) {
	c, mock := newMockCache(t)

	mock.ExpectQuery(`SELECT org_id, name, domain`).
		WithArgs("acme.com").
		WillReturnError(pgx.ErrNoRows)

	rec, err := c.Get(context.Background(), "acme.com")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_ScansRecord(t *testing.T) {
	c, mock := newMockCache(t)

	name := "Acme"
	count := 120
	created := time.Now().Add(-48 * time.Hour)
	updated := time.Now().Add(-time.Hour)

	mock.ExpectQuery(`SELECT org_id, name, domain`).
		WithArgs("acme.com").
		WillReturnRows(pgxmock.NewRows([]string{
			"org_id", "name", "domain", "industry", "employee_count",
			"annual_revenue", "linkedin_url", "created_at", "updated_at",
		}).AddRow("acme.com", &name, nil, nil, &count, nil, nil, created, updated))

	rec, err := c.Get(context.Background(), "acme.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Acme", *rec.Name)
	assert.Equal(t, 120, *rec.EmployeeCount)
	assert.Nil(t, rec.Industry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_TouchesOnlyProvidedColumns(t *testing.T) {
	c, mock := newMockCache(t)

	// Sorted column order: annual_revenue, employee_count.
	mock.ExpectExec(`INSERT INTO org_cache \(org_id, annual_revenue, employee_count\) VALUES \(\$1, \$2, \$3\) ON CONFLICT \(org_id\) DO UPDATE SET annual_revenue = EXCLUDED\.annual_revenue, employee_count = EXCLUDED\.employee_count, updated_at = now\(\)`).
		WithArgs("acme.com", 25000000.0, 120).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := c.Upsert(context.Background(), "acme.com", map[string]any{
		"employee_count": 120,
		"annual_revenue": 25000000.0,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_RejectsUnknownColumn(t *testing.T) {
	c, _ := newMockCache(t)

	err := c.Upsert(context.Background(), "acme.com", map[string]any{"drop_table": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown column")
}

func TestUpsert_EmptyFieldsIsNoop(t *testing.T) {
	c, mock := newMockCache(t)
	require.NoError(t, c.Upsert(context.Background(), "acme.com", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_EmptyOrgID(t *testing.T) {
	c, _ := newMockCache(t)
	err := c.Upsert(context.Background(), "", map[string]any{"name": "x"})
	assert.Error(t, err)
}

func TestFresh(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	ttl := 24 * time.Hour

	assert.False(t, Fresh(nil, ttl, now))

	// updated_at within the threshold.
	assert.True(t, Fresh(&OrgRecord{UpdatedAt: now.Add(-time.Hour)}, ttl, now))

	// Age exactly at the threshold is stale.
	assert.False(t, Fresh(&OrgRecord{UpdatedAt: now.Add(-ttl)}, ttl, now))

	// Falls back to created_at when updated_at is zero.
	assert.True(t, Fresh(&OrgRecord{CreatedAt: now.Add(-time.Hour)}, ttl, now))
	assert.False(t, Fresh(&OrgRecord{CreatedAt: now.Add(-48 * time.Hour)}, ttl, now))

	// No timestamps at all.
	assert.False(t, Fresh(&OrgRecord{}, ttl, now))
}
