// Package cache implements the shared per-organization fact store. It is
// deliberately last-writer-wins: stages upsert only the columns they own and
// no optimistic concurrency control is attempted.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool used by the cache. pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// OrgRecord holds cached per-organization facts. Nil pointers mean the
// owning stage has not written that column yet.
type OrgRecord struct {
	OrgID         string
	Name          *string
	Domain        *string
	Industry      *string
	EmployeeCount *int
	AnnualRevenue *float64
	LinkedInURL   *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// columns lists the upsertable org_cache columns. org_id and the timestamps
// are managed by the cache itself.
var columns = map[string]bool{
	"name":           true,
	"domain":         true,
	"industry":       true,
	"employee_count": true,
	"annual_revenue": true,
	"linkedin_url":   true,
}

// OrgCache reads and writes org_cache rows.
type OrgCache struct {
	pool Pool
}

// New creates an OrgCache over an existing pool.
func New(pool Pool) *OrgCache {
	return &OrgCache{pool: pool}
}

// Connect opens a pgx pool against the given connection string.
func Connect(ctx context.Context, connString string) (*OrgCache, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse config")
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "cache: connect")
	}
	return &OrgCache{pool: pool}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS org_cache (
	org_id         TEXT PRIMARY KEY,
	name           TEXT,
	domain         TEXT,
	industry       TEXT,
	employee_count INTEGER,
	annual_revenue DOUBLE PRECISION,
	linkedin_url   TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_org_cache_domain ON org_cache(domain);
`

// Migrate creates the org_cache table.
func (c *OrgCache) Migrate(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, migration)
	return eris.Wrap(err, "cache: migrate")
}

// Close releases the underlying pool.
func (c *OrgCache) Close() {
	c.pool.Close()
}

// Get returns the cached record for an organization, or nil when absent.
// Not-found is not an error.
func (c *OrgCache) Get(ctx context.Context, orgID string) (*OrgRecord, error) {
	row := c.pool.QueryRow(ctx,
		`SELECT org_id, name, domain, industry, employee_count, annual_revenue, linkedin_url, created_at, updated_at
		 FROM org_cache WHERE org_id = $1`,
		orgID,
	)

	var rec OrgRecord
	err := row.Scan(
		&rec.OrgID, &rec.Name, &rec.Domain, &rec.Industry,
		&rec.EmployeeCount, &rec.AnnualRevenue, &rec.LinkedInURL,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cache: get %s", orgID)
	}
	return &rec, nil
}

// Upsert writes only the provided columns for an organization, never
// clobbering columns owned by other stages. Unknown column names are
// rejected.
func (c *OrgCache) Upsert(ctx context.Context, orgID string, fields map[string]any) error {
	if orgID == "" {
		return eris.New("cache: upsert: empty org id")
	}
	if len(fields) == 0 {
		return nil
	}

	// Stable column order keeps the statement deterministic for tests.
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !columns[col] {
			return eris.Errorf("cache: upsert: unknown column %q", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	insertCols := []string{"org_id"}
	placeholders := []string{"$1"}
	args := []any{orgID}
	var setClauses []string
	for i, col := range cols {
		insertCols = append(insertCols, col)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		args = append(args, fields[col])
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	setClauses = append(setClauses, "updated_at = now()")

	sql := fmt.Sprintf(
		"INSERT INTO org_cache (%s) VALUES (%s) ON CONFLICT (org_id) DO UPDATE SET %s",
		strings.Join(insertCols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(setClauses, ", "),
	)

	if _, err := c.pool.Exec(ctx, sql, args...); err != nil {
		return eris.Wrapf(err, "cache: upsert %s", orgID)
	}
	return nil
}

// Fresh reports whether a cached record is within the staleness threshold.
// Age is measured from updated_at, falling back to created_at; a record aged
// exactly ttl is stale.
func Fresh(rec *OrgRecord, ttl time.Duration, now time.Time) bool {
	if rec == nil {
		return false
	}
	ts := rec.UpdatedAt
	if ts.IsZero() {
		ts = rec.CreatedAt
	}
	if ts.IsZero() {
		return false
	}
	return now.Sub(ts) < ttl
}
