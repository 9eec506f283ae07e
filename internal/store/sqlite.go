package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/funnel-cli/internal/model"
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
CREATE TABLE IF NOT EXISTS run_snapshots (
	run_id     TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_run_snapshots_updated_at ON run_snapshots(updated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, runID string, state *model.RunState) error {
	if runID == "" {
		return eris.New("sqlite: save snapshot: empty run id")
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal snapshot")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_snapshots (run_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		runID, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save snapshot %s", runID)
	}
	return nil
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context, runID string) (*model.RunState, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM run_snapshots WHERE run_id = ?`, runID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load snapshot %s", runID)
	}

	var state model.RunState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal snapshot %s", runID)
	}
	return &state, nil
}

func (s *SQLiteStore) RemoveSnapshot(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_snapshots WHERE run_id = ?`, runID)
	return eris.Wrapf(err, "sqlite: remove snapshot %s", runID)
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, state, updated_at FROM run_snapshots ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close()

	var infos []SnapshotInfo
	for rows.Next() {
		var (
			runID     string
			payload   string
			updatedAt time.Time
		)
		if err := rows.Scan(&runID, &payload, &updatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot row")
		}

		var state model.RunState
		if err := json.Unmarshal([]byte(payload), &state); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal snapshot %s", runID)
		}

		infos = append(infos, SnapshotInfo{
			RunID:              runID,
			LeadCount:          len(state.Leads),
			CurrentStageIndex:  state.CurrentStageIndex,
			ProcessingComplete: state.ProcessingComplete,
			UpdatedAt:          updatedAt,
		})
	}
	return infos, eris.Wrap(rows.Err(), "sqlite: iterate snapshots")
}
