package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pointerops/mouselayer/internal/model"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) InsertActivation(ctx context.Context, a model.Activation) error {
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO activations(activation_id, layer_id, layer_name, started_at)
VALUES (?, ?, ?, ?)
`, a.ActivationID, a.LayerID, a.LayerName, ts(a.StartedAt))
	if err != nil {
		return fmt.Errorf("insert activation: %w", err)
	}
	return nil
}

func (s *Store) FinishActivation(ctx context.Context, activationID string, endedAt time.Time, reason model.EndReason) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE activations SET ended_at = ?, end_reason = ?
WHERE activation_id = ? AND ended_at IS NULL
`, ts(endedAt), string(reason), activationID)
	if err != nil {
		return fmt.Errorf("finish activation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish activation rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishOpenActivations closes every still-open row. Used at startup to sweep
// sessions a previous daemon left dangling, and at shutdown.
func (s *Store) FinishOpenActivations(ctx context.Context, endedAt time.Time, reason model.EndReason) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE activations SET ended_at = ?, end_reason = ?
WHERE ended_at IS NULL
`, ts(endedAt), string(reason))
	if err != nil {
		return 0, fmt.Errorf("finish open activations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("finish open activations rows: %w", err)
	}
	return n, nil
}

func (s *Store) ListRecentActivations(ctx context.Context, limit int) ([]model.Activation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT activation_id, layer_id, layer_name, started_at, ended_at, end_reason
FROM activations
ORDER BY started_at DESC, activation_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Activation
	for rows.Next() {
		var (
			a       model.Activation
			started string
			ended   sql.NullString
			reason  sql.NullString
		)
		if err := rows.Scan(&a.ActivationID, &a.LayerID, &a.LayerName, &started, &ended, &reason); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		startedAt, err := parseTS(started)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		a.StartedAt = startedAt
		if ended.Valid {
			endedAt, err := parseTS(ended.String)
			if err != nil {
				return nil, fmt.Errorf("parse ended_at: %w", err)
			}
			a.EndedAt = &endedAt
		}
		if reason.Valid {
			a.EndReason = model.EndReason(reason.String)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activations: %w", err)
	}
	return out, nil
}

func (s *Store) PurgeActivationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM activations WHERE ended_at IS NOT NULL AND ended_at < ?
`, ts(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge activations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge activations rows: %w", err)
	}
	return n, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}
