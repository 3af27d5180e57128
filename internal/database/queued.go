package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/sjzar/voicelog/internal/errors"
	"github.com/sjzar/voicelog/internal/model"
)

func insertQueued(ctx context.Context, tx *sql.Tx, q *model.QueuedSegment, now time.Time) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO queued_segments (id, sessionId, startTime, endTime, createdAt)
		VALUES (?, ?, ?, ?, ?)
	`, q.ID, q.SessionID, q.StartTime, q.EndTime, unixSeconds(q.CreatedAt))
	return err
}

// AddQueuedSegment stores an offline retry record.
func (s *Store) AddQueuedSegment(ctx context.Context, q *model.QueuedSegment) error {
	if q == nil || q.SessionID == "" {
		return errors.InvalidArg("queued segment")
	}
	now := s.now()
	return s.withTx(ctx, "add queued segment", func(tx *sql.Tx) error {
		return insertQueued(ctx, tx, q, now)
	})
}

// ListQueuedSegments returns all offline retry records, oldest first.
func (s *Store) ListQueuedSegments(ctx context.Context) ([]*model.QueuedSegment, error) {
	queued := make([]*model.QueuedSegment, 0)
	err := s.read(func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, sessionId, startTime, endTime, createdAt
			FROM queued_segments
			ORDER BY createdAt ASC
		`)
		if err != nil {
			return errors.Persistence(err, "query queued segments")
		}
		defer rows.Close()
		for rows.Next() {
			var q model.QueuedSegment
			var createdAt float64
			if err := rows.Scan(&q.ID, &q.SessionID, &q.StartTime, &q.EndTime, &createdAt); err != nil {
				return errors.Persistence(err, "scan queued segment")
			}
			q.CreatedAt = timeFromUnix(createdAt)
			queued = append(queued, &q)
		}
		return rows.Err()
	})
	return queued, err
}

// DeleteQueuedSegment removes a record. It reports false when another caller
// already consumed it, which lets concurrent retry triggers agree on one owner.
func (s *Store) DeleteQueuedSegment(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, "delete queued segment", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM queued_segments WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// CountQueuedSegments returns the number of offline retry records.
func (s *Store) CountQueuedSegments(ctx context.Context) (int, error) {
	var n int
	err := s.read(func() error {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_segments`).Scan(&n); err != nil {
			return errors.Persistence(err, "count queued segments")
		}
		return nil
	})
	return n, err
}

// DeleteQueuedForWindow removes every record for the window and returns how many there were.
func (s *Store) DeleteQueuedForWindow(ctx context.Context, w model.Window) (int, error) {
	var n int64
	err := s.withTx(ctx, "delete queued window", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM queued_segments WHERE sessionId = ? AND startTime = ? AND endTime = ?
		`, w.SessionID, w.StartTime, w.EndTime)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}
