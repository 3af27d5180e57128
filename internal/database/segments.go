package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/sjzar/voicelog/internal/errors"
	"github.com/sjzar/voicelog/internal/model"
)

const segmentColumns = `id, sessionId, audioFilename, seq, startTime, endTime, status, text, source, attempts, createdAt, updatedAt`

func scanSegment(row scanner) (*model.Segment, error) {
	var (
		seg                  model.Segment
		status, source       string
		createdAt, updatedAt float64
	)
	if err := row.Scan(&seg.ID, &seg.SessionID, &seg.AudioFilename, &seg.Seq, &seg.StartTime, &seg.EndTime,
		&status, &seg.Text, &source, &seg.Attempts, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	st, err := model.ParseSegmentStatus(status)
	if err != nil {
		return nil, err
	}
	seg.Status = st
	seg.Source = model.TextSource(source)
	seg.CreatedAt = timeFromUnix(createdAt)
	seg.UpdatedAt = timeFromUnix(updatedAt)
	return &seg, nil
}

func (s *Store) querySegments(ctx context.Context, q queryer, where string, args ...any) ([]*model.Segment, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+segmentColumns+` FROM segments `+where, args...)
	if err != nil {
		return nil, errors.Persistence(err, "query segments")
	}
	defer rows.Close()

	segments := make([]*model.Segment, 0)
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, errors.Persistence(err, "scan segment")
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Persistence(err, "iterate segments")
	}
	return segments, nil
}

// AppendSegment adds seg to the end of the session in one transaction. The
// session must exist; seg gets its id, seq, artifact name and timestamps here.
func (s *Store) AppendSegment(ctx context.Context, sessionID string, seg *model.Segment) error {
	if seg == nil {
		return errors.InvalidArg("segment")
	}
	if err := model.ValidateWindow(seg.StartTime, seg.EndTime); err != nil {
		return errors.New(errors.KindInvalidArg, http.StatusBadRequest, err, "append segment")
	}
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	now := s.now()
	return s.withTx(ctx, "append segment", func(tx *sql.Tx) error {
		var filename string
		if err := tx.QueryRowContext(ctx, `SELECT filename FROM sessions WHERE id = ?`, sessionID).Scan(&filename); err != nil {
			if err == sql.ErrNoRows {
				return errors.NotFound("session " + sessionID)
			}
			return err
		}
		var seq int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM segments WHERE sessionId = ?`, sessionID).Scan(&seq); err != nil {
			return err
		}

		seg.SessionID = sessionID
		seg.AudioFilename = filename
		seg.Seq = seq
		seg.Status = model.StatusQueued
		seg.CreatedAt = now
		seg.UpdatedAt = now

		_, err := tx.ExecContext(ctx, `
			INSERT INTO segments (id, sessionId, audioFilename, seq, startTime, endTime, status, text, source, attempts, createdAt, updatedAt)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, seg.ID, seg.SessionID, seg.AudioFilename, seg.Seq, seg.StartTime, seg.EndTime,
			seg.Status.String(), seg.Text, string(seg.Source), seg.Attempts, unixSeconds(now), unixSeconds(now))
		return err
	})
}

// GetSegment returns one segment.
func (s *Store) GetSegment(ctx context.Context, id string) (*model.Segment, error) {
	var seg *model.Segment
	err := s.read(func() error {
		segs, err := s.querySegments(ctx, s.db, `WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if len(segs) == 0 {
			return errors.NotFound("segment " + id)
		}
		seg = segs[0]
		return nil
	})
	return seg, err
}

// SegmentsForSession returns the session's segments in creation order.
func (s *Store) SegmentsForSession(ctx context.Context, sessionID string) ([]*model.Segment, error) {
	var segs []*model.Segment
	err := s.read(func() error {
		var err error
		segs, err = s.querySegments(ctx, s.db, `WHERE sessionId = ? ORDER BY seq ASC`, sessionID)
		return err
	})
	return segs, err
}

// SegmentsByStatus returns every segment in status, oldest first.
func (s *Store) SegmentsByStatus(ctx context.Context, status model.SegmentStatus) ([]*model.Segment, error) {
	var segs []*model.Segment
	err := s.read(func() error {
		var err error
		segs, err = s.querySegments(ctx, s.db, `WHERE status = ? ORDER BY createdAt ASC, seq ASC`, status.String())
		return err
	})
	return segs, err
}

// CountSegmentsByStatus tallies all segments by status.
func (s *Store) CountSegmentsByStatus(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.read(func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM segments GROUP BY status`)
		if err != nil {
			return errors.Persistence(err, "count segments")
		}
		defer rows.Close()
		for rows.Next() {
			var status string
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				return errors.Persistence(err, "scan segment count")
			}
			counts[status] = n
		}
		return rows.Err()
	})
	return counts, err
}

// transition moves a segment to next inside tx, refusing illegal transitions.
func transition(ctx context.Context, tx *sql.Tx, id string, next model.SegmentStatus) error {
	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM segments WHERE id = ?`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return errors.NotFound("segment " + id)
		}
		return err
	}
	from, err := model.ParseSegmentStatus(current)
	if err != nil {
		return err
	}
	if !from.CanTransition(next) {
		return errors.Conflict("segment %s: illegal transition %s -> %s", id, from, next)
	}
	return nil
}

// UpdateSegmentStatus moves a segment to status, leaving text untouched.
func (s *Store) UpdateSegmentStatus(ctx context.Context, id string, status model.SegmentStatus) error {
	now := s.now()
	return s.withTx(ctx, "update segment status", func(tx *sql.Tx) error {
		if err := transition(ctx, tx, id, status); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE segments SET status = ?, updatedAt = ? WHERE id = ?`,
			status.String(), unixSeconds(now), id)
		return err
	})
}

// CompleteSegment writes the final transcript and marks the segment complete.
func (s *Store) CompleteSegment(ctx context.Context, id, text string, source model.TextSource, attempts int) error {
	if text == "" {
		return errors.InvalidArg("empty transcript")
	}
	now := s.now()
	return s.withTx(ctx, "complete segment", func(tx *sql.Tx) error {
		if err := transition(ctx, tx, id, model.StatusComplete); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE segments SET status = ?, text = ?, source = ?, attempts = ?, updatedAt = ? WHERE id = ?
		`, model.StatusComplete.String(), text, string(source), attempts, unixSeconds(now), id)
		return err
	})
}

// FailSegment marks the segment error (text unchanged) and, when queue is
// non-nil, records the offline retry entry in the same transaction.
func (s *Store) FailSegment(ctx context.Context, id string, attempts int, queue *model.QueuedSegment) error {
	now := s.now()
	return s.withTx(ctx, "fail segment", func(tx *sql.Tx) error {
		if err := transition(ctx, tx, id, model.StatusError); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE segments SET status = ?, attempts = ?, updatedAt = ? WHERE id = ?`,
			model.StatusError.String(), attempts, unixSeconds(now), id); err != nil {
			return err
		}
		if queue == nil {
			return nil
		}
		return insertQueued(ctx, tx, queue, now)
	})
}

// Fingerprint hashes the ids and update times of completed segments. It
// changes whenever the set of searchable transcripts changes.
func (s *Store) Fingerprint(ctx context.Context) (string, error) {
	var fp string
	err := s.read(func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT id, updatedAt FROM segments WHERE status = ? ORDER BY id`, model.StatusComplete.String())
		if err != nil {
			return errors.Persistence(err, "query fingerprint")
		}
		defer rows.Close()

		entries := make([]string, 0)
		for rows.Next() {
			var id string
			var updatedAt float64
			if err := rows.Scan(&id, &updatedAt); err != nil {
				return errors.Persistence(err, "scan fingerprint")
			}
			entries = append(entries, fmt.Sprintf("%s|%.6f", id, updatedAt))
		}
		if err := rows.Err(); err != nil {
			return err
		}
		fp = fingerprint(entries)
		return nil
	})
	return fp, err
}
