package database

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sjzar/voicelog/internal/errors"
	"github.com/sjzar/voicelog/internal/model"
)

const sessionColumns = `id, title, filename, format, duration, sourceHash, createdAt`

// CreateSession inserts sess, assigning an id and creation time when unset.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	if sess == nil || sess.Filename == "" {
		return errors.InvalidArg("session")
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}
	return s.withTx(ctx, "create session", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, title, filename, format, duration, sourceHash, createdAt)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sess.ID, sess.Title, sess.Filename, sess.Format, sess.Duration, sess.SourceHash, unixSeconds(sess.CreatedAt))
		return err
	})
}

// GetSession returns the session with its segments ordered by seq.
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess *model.Session
	err := s.read(func() error {
		var err error
		sess, err = s.getSession(ctx, s.db, id)
		if err != nil {
			return err
		}
		sess.Segments, err = s.querySegments(ctx, s.db, `WHERE sessionId = ? ORDER BY seq ASC`, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getSession(ctx context.Context, q queryer, id string) (*model.Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("session " + id)
	}
	if err != nil {
		return nil, errors.Persistence(err, "scan session")
	}
	return sess, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*model.Session, error) {
	var sess model.Session
	var createdAt float64
	if err := row.Scan(&sess.ID, &sess.Title, &sess.Filename, &sess.Format, &sess.Duration, &sess.SourceHash, &createdAt); err != nil {
		return nil, err
	}
	sess.CreatedAt = timeFromUnix(createdAt)
	return &sess, nil
}

// ListSessions returns sessions newest first, without segments.
func (s *Store) ListSessions(ctx context.Context, filter model.SessionFilter) ([]*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if token := strings.TrimSpace(filter.TitleContains); token != "" {
		query += ` WHERE title LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(token)+"%")
	}
	query += ` ORDER BY createdAt DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	var sessions []*model.Session
	err := s.read(func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return errors.Persistence(err, "query sessions")
		}
		defer rows.Close()
		for rows.Next() {
			sess, err := scanSession(rows)
			if err != nil {
				return errors.Persistence(err, "scan session")
			}
			sessions = append(sessions, sess)
		}
		return rows.Err()
	})
	return sessions, err
}

// CountSessions counts sessions whose title contains token (all when empty).
func (s *Store) CountSessions(ctx context.Context, titleContains string) (int, error) {
	query := `SELECT COUNT(*) FROM sessions`
	var args []any
	if token := strings.TrimSpace(titleContains); token != "" {
		query += ` WHERE title LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(token)+"%")
	}
	var n int
	err := s.read(func() error {
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
			return errors.Persistence(err, "count sessions")
		}
		return nil
	})
	return n, err
}

// SessionBySourceHash finds a session created from identical plaintext, or nil.
func (s *Store) SessionBySourceHash(ctx context.Context, hash string) (*model.Session, error) {
	if hash == "" {
		return nil, nil
	}
	var sess *model.Session
	err := s.read(func() error {
		row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE sourceHash = ? LIMIT 1`, hash)
		found, err := scanSession(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return errors.Persistence(err, "scan session")
		}
		sess = found
		return nil
	})
	return sess, err
}

// UpdateSessionTitle renames a session.
func (s *Store) UpdateSessionTitle(ctx context.Context, id, title string) error {
	return s.withTx(ctx, "update session title", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE sessions SET title = ? WHERE id = ?`, title, id)
		if err != nil {
			return err
		}
		return expectOneRow(res, "session "+id)
	})
}

// DeleteSession removes the session and, by cascade, its segments. The
// artifact is removed afterwards; failing to remove it is logged only.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	var filename string
	err := s.withTx(ctx, "delete session", func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT filename FROM sessions WHERE id = ?`, id).Scan(&filename); err != nil {
			if err == sql.ErrNoRows {
				return errors.NotFound("session " + id)
			}
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return err
	}

	if s.artifacts != nil {
		if err := s.artifacts.Remove(filename); err != nil {
			log.Warn().Err(err).Str("session", id).Str("artifact", filename).Msg("failed to remove session artifact")
		}
	}
	return nil
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NotFound(what)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
