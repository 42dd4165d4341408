// Package sqlite implements memory.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/campaignkit/campaignkit/core"
	"github.com/campaignkit/campaignkit/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	stage         TEXT NOT NULL,
	context_json  TEXT NOT NULL,
	failures      INTEGER NOT NULL DEFAULT 0,
	closed        INTEGER NOT NULL DEFAULT 0,
	created_at_ns INTEGER NOT NULL,
	updated_at_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at_ns DESC);

CREATE TABLE IF NOT EXISTS turns (
	session_id    TEXT NOT NULL,
	seq           INTEGER NOT NULL,
	role          TEXT NOT NULL,
	content       TEXT NOT NULL,
	payload_json  TEXT,
	archived      INTEGER NOT NULL DEFAULT 0,
	created_at_ns INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
);

CREATE TABLE IF NOT EXISTS summaries (
	session_id    TEXT NOT NULL,
	from_seq      INTEGER NOT NULL,
	to_seq        INTEGER NOT NULL,
	content       TEXT NOT NULL,
	created_at_ns INTEGER NOT NULL,
	PRIMARY KEY (session_id, from_seq)
);
`

// Store is a SQLite-backed memory.Store. A single *sql.DB is safe for
// concurrent use; WAL mode keeps readers unblocked during writes.
type Store struct {
	db *sql.DB
}

var _ memory.Store = (*Store)(nil)

// Open opens (or creates) the database at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite database")
	}
	// The sqlite driver serializes writes; a single connection avoids
	// table-lock races between the pool's connections for :memory: too.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "applying schema")
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateSession(ctx context.Context, sess *memory.Session) error {
	ctxJSON, err := marshalContext(sess.Context)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, stage, context_json, failures, closed, created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Stage.String(), ctxJSON,
		sess.Failures, boolInt(sess.Closed),
		sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(),
	)
	return errors.Wrap(err, "inserting session")
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*memory.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, stage, context_json, failures, closed, created_at_ns, updated_at_ns
		FROM sessions WHERE id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	return sess, err
}

func (s *Store) SaveSession(ctx context.Context, sess *memory.Session) error {
	ctxJSON, err := marshalContext(sess.Context)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET stage = ?, context_json = ?, failures = ?, closed = ?, updated_at_ns = ?
		WHERE id = ?`,
		sess.Stage.String(), ctxJSON, sess.Failures, boolInt(sess.Closed),
		sess.UpdatedAt.UnixNano(), sess.ID,
	)
	if err != nil {
		return errors.Wrap(err, "updating session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]*memory.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, stage, context_json, failures, closed, created_at_ns, updated_at_ns
		FROM sessions WHERE user_id = ? ORDER BY updated_at_ns DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing sessions")
	}
	defer rows.Close()

	var out []*memory.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM turns WHERE session_id = ?`,
			`DELETE FROM summaries WHERE session_id = ?`,
			`DELETE FROM sessions WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, sessionID); err != nil {
				return errors.Wrap(err, "deleting session")
			}
		}
		return nil
	})
}

func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	var purged int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM sessions WHERE updated_at_ns < ?`, cutoff.UnixNano())
		if err != nil {
			return errors.Wrap(err, "finding expired sessions")
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			for _, q := range []string{
				`DELETE FROM turns WHERE session_id = ?`,
				`DELETE FROM summaries WHERE session_id = ?`,
				`DELETE FROM sessions WHERE id = ?`,
			} {
				if _, err := tx.ExecContext(ctx, q, id); err != nil {
					return errors.Wrap(err, "purging session")
				}
			}
		}
		purged = len(ids)
		return nil
	})
	return purged, err
}

func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn *core.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	var payloadJSON any
	if turn.Payload != nil {
		b, err := json.Marshal(turn.Payload)
		if err != nil {
			return errors.Wrap(err, "encoding turn payload")
		}
		payloadJSON = string(b)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		// Seq counts every turn ever appended, archived included, so
		// ordering survives compression.
		row := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq) + 1, 0) FROM turns WHERE session_id = ?`, sessionID)
		if err := row.Scan(&turn.Seq); err != nil {
			return errors.Wrap(err, "assigning turn seq")
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO turns (session_id, seq, role, content, payload_json, archived, created_at_ns)
			VALUES (?, ?, ?, ?, ?, 0, ?)`,
			sessionID, turn.Seq, string(turn.Role), turn.Content, payloadJSON, turn.CreatedAt.UnixNano(),
		)
		return errors.Wrap(err, "inserting turn")
	})
}

func (s *Store) Turns(ctx context.Context, sessionID string) ([]core.Turn, error) {
	return s.queryTurns(ctx, sessionID, false)
}

func (s *Store) AllTurns(ctx context.Context, sessionID string) ([]core.Turn, error) {
	return s.queryTurns(ctx, sessionID, true)
}

func (s *Store) queryTurns(ctx context.Context, sessionID string, includeArchived bool) ([]core.Turn, error) {
	q := `SELECT seq, role, content, payload_json, created_at_ns FROM turns WHERE session_id = ?`
	if !includeArchived {
		q += ` AND archived = 0`
	}
	q += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "querying turns")
	}
	defer rows.Close()

	var out []core.Turn
	for rows.Next() {
		var (
			t       core.Turn
			role    string
			payload sql.NullString
			ns      int64
		)
		if err := rows.Scan(&t.Seq, &role, &t.Content, &payload, &ns); err != nil {
			return nil, errors.Wrap(err, "scanning turn")
		}
		t.Role = core.Role(role)
		t.CreatedAt = time.Unix(0, ns).UTC()
		if payload.Valid && payload.String != "" {
			var p core.TurnPayload
			if err := json.Unmarshal([]byte(payload.String), &p); err != nil {
				return nil, errors.Wrap(err, "decoding turn payload")
			}
			t.Payload = &p
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Summaries(ctx context.Context, sessionID string) ([]core.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_seq, to_seq, content, created_at_ns
		FROM summaries WHERE session_id = ? ORDER BY from_seq`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "querying summaries")
	}
	defer rows.Close()

	var out []core.Summary
	for rows.Next() {
		var (
			sum core.Summary
			ns  int64
		)
		if err := rows.Scan(&sum.FromSeq, &sum.ToSeq, &sum.Content, &ns); err != nil {
			return nil, errors.Wrap(err, "scanning summary")
		}
		sum.CreatedAt = time.Unix(0, ns).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// CompressRange commits the summary and the archival of its source turns in
// one transaction. A range containing any already-archived turn means a
// concurrent fold won; the caller gets memory.ErrRangeCompressed and nothing
// changes.
func (s *Store) CompressRange(ctx context.Context, sessionID string, sum core.Summary) error {
	if sum.ToSeq < sum.FromSeq {
		return errors.Errorf("invalid summary range [%d, %d]", sum.FromSeq, sum.ToSeq)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var total, archived int
		row := tx.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(SUM(archived), 0) FROM turns
			WHERE session_id = ? AND seq BETWEEN ? AND ?`,
			sessionID, sum.FromSeq, sum.ToSeq)
		if err := row.Scan(&total, &archived); err != nil {
			return errors.Wrap(err, "checking summary range")
		}
		if total == 0 {
			return errors.Errorf("summary range [%d, %d] covers no turns", sum.FromSeq, sum.ToSeq)
		}
		if archived > 0 {
			return memory.ErrRangeCompressed
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO summaries (session_id, from_seq, to_seq, content, created_at_ns)
			VALUES (?, ?, ?, ?, ?)`,
			sessionID, sum.FromSeq, sum.ToSeq, sum.Content, sum.CreatedAt.UnixNano(),
		); err != nil {
			return errors.Wrap(err, "inserting summary")
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE turns SET archived = 1
			WHERE session_id = ? AND seq BETWEEN ? AND ?`,
			sessionID, sum.FromSeq, sum.ToSeq,
		); err != nil {
			return errors.Wrap(err, "archiving turns")
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*memory.Session, error) {
	var (
		sess      memory.Session
		stage     string
		ctxJSON   string
		closed    int
		createdNs int64
		updatedNs int64
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &stage, &ctxJSON, &sess.Failures, &closed, &createdNs, &updatedNs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scanning session")
	}
	st, err := core.ParseStage(stage)
	if err != nil {
		return nil, errors.Wrap(err, "decoding session stage")
	}
	sess.Stage = st
	sess.Closed = closed != 0
	sess.CreatedAt = time.Unix(0, createdNs).UTC()
	sess.UpdatedAt = time.Unix(0, updatedNs).UTC()

	var slots map[core.Slot]core.SlotValue
	if err := json.Unmarshal([]byte(ctxJSON), &slots); err != nil {
		return nil, errors.Wrap(err, "decoding session context")
	}
	sess.Context = core.RestoreContextModel(slots)
	return &sess, nil
}

func marshalContext(cm *core.ContextModel) (string, error) {
	if cm == nil {
		cm = core.NewContextModel()
	}
	b, err := json.Marshal(cm.Slots())
	if err != nil {
		return "", errors.Wrap(err, "encoding session context")
	}
	return string(b), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
