package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "hackboard/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreateUser(ctx context.Context, u User) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, email, password_hash, created_at) VALUES(?,?,?,?)
		 ON CONFLICT DO NOTHING`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *sqliteStore) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email))
}

func (s *sqliteStore) UserByID(ctx context.Context, id string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE id = ?`, id))
}

func (s *sqliteStore) scanUser(row *sql.Row) (User, error) {
	var (
		u  User
		ms int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.CreatedAt = time.UnixMilli(ms)
	return u, nil
}

func (s *sqliteStore) PutSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(token, user_id, created_at, expires_at) VALUES(?,?,?,?)
		 ON CONFLICT(token) DO UPDATE SET user_id=excluded.user_id, expires_at=excluded.expires_at`,
		sess.Token, sess.UserID, sess.CreatedAt.UnixMilli(), sess.ExpiresAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetSession(ctx context.Context, token string) (Session, error) {
	var (
		sess            Session
		created, expiry int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = ?`, token,
	).Scan(&sess.Token, &sess.UserID, &created, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	sess.CreatedAt = time.UnixMilli(created)
	sess.ExpiresAt = time.UnixMilli(expiry)
	return sess, nil
}

func (s *sqliteStore) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

func (s *sqliteStore) PurgeSessions(ctx context.Context, now time.Time) ([]Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := now.UnixMilli()
	rows, err := tx.QueryContext(ctx,
		`SELECT token, user_id, created_at, expires_at FROM sessions WHERE expires_at <= ? ORDER BY expires_at`, cutoff)
	if err != nil {
		return nil, err
	}
	var out []Session
	for rows.Next() {
		var (
			sess            Session
			created, expiry int64
		)
		if err := rows.Scan(&sess.Token, &sess.UserID, &created, &expiry); err != nil {
			_ = rows.Close()
			return nil, err
		}
		sess.CreatedAt = time.UnixMilli(created)
		sess.ExpiresAt = time.UnixMilli(expiry)
		out = append(out, sess)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, cutoff); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqliteStore) ListNotes(ctx context.Context, owner string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, title, content, status, created_at FROM notes
		 WHERE owner = ? ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var (
			n  Note
			ms int64
		)
		if err := rows.Scan(&n.ID, &n.Owner, &n.Title, &n.Content, &n.Status, &ms); err != nil {
			return nil, err
		}
		n.CreatedAt = time.UnixMilli(ms)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetNote(ctx context.Context, owner, id string) (Note, error) {
	var (
		n  Note
		ms int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner, title, content, status, created_at FROM notes WHERE id = ? AND owner = ?`, id, owner,
	).Scan(&n.ID, &n.Owner, &n.Title, &n.Content, &n.Status, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, ErrNotFound
	}
	if err != nil {
		return Note{}, err
	}
	n.CreatedAt = time.UnixMilli(ms)
	return n, nil
}

func (s *sqliteStore) PutNote(ctx context.Context, n Note) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notes(id, owner, title, content, status, created_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, content=excluded.content, status=excluded.status
		 WHERE notes.owner = excluded.owner`,
		n.ID, n.Owner, n.Title, n.Content, n.Status, n.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}
	if c, err := res.RowsAffected(); err == nil && c == 0 {
		return ErrConflict
	}
	return nil
}

func (s *sqliteStore) DeleteNote(ctx context.Context, owner, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return err
	}
	if c, err := res.RowsAffected(); err == nil && c == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) CountNotes(ctx context.Context, owner string) (int, error) {
	var c int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes WHERE owner = ?`, owner).Scan(&c)
	return c, err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, action, target, ok, err, meta) VALUES(?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), nullStr(e.Actor), e.Action, nullStr(e.Target), e.OK, nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
