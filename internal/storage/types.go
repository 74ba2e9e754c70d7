package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Config configures storage.
//
// Driver values:
//   - "memory" (or empty): in-process maps, lost on restart
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

type Session struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (s Session) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

type Note struct {
	ID        string
	Owner     string
	Title     string
	Content   string
	Status    string
	CreatedAt time.Time
}

// AuditEntry records an authentication action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time
	Actor    string
	Action   string
	Target   string
	OK       bool
	Error    string
	MetaJSON string
}

// Store is the persistence API used by the auth provider and the board.
//
// Lookups of missing rows return ErrNotFound. CreateUser returns ErrConflict
// when the email is taken.
type Store interface {
	CreateUser(ctx context.Context, u User) error
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)

	PutSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, token string) (Session, error)
	DeleteSession(ctx context.Context, token string) error
	// PurgeSessions deletes sessions expired at now and returns them.
	PurgeSessions(ctx context.Context, now time.Time) ([]Session, error)

	// ListNotes returns the owner's notes oldest first.
	ListNotes(ctx context.Context, owner string) ([]Note, error)
	GetNote(ctx context.Context, owner, id string) (Note, error)
	// PutNote inserts or replaces a note.
	PutNote(ctx context.Context, n Note) error
	DeleteNote(ctx context.Context, owner, id string) error
	CountNotes(ctx context.Context, owner string) (int, error)

	AppendAudit(ctx context.Context, e AuditEntry) error

	Close() error
}
