package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"hackboard/internal/eventbus"
	"hackboard/internal/storage"
	logx "hackboard/pkg/logx"
)

// Session-change event types published on Events().
const (
	EventSignedUp  = "auth.signed_up"
	EventSignedIn  = "auth.signed_in"
	EventSignedOut = "auth.signed_out"
	EventRefreshed = "auth.refreshed"
	EventExpired   = "auth.expired"
)

// Change is the Data of every auth event. It never carries the token.
type Change struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Session struct {
	Token     string    `json:"-"`
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Provider is what the HTTP layer needs from an auth backend.
type Provider interface {
	SignUp(ctx context.Context, c Credentials) (User, error)
	SignIn(ctx context.Context, c Credentials) (Session, error)
	SignOut(ctx context.Context, token string) error
	// Session returns the live session for token; ok is false when the
	// token is unknown or has expired.
	Session(ctx context.Context, token string) (s Session, ok bool, err error)
	// Refresh slides the expiry of a live session.
	Refresh(ctx context.Context, token string) (Session, error)
	Events() eventbus.Bus
}

type Options struct {
	TTL        time.Duration
	BcryptCost int
	Log        logx.Logger
	Bus        eventbus.Bus
	Now        func() time.Time
}

// Local authenticates against accounts kept in storage.Store.
type Local struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	ttl   time.Duration
	cost  int
	now   func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

func NewLocal(store storage.Store, opts Options) *Local {
	l := &Local{
		store: store,
		bus:   opts.Bus,
		log:   opts.Log,
		ttl:   opts.TTL,
		cost:  opts.BcryptCost,
		now:   opts.Now,
	}
	if l.bus == nil {
		l.bus = eventbus.New()
	}
	if l.ttl <= 0 {
		l.ttl = time.Hour
	}
	if l.cost == 0 {
		l.cost = bcrypt.DefaultCost
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

func (l *Local) Events() eventbus.Bus { return l.bus }

func (l *Local) SignUp(ctx context.Context, c Credentials) (User, error) {
	if err := c.Validate(OpSignUp); err != nil {
		return User{}, err
	}
	c = c.Normalize()

	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), l.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := storage.User{
		ID:           uuid.NewString(),
		Email:        c.Email,
		PasswordHash: hash,
		CreatedAt:    l.now(),
	}
	if err := l.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			l.audit(ctx, EventSignedUp, "", c.Email, ErrAccountExists)
			return User{}, ErrAccountExists
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}

	l.audit(ctx, EventSignedUp, u.ID, u.Email, nil)
	l.publish(EventSignedUp, Change{UserID: u.ID, Email: u.Email})
	l.log.Info("account created", logx.String("user_id", u.ID))
	return toUser(u), nil
}

func (l *Local) SignIn(ctx context.Context, c Credentials) (Session, error) {
	if err := c.Validate(OpSignIn); err != nil {
		return Session{}, err
	}
	c = c.Normalize()

	u, err := l.store.UserByEmail(ctx, c.Email)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// spend the same time as a real comparison
		_ = bcrypt.CompareHashAndPassword(l.dummy(), []byte(c.Password))
		l.audit(ctx, EventSignedIn, "", c.Email, ErrInvalidCredentials)
		return Session{}, ErrInvalidCredentials
	case err != nil:
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(c.Password)); err != nil {
		l.audit(ctx, EventSignedIn, u.ID, u.Email, ErrInvalidCredentials)
		return Session{}, ErrInvalidCredentials
	}

	now := l.now()
	sess := storage.Session{
		Token:     uuid.NewString(),
		UserID:    u.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	}
	if err := l.store.PutSession(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}

	l.audit(ctx, EventSignedIn, u.ID, u.Email, nil)
	l.publish(EventSignedIn, Change{UserID: u.ID, Email: u.Email})
	return Session{Token: sess.Token, User: toUser(u), ExpiresAt: sess.ExpiresAt}, nil
}

// SignOut ends the session. Unknown tokens are not an error.
func (l *Local) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	sess, err := l.store.GetSession(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	if err := l.store.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	l.audit(ctx, EventSignedOut, sess.UserID, "", nil)
	l.publish(EventSignedOut, Change{UserID: sess.UserID})
	return nil
}

func (l *Local) Session(ctx context.Context, token string) (Session, bool, error) {
	if token == "" {
		return Session{}, false, nil
	}
	sess, err := l.store.GetSession(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("lookup session: %w", err)
	}
	if sess.Expired(l.now()) {
		if err := l.store.DeleteSession(ctx, token); err != nil {
			l.log.Warn("expired session delete failed", logx.Err(err))
		}
		l.publish(EventExpired, Change{UserID: sess.UserID})
		return Session{}, false, nil
	}
	u, err := l.store.UserByID(ctx, sess.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("lookup user: %w", err)
	}
	return Session{Token: token, User: toUser(u), ExpiresAt: sess.ExpiresAt}, true, nil
}

func (l *Local) Refresh(ctx context.Context, token string) (Session, error) {
	cur, ok, err := l.Session(ctx, token)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, ErrSessionExpired
	}
	now := l.now()
	next := storage.Session{Token: token, UserID: cur.User.ID, CreatedAt: now, ExpiresAt: now.Add(l.ttl)}
	if err := l.store.PutSession(ctx, next); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}
	l.publish(EventRefreshed, Change{UserID: cur.User.ID})
	cur.ExpiresAt = next.ExpiresAt
	return cur, nil
}

// PurgeExpired deletes expired sessions and reports how many were removed.
func (l *Local) PurgeExpired(ctx context.Context) (int, error) {
	purged, err := l.store.PurgeSessions(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	for _, s := range purged {
		l.publish(EventExpired, Change{UserID: s.UserID})
	}
	return len(purged), nil
}

func (l *Local) publish(typ string, c Change) {
	l.bus.Publish(eventbus.Event{Type: typ, Time: l.now(), Data: c})
}

func (l *Local) audit(ctx context.Context, action, actor, target string, failure error) {
	e := storage.AuditEntry{
		At:     l.now(),
		Actor:  actor,
		Action: action,
		Target: target,
		OK:     failure == nil,
	}
	if failure != nil {
		e.Error = failure.Error()
	}
	if err := l.store.AppendAudit(ctx, e); err != nil {
		l.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

func (l *Local) dummy() []byte {
	l.dummyOnce.Do(func() {
		l.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("hackboard-dummy-password"), l.cost)
	})
	return l.dummyHash
}

func toUser(u storage.User) User {
	return User{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}
