package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

const memoryAuditCap = 1024

type memoryStore struct {
	mu sync.RWMutex

	closed   bool
	users    map[string]User   // by id
	byEmail  map[string]string // lower(email) -> id
	sessions map[string]Session
	notes    map[string]Note // by id
	audit    []AuditEntry
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{
		users:    map[string]User{},
		byEmail:  map[string]string{},
		sessions: map[string]Session{},
		notes:    map[string]Note{},
	}
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) CreateUser(_ context.Context, u User) error {
	key := strings.ToLower(u.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	if _, ok := s.byEmail[key]; ok {
		return ErrConflict
	}
	if _, ok := s.users[u.ID]; ok {
		return ErrConflict
	}
	u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	s.users[u.ID] = u
	s.byEmail[key] = u.ID
	return nil
}

func (s *memoryStore) UserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return User{}, ErrDisabled
	}
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *memoryStore) UserByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return User{}, ErrDisabled
	}
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *memoryStore) PutSession(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	s.sessions[sess.Token] = sess
	return nil
}

func (s *memoryStore) GetSession(_ context.Context, token string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Session{}, ErrDisabled
	}
	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *memoryStore) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	delete(s.sessions, token)
	return nil
}

func (s *memoryStore) PurgeSessions(_ context.Context, now time.Time) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisabled
	}
	var out []Session
	for tok, sess := range s.sessions {
		if sess.Expired(now) {
			out = append(out, sess)
			delete(s.sessions, tok)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (s *memoryStore) ListNotes(_ context.Context, owner string) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrDisabled
	}
	var out []Note
	for _, n := range s.notes {
		if n.Owner == owner {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) GetNote(_ context.Context, owner, id string) (Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Note{}, ErrDisabled
	}
	n, ok := s.notes[id]
	if !ok || n.Owner != owner {
		return Note{}, ErrNotFound
	}
	return n, nil
}

func (s *memoryStore) PutNote(_ context.Context, n Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	if cur, ok := s.notes[n.ID]; ok && cur.Owner != n.Owner {
		return ErrConflict
	}
	s.notes[n.ID] = n
	return nil
}

func (s *memoryStore) DeleteNote(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	n, ok := s.notes[id]
	if !ok || n.Owner != owner {
		return ErrNotFound
	}
	delete(s.notes, id)
	return nil
}

func (s *memoryStore) CountNotes(_ context.Context, owner string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrDisabled
	}
	c := 0
	for _, n := range s.notes {
		if n.Owner == owner {
			c++
		}
	}
	return c, nil
}

func (s *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	if len(s.audit) >= memoryAuditCap {
		copy(s.audit, s.audit[1:])
		s.audit = s.audit[:len(s.audit)-1]
	}
	s.audit = append(s.audit, e)
	return nil
}
