// Package board is the per-user kanban board behind /dashboard.
package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hackboard/internal/storage"
)

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Columns is the fixed left-to-right column order.
var Columns = []Status{StatusTodo, StatusInProgress, StatusDone}

var (
	ErrEmptyNote     = errors.New("note title and content are required")
	ErrUnknownStatus = errors.New("unknown note status")
)

func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusTodo:
		return StatusTodo, nil
	case StatusInProgress:
		return StatusInProgress, nil
	case StatusDone:
		return StatusDone, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type Column struct {
	Status Status `json:"status"`
	Notes  []Note `json:"notes"`
}

type Board struct {
	Columns []Column `json:"columns"`
}

type Service struct {
	store storage.Store
	now   func() time.Time
}

func NewService(store storage.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// List groups the owner's notes into columns, oldest first within a column.
func (s *Service) List(ctx context.Context, owner string) (Board, error) {
	notes, err := s.store.ListNotes(ctx, owner)
	if err != nil {
		return Board{}, fmt.Errorf("list notes: %w", err)
	}
	b := Board{Columns: make([]Column, len(Columns))}
	idx := make(map[Status]int, len(Columns))
	for i, st := range Columns {
		b.Columns[i] = Column{Status: st, Notes: []Note{}}
		idx[st] = i
	}
	for _, n := range notes {
		i, ok := idx[Status(n.Status)]
		if !ok {
			// rows written by a newer build; keep them visible
			i = idx[StatusTodo]
		}
		b.Columns[i].Notes = append(b.Columns[i].Notes, fromStorage(n))
	}
	return b, nil
}

func (s *Service) Create(ctx context.Context, owner, title, content string) (Note, error) {
	title, content = strings.TrimSpace(title), strings.TrimSpace(content)
	if title == "" || content == "" {
		return Note{}, ErrEmptyNote
	}
	n := storage.Note{
		ID:        uuid.NewString(),
		Owner:     owner,
		Title:     title,
		Content:   content,
		Status:    string(StatusTodo),
		CreatedAt: s.now(),
	}
	if err := s.store.PutNote(ctx, n); err != nil {
		return Note{}, fmt.Errorf("create note: %w", err)
	}
	return fromStorage(n), nil
}

func (s *Service) Move(ctx context.Context, owner, id string, status Status) (Note, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Note{}, err
	}
	n, err := s.store.GetNote(ctx, owner, id)
	if err != nil {
		return Note{}, err
	}
	n.Status = string(status)
	if err := s.store.PutNote(ctx, n); err != nil {
		return Note{}, fmt.Errorf("move note: %w", err)
	}
	return fromStorage(n), nil
}

func (s *Service) Delete(ctx context.Context, owner, id string) error {
	return s.store.DeleteNote(ctx, owner, id)
}

var demoNotes = []struct {
	title, content string
	status         Status
}{
	{"Setup project", "Initialize Next.js with Supabase", StatusDone},
	{"Build authentication", "Implement login/signup flow", StatusDone},
	{"Create kanban board", "Build retro-terminal style interface", StatusInProgress},
	{"Add database integration", "Connect notes to Supabase database", StatusTodo},
}

// Seed fills an empty board with the demo notes. It reports whether it did.
func (s *Service) Seed(ctx context.Context, owner string) (bool, error) {
	c, err := s.store.CountNotes(ctx, owner)
	if err != nil {
		return false, fmt.Errorf("count notes: %w", err)
	}
	if c > 0 {
		return false, nil
	}
	base := s.now()
	for i, d := range demoNotes {
		n := storage.Note{
			ID:        uuid.NewString(),
			Owner:     owner,
			Title:     d.title,
			Content:   d.content,
			Status:    string(d.status),
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := s.store.PutNote(ctx, n); err != nil {
			return false, fmt.Errorf("seed note: %w", err)
		}
	}
	return true, nil
}

func fromStorage(n storage.Note) Note {
	return Note{ID: n.ID, Title: n.Title, Content: n.Content, Status: Status(n.Status), CreatedAt: n.CreatedAt}
}
