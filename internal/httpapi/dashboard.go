package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"hackboard/internal/board"
	logx "hackboard/pkg/logx"
)

type dashboardBody struct {
	User  string      `json:"user"`
	Board board.Board `json:"board"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())
	ctx := r.Context()
	if seeded, err := s.opts.Board.Seed(ctx, sess.User.ID); err != nil {
		s.log.Warn("seed board failed", logx.String("user_id", sess.User.ID), logx.Err(err))
	} else if seeded {
		s.log.Info("board seeded", logx.String("user_id", sess.User.ID))
	}
	b, err := s.opts.Board.List(ctx, sess.User.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardBody{User: sess.User.Email, Board: b})
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	sess, _ := SessionFrom(r.Context())
	n, err := s.opts.Board.Create(r.Context(), sess.User.ID, req.Title, req.Content)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) handleMoveNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	st, err := board.ParseStatus(req.Status)
	if err != nil {
		s.fail(w, err)
		return
	}
	sess, _ := SessionFrom(r.Context())
	n, err := s.opts.Board.Move(r.Context(), sess.User.ID, chi.URLParam(r, "id"), st)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())
	if err := s.opts.Board.Delete(r.Context(), sess.User.ID, chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail writes err with its mapped status; unexpected errors are logged and
// their text withheld.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", logx.Err(err))
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}
