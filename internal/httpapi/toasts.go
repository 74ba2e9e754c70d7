package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"hackboard/internal/toast"
	logx "hackboard/pkg/logx"
)

type toastRequest struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Variant     string        `json:"variant"`
	Action      *toast.Action `json:"action"`
}

type toastPatchRequest struct {
	Title       *string       `json:"title"`
	Description *string       `json:"description"`
	Variant     *string       `json:"variant"`
	Open        *bool         `json:"open"`
	Action      *toast.Action `json:"action"`
}

// handleToastSnapshot never creates a queue; a visitor without one sees an
// empty list.
func (s *Server) handleToastSnapshot(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.opts.Toasts.Lookup(VisitorFrom(r.Context()))
	if !ok {
		writeJSON(w, http.StatusOK, toast.State{Toasts: []toast.Toast{}})
		return
	}
	writeJSON(w, http.StatusOK, mgr.Snapshot())
}

func (s *Server) handleToastAdd(w http.ResponseWriter, r *http.Request) {
	var req toastRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	v, err := toast.ParseVariant(req.Variant)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h := s.addToast(r, toast.Input{
		Title:       req.Title,
		Description: req.Description,
		Variant:     v,
		Action:      req.Action,
	})
	writeJSON(w, http.StatusCreated, map[string]string{"id": h.ID})
}

// handleToastUpdate is 204 even for unknown ids; the queue ignores them.
func (s *Server) handleToastUpdate(w http.ResponseWriter, r *http.Request) {
	var req toastPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	p := toast.Patch{
		Title:       req.Title,
		Description: req.Description,
		Open:        req.Open,
		Action:      req.Action,
	}
	if req.Variant != nil {
		v, err := toast.ParseVariant(*req.Variant)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p.Variant = &v
	}
	s.toasts(r).Update(chi.URLParam(r, "id"), p)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToastDismiss(w http.ResponseWriter, r *http.Request) {
	s.toasts(r).Dismiss(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToastDismissAll(w http.ResponseWriter, r *http.Request) {
	s.toasts(r).DismissAll()
	w.WriteHeader(http.StatusNoContent)
}

// streamBuffer bounds queued states per websocket; the oldest is dropped
// when a slow client falls behind, since only the latest state matters.
const streamBuffer = 16

// handleToastStream sends the current state, then every broadcast.
func (s *Server) handleToastStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	defer conn.Close()

	s.opts.Metrics.StreamOpened()
	defer s.opts.Metrics.StreamClosed()

	mgr := s.toasts(r)
	states := make(chan toast.State, streamBuffer)
	unsubscribe := mgr.Subscribe(func(st toast.State) {
		for {
			select {
			case states <- st:
				return
			default:
			}
			select {
			case <-states:
			default:
			}
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go s.streamReader(conn, closed)

	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()

	snap := mgr.Snapshot()
	if err := s.writeState(conn, snap); err != nil {
		return
	}
	last := snap.Version
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-s.quit:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteTimeout))
			return
		case st := <-states:
			if !newerState(&last, st) {
				continue
			}
			if err := s.writeState(conn, st); err != nil {
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// newerState reports whether st is newer than the last state sent and
// advances last. Broadcasts queued before the first snapshot are dropped.
func newerState(last *uint64, st toast.State) bool {
	if st.Version <= *last {
		return false
	}
	*last = st.Version
	return true
}

func (s *Server) writeState(conn *websocket.Conn, st toast.State) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := conn.WriteJSON(st); err != nil {
		s.log.Debug("websocket write failed", logx.Err(err))
		return err
	}
	return nil
}

// streamReader discards client frames and closes done when the peer goes away.
func (s *Server) streamReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	wait := 2 * s.opts.PingInterval
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read error", logx.Err(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wait))
	}
}
