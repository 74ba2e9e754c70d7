package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"hackboard/internal/auth"
	"hackboard/internal/board"
	"hackboard/internal/storage"
	"hackboard/internal/toast"
	logx "hackboard/pkg/logx"
)

type fixture struct {
	srv     *Server
	toasts  *toast.Registry
	limiter *Limiter
}

func newFixture(t *testing.T, lim LimiterConfig, mutate ...func(*Options)) *fixture {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	reg := toast.NewRegistry(toast.Options{Clock: toast.NewFakeClock(time.Unix(0, 0)), MaxVisible: 3})
	t.Cleanup(reg.Close)
	limiter := NewLimiter(lim)

	opts := Options{
		Auth:    auth.NewLocal(store, auth.Options{BcryptCost: bcrypt.MinCost, Log: logx.Nop()}),
		Board:   board.NewService(store),
		Toasts:  reg,
		Limiter: limiter,
		Log:     logx.Nop(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	srv := New(opts)
	return &fixture{srv: srv, toasts: opts.Toasts, limiter: limiter}
}

// client carries cookies between requests like a browser would.
type client struct {
	t       *testing.T
	h       http.Handler
	cookies map[string]*http.Cookie
}

func (f *fixture) client(t *testing.T) *client {
	return &client{t: t, h: f.srv, cookies: map[string]*http.Cookie{}}
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, ck := range c.cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}
	return rec
}

func (c *client) snapshot() toast.State {
	c.t.Helper()
	rec := c.do(http.MethodGet, "/toasts", nil)
	require.Equal(c.t, http.StatusOK, rec.Code)
	var st toast.State
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &st))
	return st
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var creds = map[string]string{"email": "neo@matrix.io", "password": "Passw0rdX"}

func TestIndexAndHealth(t *testing.T) {
	c := newFixture(t, LimiterConfig{}).client(t)

	rec := c.do(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"login":"/auth/login"`)
	assert.Contains(t, c.cookies, VisitorCookie)

	rec = c.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, "ok", rec.Body.String())

	rec = c.do(http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboardRequiresSession(t *testing.T) {
	c := newFixture(t, LimiterConfig{}).client(t)

	rec := c.do(http.MethodGet, "/dashboard", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login", rec.Header().Get("Location"))

	c.cookies[SessionCookie] = &http.Cookie{Name: SessionCookie, Value: "stale-token"}
	rec = c.do(http.MethodGet, "/dashboard", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login?error=session-expired", rec.Header().Get("Location"))
	assert.NotContains(t, c.cookies, SessionCookie, "stale cookie is cleared")

	rec = c.do(http.MethodGet, "/auth/login?error=session-expired", nil)
	body := decode[pageBody](t, rec)
	assert.Equal(t, "⏰ SESSION EXPIRED: Your session has timed out. Please log in again to continue.", body.Error)
}

func TestSignupLoginFlow(t *testing.T) {
	c := newFixture(t, LimiterConfig{}).client(t)

	rec := c.do(http.MethodPost, "/auth/signup", creds)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/auth/login?message=check-email", decode[pageBody](t, rec).Redirect)

	rec = c.do(http.MethodPost, "/auth/signup", creds)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, strings.HasPrefix(decode[pageBody](t, rec).Error, "👤 ACCOUNT EXISTS"))
	st := c.snapshot()
	require.NotEmpty(t, st.Toasts)
	assert.Equal(t, "🚨 Registration Failed", st.Toasts[0].Title)
	assert.Equal(t, toast.VariantDestructive, st.Toasts[0].Variant)

	c.do(http.MethodGet, "/auth/login?message=check-email", nil)
	st = c.snapshot()
	assert.Equal(t, "📧 Registration Successful!", st.Toasts[0].Title)

	rec = c.do(http.MethodPost, "/auth/login", map[string]string{"email": creds["email"], "password": "WrongPass1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, strings.HasPrefix(decode[pageBody](t, rec).Error, "🚫 ACCESS DENIED"))
	assert.Equal(t, "🚨 Authentication Failed", c.snapshot().Toasts[0].Title)

	rec = c.do(http.MethodPost, "/auth/login", map[string]string{"email": "", "password": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[pageBody](t, rec).Error, "AUTHENTICATION REQUIRED")

	rec = c.do(http.MethodPost, "/auth/login", creds)
	require.Equal(t, http.StatusOK, rec.Code)
	login := decode[loginBody](t, rec)
	assert.Equal(t, "/dashboard", login.Redirect)
	assert.Equal(t, "neo@matrix.io", login.User.Email)
	assert.Contains(t, c.cookies, SessionCookie)
	top := c.snapshot().Toasts[0]
	assert.Equal(t, "Success", top.Title)
	assert.Equal(t, "Logged in successfully", top.Description)

	rec = c.do(http.MethodPost, "/auth/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, c.cookies, SessionCookie)
	rec = c.do(http.MethodGet, "/dashboard", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestLoginAcceptsForm(t *testing.T) {
	f := newFixture(t, LimiterConfig{})
	c := f.client(t)
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/auth/signup", creds).Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("email=neo%40matrix.io&password=Passw0rdX"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDashboardNotes(t *testing.T) {
	c := newFixture(t, LimiterConfig{}).client(t)
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/auth/signup", creds).Code)
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/auth/login", creds).Code)

	rec := c.do(http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dash := decode[dashboardBody](t, rec)
	assert.Equal(t, "neo@matrix.io", dash.User)
	total := 0
	for _, col := range dash.Board.Columns {
		total += len(col.Notes)
	}
	assert.Equal(t, 4, total, "an empty board gets the demo notes")

	rec = c.do(http.MethodPost, "/dashboard/notes", map[string]string{"title": "Hack the Gibson", "content": "tonight"})
	require.Equal(t, http.StatusCreated, rec.Code)
	note := decode[board.Note](t, rec)
	assert.Equal(t, board.StatusTodo, note.Status)

	rec = c.do(http.MethodPost, "/dashboard/notes", map[string]string{"title": "", "content": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.do(http.MethodPatch, "/dashboard/notes/"+note.ID, map[string]string{"status": "done"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, board.StatusDone, decode[board.Note](t, rec).Status)

	rec = c.do(http.MethodPatch, "/dashboard/notes/"+note.ID, map[string]string{"status": "blocked"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.do(http.MethodPatch, "/dashboard/notes/missing", map[string]string{"status": "done"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = c.do(http.MethodDelete, "/dashboard/notes/"+note.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = c.do(http.MethodDelete, "/dashboard/notes/"+note.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = c.do(http.MethodPost, "/dashboard/notes", map[string]any{"title": "x", "content": "y", "extra": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, LimiterConfig{Enabled: true, RatePerSec: 0, Burst: 2})
	c := f.client(t)

	assert.Equal(t, http.StatusSeeOther, c.do(http.MethodGet, "/dashboard", nil).Code)
	assert.Equal(t, http.StatusSeeOther, c.do(http.MethodGet, "/dashboard", nil).Code)
	rec := c.do(http.MethodGet, "/dashboard", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests\n", rec.Body.String())

	rec = c.do(http.MethodPost, "/auth/login", creds)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, decode[pageBody](t, rec).Error, "Too many login attempts")

	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/toasts", nil).Code, "toasts are not limited")
	assert.Equal(t, 1, f.limiter.Len())
	assert.Zero(t, f.limiter.GC(time.Hour))
}

func TestToastRoutes(t *testing.T) {
	c := newFixture(t, LimiterConfig{}).client(t)

	rec := c.do(http.MethodPost, "/toasts", map[string]any{"title": "hello", "variant": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.do(http.MethodPost, "/toasts", map[string]any{
		"title":  "hello",
		"action": map[string]string{"label": "undo"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[map[string]string](t, rec)["id"]
	require.NotEmpty(t, id)

	rec = c.do(http.MethodPatch, "/toasts/"+id, map[string]any{"title": "updated", "variant": "destructive"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	st := c.snapshot()
	require.Len(t, st.Toasts, 1)
	assert.Equal(t, "updated", st.Toasts[0].Title)
	assert.Equal(t, toast.VariantDestructive, st.Toasts[0].Variant)
	require.NotNil(t, st.Toasts[0].Action)
	assert.Equal(t, "undo", st.Toasts[0].Action.Label)

	assert.Equal(t, http.StatusNoContent, c.do(http.MethodPatch, "/toasts/999999", map[string]any{"title": "x"}).Code)

	assert.Equal(t, http.StatusNoContent, c.do(http.MethodPost, "/toasts/"+id+"/dismiss", nil).Code)
	st = c.snapshot()
	require.Len(t, st.Toasts, 1)
	assert.False(t, st.Toasts[0].Open)

	c.do(http.MethodPost, "/toasts", map[string]any{"title": "second"})
	assert.Equal(t, http.StatusNoContent, c.do(http.MethodPost, "/toasts/dismiss", nil).Code)
	for _, tt := range c.snapshot().Toasts {
		assert.False(t, tt.Open)
	}

	other := &client{t: t, h: c.h, cookies: map[string]*http.Cookie{}}
	assert.Empty(t, other.snapshot().Toasts, "visitors do not share queues")
}

func TestSignupRejectsOverlongPassword(t *testing.T) {
	c := newFixture(t, LimiterConfig{}).client(t)

	rec := c.do(http.MethodPost, "/auth/signup", map[string]string{
		"email":    "morpheus@zion.net",
		"password": "Aa1" + strings.Repeat("x", 80),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[pageBody](t, rec)
	assert.Contains(t, body.Error, "must not exceed 72")
	assert.NotContains(t, rec.Body.String(), "bcrypt")
}

// brokenAuth fails every call the way a dead store would.
type brokenAuth struct{ auth.Provider }

func (brokenAuth) SignUp(context.Context, auth.Credentials) (auth.User, error) {
	return auth.User{}, errors.New("users: database is locked")
}

func (brokenAuth) SignIn(context.Context, auth.Credentials) (auth.Session, error) {
	return auth.Session{}, errors.New("sessions: database is locked")
}

func TestAuthServerErrorsHideDetails(t *testing.T) {
	c := newFixture(t, LimiterConfig{}, func(o *Options) {
		o.Auth = brokenAuth{o.Auth}
	}).client(t)

	rec := c.do(http.MethodPost, "/auth/signup", creds)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "SYSTEM ERROR: Unable to process registration request", decode[pageBody](t, rec).Error)
	assert.NotContains(t, rec.Body.String(), "database")

	rec = c.do(http.MethodPost, "/auth/login", creds)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "SYSTEM ERROR: Unable to process authentication request", decode[pageBody](t, rec).Error)

	top := c.snapshot().Toasts[0]
	assert.Equal(t, "🚨 Authentication Failed", top.Title)
	assert.NotContains(t, top.Description, "database")
}

func loginFrom(h http.Handler, remote string, xff string) int {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@b.co","password":"Passw0rdX"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remote
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	f := newFixture(t, LimiterConfig{Enabled: true, RatePerSec: 0.0001, Burst: 1})

	assert.NotEqual(t, http.StatusTooManyRequests, loginFrom(f.srv, "198.51.100.9:4000", "10.0.0.1"))
	for i := 2; i <= 5; i++ {
		code := loginFrom(f.srv, "198.51.100.9:4000", fmt.Sprintf("10.0.0.%d", i))
		assert.Equal(t, http.StatusTooManyRequests, code, "rotating X-Forwarded-For #%d", i)
	}
	assert.Equal(t, 1, f.limiter.Len())
}

func TestRateLimitHonorsTrustedProxy(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"192.0.2.0/24", "2001:db8::1"})
	require.NoError(t, err)
	f := newFixture(t, LimiterConfig{Enabled: true, RatePerSec: 0.0001, Burst: 1}, func(o *Options) {
		o.TrustedProxies = proxies
	})

	// distinct clients behind the proxy get their own buckets
	assert.NotEqual(t, http.StatusTooManyRequests, loginFrom(f.srv, "192.0.2.10:4000", "203.0.113.1"))
	assert.NotEqual(t, http.StatusTooManyRequests, loginFrom(f.srv, "192.0.2.10:4000", "203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, loginFrom(f.srv, "192.0.2.10:4000", "203.0.113.2"))

	// a client prepending its own hops is still keyed on the address the proxy saw
	for i := 0; i < 3; i++ {
		xff := fmt.Sprintf("10.9.9.%d, 203.0.113.2", i)
		assert.Equal(t, http.StatusTooManyRequests, loginFrom(f.srv, "192.0.2.10:4000", xff))
	}
	assert.Equal(t, http.StatusTooManyRequests, loginFrom(f.srv, "[2001:db8::1]:4000", "203.0.113.2"))
	assert.Equal(t, 2, f.limiter.Len())

	_, err = ParseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)
}

func TestCookielessToastPollingCreatesNoQueues(t *testing.T) {
	f := newFixture(t, LimiterConfig{Enabled: true, RatePerSec: 0.0001, Burst: 5})

	for i := 0; i < 1000; i++ {
		rec := httptest.NewRecorder()
		f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/toasts", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"toasts":[],"version":0}`, rec.Body.String())
	}
	assert.Zero(t, f.toasts.Len())

	limited := 0
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/toasts", strings.NewReader(`{"title":"spam"}`))
		req.Header.Set("Content-Type", "application/json")
		f.srv.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 45, limited)
	assert.Equal(t, 5, f.toasts.Len())
}

func TestRegistryCapBoundsVisitorQueues(t *testing.T) {
	reg := toast.NewRegistry(toast.Options{Clock: toast.NewFakeClock(time.Unix(0, 0)), MaxManagers: 10})
	t.Cleanup(reg.Close)
	f := newFixture(t, LimiterConfig{}, func(o *Options) { o.Toasts = reg })

	for i := 0; i < 200; i++ {
		c := f.client(t)
		require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/toasts", map[string]string{"title": "hi"}).Code)
		require.LessOrEqual(t, reg.Len(), 10)
	}
	assert.Equal(t, 10, reg.Len())
}
