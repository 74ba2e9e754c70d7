package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hackboard/internal/config"
	"hackboard/internal/janitor"
	"hackboard/internal/toast"
)

const baseConfig = `
server:
  addr: 127.0.0.1:0
  shutdown_timeout: 2s
logging:
  level: error
  console: true
toast:
  max_visible: 2
  auto_dismiss_delay: 5s
  remove_delay: 0s
rate_limit:
  enabled: false
storage:
  driver: memory
metrics:
  enabled: true
janitor:
  enabled: true
`

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func startApp(t *testing.T, body string) (*App, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hackboard.yaml")
	writeConfig(t, path, body)

	a, err := NewApp(path)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})
	return a, path
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second, Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestAppServesAndStops(t *testing.T) {
	a, _ := startApp(t, baseConfig)
	require.NotEmpty(t, a.Addr())
	base := "http://" + a.Addr()

	code, body := get(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "hackboard_toast_managers")
	assert.Contains(t, body, "hackboard_supervisor_goroutines")

	assert.ErrorIs(t, a.Start(context.Background()), ErrStarted)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopAppStop))
	require.NoError(t, a.Stop(ctx, StopAppStop), "second stop is a no-op")

	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	assert.NoError(t, a.Err())
}

func TestAppUsesToastConfig(t *testing.T) {
	a, _ := startApp(t, baseConfig)

	opts := a.toasts.Options()
	assert.Equal(t, 2, opts.MaxVisible)
	assert.Equal(t, 5*time.Second, opts.AutoDismissDelay)
	assert.Zero(t, opts.RemoveDelay, "an explicit 0s is kept")
	assert.Equal(t, config.DefaultMaxQueues, opts.MaxManagers)

	m := a.toasts.For("visitor")
	for i := 0; i < 4; i++ {
		m.Add(toast.Input{Title: "t"})
	}
	assert.Len(t, m.Snapshot().Toasts, 2)
}

func TestAppHotReload(t *testing.T) {
	a, path := startApp(t, baseConfig)

	writeConfig(t, path, baseConfig+`
pprof:
  enabled: false
`)
	changed, err := a.cfgm.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed, "an explicit default is not a change")

	next := `
server:
  addr: 127.0.0.1:0
  shutdown_timeout: 2s
logging:
  level: error
  console: true
toast:
  max_visible: 4
rate_limit:
  enabled: true
  rate_per_sec: 0.001
  burst: 1
storage:
  driver: memory
janitor:
  enabled: true
metrics:
  enabled: true
`
	writeConfig(t, path, next)
	// the file watcher may get there first; either way the change lands
	_, err = a.cfgm.Reload(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return a.toasts.Options().MaxVisible == 4
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 4, a.Config().Toast.MaxVisible)

	i := 0
	require.Eventually(t, func() bool {
		i++
		key := fmt.Sprintf("10.0.0.%d", i)
		return a.limiter.Allow(key) && !a.limiter.Allow(key)
	}, 3*time.Second, 10*time.Millisecond, "rate limit applied live")
}

func TestAppRejectsUnknownJobOnReload(t *testing.T) {
	a, path := startApp(t, baseConfig)

	writeConfig(t, path, baseConfig+`
  jobs:
    bogus.job: "@every 1m"
`)
	_, err := a.cfgm.Reload(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, janitor.ErrUnknownJob)
	assert.Equal(t, 2, a.Config().Toast.MaxVisible, "rejected config is not applied")
}

func TestNewAppRejectsBadJobs(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.yaml")
	writeConfig(t, unknown, baseConfig+`
  jobs:
    bogus.job: "@every 1m"
`)
	_, err := NewApp(unknown)
	assert.ErrorIs(t, err, janitor.ErrUnknownJob)

	badSpec := filepath.Join(dir, "spec.yaml")
	writeConfig(t, badSpec, baseConfig+`
  jobs:
    toasts.sweep: "every now and then"
`)
	_, err = NewApp(badSpec)
	assert.Error(t, err)
}

func TestAppJobs(t *testing.T) {
	a, _ := startApp(t, baseConfig)

	names := make([]string, 0, 3)
	for _, e := range a.janitor.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{janitor.JobRateLimitGC, janitor.JobSessionsPurge, janitor.JobToastsSweep}, names)

	ctx := context.Background()
	for _, n := range names {
		assert.NoError(t, a.janitor.RunNow(ctx, n), n)
	}
}

func TestDefaultsWithoutConfigFile(t *testing.T) {
	a, err := NewApp("")
	require.NoError(t, err)
	assert.Nil(t, a.cfgm)
	assert.Equal(t, "memory", a.Config().Storage.Driver)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.NoError(t, a.Stop(context.Background(), StopAppStop), "stop before start is a no-op")
	assert.NoError(t, a.store.Close())
}

func TestAppTrustsConfiguredProxies(t *testing.T) {
	a, _ := startApp(t, `
server:
  addr: 127.0.0.1:0
  trusted_proxies: ["192.0.2.0/24"]
logging:
  level: error
rate_limit:
  enabled: true
  rate_per_sec: 0.001
  burst: 1
storage:
  driver: memory
toast:
  max_queues: 2
`)
	login := func(remote, xff string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@b.co","password":"Passw0rdX"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", xff)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, login("192.0.2.1:5000", "203.0.113.1"))
	assert.Equal(t, http.StatusUnauthorized, login("192.0.2.1:5000", "203.0.113.2"))
	assert.Equal(t, http.StatusUnauthorized, login("198.51.100.1:5000", "203.0.113.3"))
	assert.Equal(t, http.StatusTooManyRequests, login("198.51.100.1:5000", "203.0.113.4"), "untrusted peers are keyed on the connection")

	assert.LessOrEqual(t, a.toasts.Len(), 2)
}

func TestReasonForSignal(t *testing.T) {
	assert.Equal(t, StopSIGINT, ReasonForSignal(os.Interrupt))
	assert.Equal(t, StopUnknown, ReasonForSignal(os.Kill))
}

func TestCheckConfig(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	writeConfig(t, good, baseConfig)
	cfg, err := CheckConfig(context.Background(), good)
	require.NoError(t, err)
	assert.Len(t, cfg.Janitor.Jobs, 3)

	bad := filepath.Join(dir, "bad.yaml")
	writeConfig(t, bad, baseConfig+`
  jobs:
    bogus.job: "@hourly"
`)
	_, err = CheckConfig(context.Background(), bad)
	assert.ErrorIs(t, err, janitor.ErrUnknownJob)

	_, err = CheckConfig(context.Background(), filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
