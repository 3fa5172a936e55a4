package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/config"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/gateways/proxy"
)

const savedPage = `<!DOCTYPE html><html><head></head><body>
<nav><a href="/">Home</a><a href="/explore/">Explore</a></nav>
<main>
<article id="alice"><header><a href="/alice/">alice</a><span>Following</span></header><p>lunch</p></article>
<article id="carol"><header><a href="/carol/">carol</a><button>Follow</button></header><p>sunset</p></article>
</main></body></html>`

func execute(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFilterCommand(t *testing.T) {
	file := filepath.Join(t.TempDir(), "feed.html")
	require.NoError(t, os.WriteFile(file, []byte(savedPage), 0o644))

	out, err := execute(t, nil, "filter", file)
	require.NoError(t, err)
	assert.Contains(t, out, `id="carol" data-insta-sanitized="1"`)
	assert.NotContains(t, out, `id="alice" data-insta-sanitized`)
	assert.Contains(t, out, `href="/explore/" data-insta-sanitized="1"`)
}

func TestFilterCommand_StdinAndDirectPost(t *testing.T) {
	out, err := execute(t, strings.NewReader(savedPage), "filter", "-", "--path", "/p/abc/")
	require.NoError(t, err)
	assert.NotContains(t, out, `id="carol" data-insta-sanitized`)
}

func TestFilterCommand_MissingFile(t *testing.T) {
	_, err := execute(t, nil, "filter", filepath.Join(t.TempDir(), "nope.html"))
	assert.Error(t, err)
}

func TestFollowsCommands(t *testing.T) {
	store := filepath.Join(t.TempDir(), "store.db")

	out, err := execute(t, nil, "follows", "add", "Alice", "bob", "alice", "--store", store)
	require.NoError(t, err)
	assert.Equal(t, "added 2 of 3\n", out)

	out, err = execute(t, nil, "follows", "list", "--store", store)
	require.NoError(t, err)
	assert.Equal(t, "alice\nbob\n", out)

	_, err = execute(t, nil, "follows", "reset", "--store", store)
	require.NoError(t, err)

	out, err = execute(t, nil, "follows", "list", "--store", store)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, nil, "bogus")
	assert.Error(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// TestApplication_Integration runs the proxy against a fake origin.
func TestApplication_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, savedPage)
	}))
	defer origin.Close()

	port := freePort(t)
	t.Setenv("SANITIZE_LISTEN", fmt.Sprintf("127.0.0.1:%d", port))
	t.Setenv("SANITIZE_UPSTREAM", origin.URL)
	t.Setenv("SANITIZE_STORE_PATH", filepath.Join(t.TempDir(), "store.db"))
	t.Setenv("SANITIZE_LOG_LEVEL", "debug")
	t.Setenv("SANITIZE_ENV", "dev")

	cfg, err := config.Load()
	require.NoError(t, err)
	app, err := buildApplication(cfg)
	require.NoError(t, err)
	require.NotNil(t, app.runtime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	appErr := make(chan error, 1)
	go func() { appErr <- app.Run(ctx) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	var body string
	require.Eventually(t, func() bool {
		req, _ := http.NewRequest(http.MethodGet, base+"/", nil)
		req.Header.Set("Accept", "text/html")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		body = string(raw)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, body, `id="carol" data-insta-sanitized="1"`)

	resp, err := http.Post(base+proxy.ControlPrefix+"refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-appErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop")
	}
}

func TestBuildApplication_StoreFallback(t *testing.T) {
	cfg := config.DEFAULT_APP_CONFIG
	cfg.StorePath = filepath.Join(t.TempDir(), "missing", "dir", "store.db")
	cfg.Listen = "127.0.0.1:0"

	app, err := buildApplication(&cfg)
	require.NoError(t, err)
	assert.NotNil(t, app.runtime)
	app.close()
}

func TestBuildApplication_BadUpstream(t *testing.T) {
	cfg := config.DEFAULT_APP_CONFIG
	cfg.Upstream = "://bad"
	_, err := buildApplication(&cfg)
	assert.Error(t, err)
}
