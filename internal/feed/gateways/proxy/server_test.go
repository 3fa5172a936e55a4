package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/domain"
)

type fakePage struct {
	mu    sync.Mutex
	paths []string
	err   error
	s     domain.Settings
}

func (p *fakePage) Render(path string, src io.Reader) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, path)
	if p.err != nil {
		return nil, p.err
	}
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return []byte(strings.ReplaceAll(string(raw), "Sponsored", "")), nil
}

func (p *fakePage) Settings() domain.Settings { return p.s }

type MockControl struct {
	mock.Mock
}

func (m *MockControl) Post(msg domain.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockControl) Request(ctx context.Context, msg domain.Message, reply domain.Kind) (domain.Message, error) {
	args := m.Called(msg.Type, reply)
	return args.Get(0).(domain.Message), args.Error(1)
}

type upstreamSeen struct {
	mu             sync.Mutex
	host           string
	acceptEncoding string
	referer        string
}

func newUpstream(t *testing.T, seen *upstreamSeen) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.mu.Lock()
		seen.host = r.Host
		seen.acceptEncoding = r.Header.Get("Accept-Encoding")
		seen.referer = r.Header.Get("Referer")
		seen.mu.Unlock()

		switch r.URL.Path {
		case "/api/data":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"Sponsored":true}`)
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("ETag", `"doc"`)
			_, _ = io.WriteString(w, `<html><body><p>Sponsored</p><p>hello</p></body></html>`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProxy(t *testing.T, page Page, control Control) (*httptest.Server, *upstreamSeen) {
	t.Helper()
	seen := &upstreamSeen{}
	up := newUpstream(t, seen)
	u, err := url.Parse(up.URL)
	require.NoError(t, err)
	s := New("127.0.0.1:0", u, page, control, nil)
	front := httptest.NewServer(s.Handler())
	t.Cleanup(front.Close)
	return front, seen
}

func get(t *testing.T, rawURL string, header map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

var htmlAccept = map[string]string{"Accept": "text/html,application/xhtml+xml", "Accept-Encoding": "gzip"}

func TestProxy_SanitizesDocuments(t *testing.T) {
	page := &fakePage{s: domain.DefaultSettings()}
	front, seen := newProxy(t, page, nil)

	resp, body := get(t, front.URL+"/alice/", htmlAccept)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, body, "Sponsored")
	assert.Contains(t, body, "hello")
	assert.Equal(t, strconv.Itoa(len(body)), resp.Header.Get("Content-Length"))
	assert.Empty(t, resp.Header.Get("ETag"))
	assert.Equal(t, []string{"/alice/"}, page.paths)

	seen.mu.Lock()
	defer seen.mu.Unlock()
	assert.NotEqual(t, strings.TrimPrefix(front.URL, "http://"), seen.host, "host is rewritten to the upstream")
}

func TestProxy_PassesThroughNonDocuments(t *testing.T) {
	page := &fakePage{s: domain.DefaultSettings()}
	front, _ := newProxy(t, page, nil)

	_, body := get(t, front.URL+"/api/data", map[string]string{"Accept": "application/json"})
	assert.Equal(t, `{"Sponsored":true}`, body)
	assert.Empty(t, page.paths)
}

func TestProxy_RenderFailureServesOriginal(t *testing.T) {
	page := &fakePage{s: domain.DefaultSettings(), err: errors.New("parse")}
	front, _ := newProxy(t, page, nil)

	resp, body := get(t, front.URL+"/", htmlAccept)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Sponsored")
}

func TestProxy_WithoutPageIsUnfiltered(t *testing.T) {
	front, _ := newProxy(t, nil, nil)

	resp, body := get(t, front.URL+"/explore/", htmlAccept)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Sponsored")
	assert.Equal(t, `"doc"`, resp.Header.Get("ETag"))
}

func TestProxy_BlocksExploreAndReelsNavigation(t *testing.T) {
	s := domain.DefaultSettings()
	s.BlockReels = false
	front, _ := newProxy(t, &fakePage{s: s}, nil)

	resp, _ := get(t, front.URL+"/explore/", htmlAccept)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	resp, _ = get(t, front.URL+"/reels/", htmlAccept)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, front.URL+"/explore/", map[string]string{"Accept": "application/json"})
	assert.Equal(t, http.StatusOK, resp.StatusCode, "only navigations are blocked")
}

func TestProxy_RewritesRefererAndEncoding(t *testing.T) {
	front, seen := newProxy(t, &fakePage{s: domain.DefaultSettings()}, nil)
	get(t, front.URL+"/", map[string]string{
		"Accept":          "text/html",
		"Accept-Encoding": "br",
		"Referer":         front.URL + "/p/abc/",
	})

	seen.mu.Lock()
	defer seen.mu.Unlock()
	ref, err := url.Parse(seen.referer)
	require.NoError(t, err)
	assert.Equal(t, "/p/abc/", ref.Path)
	assert.Equal(t, seen.host, ref.Host)
	assert.NotEqual(t, "br", seen.acceptEncoding, "documents are fetched without the browser's encoding")
}

func TestProxy_UpstreamDown(t *testing.T) {
	u, err := url.Parse("http://127.0.0.1:1")
	require.NoError(t, err)
	front := httptest.NewServer(New("127.0.0.1:0", u, nil, nil, nil).Handler())
	defer front.Close()

	resp, _ := get(t, front.URL+"/", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func post(t *testing.T, rawURL string) (int, string) {
	t.Helper()
	resp, err := http.Post(rawURL, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(body))
}

func TestControl_Refresh(t *testing.T) {
	tests := []struct {
		name   string
		ack    domain.Message
		err    error
		status int
		body   string
	}{
		{"ok", domain.NewBool(domain.KindRefreshAck, true), nil, http.StatusOK, `{"ok":true}`},
		{"failed", domain.NewBool(domain.KindRefreshAck, false), nil, http.StatusInternalServerError, `{"ok":false,"error":"refresh failed"}`},
		{"timeout", domain.Message{}, context.DeadlineExceeded, http.StatusGatewayTimeout, `{"ok":false,"error":"context deadline exceeded"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &MockControl{}
			ctl.On("Request", domain.KindRefresh, domain.KindRefreshAck).Return(tt.ack, tt.err).Once()
			front, _ := newProxy(t, &fakePage{}, ctl)

			status, body := post(t, front.URL+ControlPrefix+"refresh")
			assert.Equal(t, tt.status, status)
			assert.JSONEq(t, tt.body, body)
			ctl.AssertExpectations(t)
		})
	}
}

func TestControl_Strict(t *testing.T) {
	ctl := &MockControl{}
	ctl.On("Post", domain.NewBool(domain.KindSetStrict, false)).Return(nil).Once()
	front, _ := newProxy(t, &fakePage{}, ctl)

	status, body := post(t, front.URL+ControlPrefix+"strict?enabled=false")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"ok":true,"strict":false}`, body)

	status, _ = post(t, front.URL+ControlPrefix+"strict?enabled=maybe")
	assert.Equal(t, http.StatusBadRequest, status)
	ctl.AssertExpectations(t)
}

func TestControl_DisabledWithoutBus(t *testing.T) {
	front, _ := newProxy(t, nil, nil)
	status, _ := post(t, front.URL+ControlPrefix+"refresh")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestServer_Lifecycle(t *testing.T) {
	u, err := url.Parse("http://127.0.0.1:1")
	require.NoError(t, err)
	s := New("127.0.0.1:0", u, nil, nil, nil)
	assert.Equal(t, "127.0.0.1:0", s.Address())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx), "second start fails")
	addr := s.Address()
	assert.NotEqual(t, "127.0.0.1:0", addr)

	status, _ := post(t, "http://"+addr+ControlPrefix+"refresh")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")
	assert.Equal(t, "127.0.0.1:0", s.Address())
}

func TestServer_BadAddress(t *testing.T) {
	u, _ := url.Parse("http://127.0.0.1:1")
	s := New("256.0.0.1:99999", u, nil, nil, nil)
	assert.Error(t, s.Start(context.Background()))
}
