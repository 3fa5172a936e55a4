// Package proxy serves the sanitized site to a local browser. It reverse
// proxies every request to the upstream origin through the interception
// pipeline, runs HTML documents through the page runtime and exposes the
// control endpoints a settings UI would use.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/log"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/domain"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/services/watcher"
)

const (
	// ControlPrefix is reserved for the control endpoints.
	ControlPrefix = "/__insta-sanitizer/"

	// MaxDocumentSize bounds the HTML documents that are sanitized; larger
	// ones are streamed through untouched.
	MaxDocumentSize = 16 << 20

	controlTimeout  = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Page is the page runtime as seen by the proxy.
type Page interface {
	Render(path string, src io.Reader) ([]byte, error)
	Settings() domain.Settings
}

// Control is the message channel used by the control endpoints.
type Control interface {
	Post(msg domain.Message) error
	Request(ctx context.Context, msg domain.Message, reply domain.Kind) (domain.Message, error)
}

// Server is the sanitizing HTTP proxy.
type Server struct {
	addr      string
	upstream  *url.URL
	page      Page
	control   Control
	transport http.RoundTripper

	mu      sync.Mutex
	running bool
	ln      net.Listener
	srv     *http.Server
}

// New returns a proxy for upstream listening on addr. A nil page serves the
// upstream unfiltered; a nil control disables the control endpoints.
func New(addr string, upstream *url.URL, page Page, control Control, transport http.RoundTripper) *Server {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Server{
		addr:      addr,
		upstream:  upstream,
		page:      page,
		control:   control,
		transport: transport,
	}
}

// Start binds the listener and serves in the background until Stop is called
// or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("proxy already running")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.StdLogger(),
	}
	s.running = true

	log.Info(map[string]any{
		"address":  ln.Addr().String(),
		"upstream": s.upstream.String(),
		"filtered": s.page != nil,
	}, "proxy started")

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(map[string]any{"error": err.Error()}, "proxy stopped unexpectedly")
		}
	}(s.srv)
	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	if err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "error shutting down proxy")
	}
	log.Info(map[string]any{"address": s.ln.Addr().String()}, "proxy stopped")
	return err
}

// Address returns the bound address once started, the configured one
// before.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Handler returns the proxy's HTTP handler.
func (s *Server) Handler() http.Handler {
	rp := &httputil.ReverseProxy{
		Rewrite:        s.rewrite,
		Transport:      s.transport,
		ModifyResponse: s.modifyResponse,
		ErrorLog:       log.StdLogger(),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warn(map[string]any{"path": r.URL.Path, "error": err.Error()}, "upstream request failed")
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+ControlPrefix+"refresh", s.handleRefresh)
	mux.HandleFunc("POST "+ControlPrefix+"strict", s.handleStrict)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if s.page != nil && isDocumentRequest(r) && watcher.NavigationBlocked(r.URL.Path, s.page.Settings()) {
			log.Debug(map[string]any{"path": r.URL.Path}, "navigation blocked")
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		rp.ServeHTTP(w, r)
	})
	return mux
}

func (s *Server) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(s.upstream)
	pr.Out.Host = s.upstream.Host
	if pr.In.Header.Get("Referer") != "" {
		pr.Out.Header.Set("Referer", s.upstreamReferer(pr.In.Header.Get("Referer")))
	}
	if s.page != nil && isDocumentRequest(pr.In) {
		// documents are rewritten, so let the transport handle compression
		pr.Out.Header.Del("Accept-Encoding")
	}
}

// upstreamReferer points a local referer at the upstream origin, keeping
// its path.
func (s *Server) upstreamReferer(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	u.Scheme = s.upstream.Scheme
	u.Host = s.upstream.Host
	return u.String()
}

// modifyResponse sanitizes HTML documents. Any failure serves the original
// document.
func (s *Server) modifyResponse(resp *http.Response) error {
	if s.page == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
		return nil
	}
	if !strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		return nil
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && !strings.EqualFold(enc, "identity") {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize+1))
	if err != nil {
		return err
	}
	if len(raw) > MaxDocumentSize {
		resp.Body = readCloser{io.MultiReader(bytes.NewReader(raw), resp.Body), resp.Body}
		return nil
	}
	_ = resp.Body.Close()

	out, err := s.page.Render(resp.Request.URL.Path, bytes.NewReader(raw))
	if err != nil {
		log.Warn(map[string]any{"path": resp.Request.URL.Path, "error": err.Error()}, "document left unfiltered")
		out = raw
	}
	resp.Body = io.NopCloser(bytes.NewReader(out))
	resp.ContentLength = int64(len(out))
	resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
	resp.Header.Del("ETag")
	return nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

type controlResponse struct {
	OK     bool   `json:"ok"`
	Strict *bool  `json:"strict,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.control == nil {
		writeJSON(w, http.StatusServiceUnavailable, controlResponse{Error: "filtering disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()

	ack, err := s.control.Request(ctx, domain.NewSignal(domain.KindRefresh), domain.KindRefreshAck)
	if err != nil {
		writeJSON(w, http.StatusGatewayTimeout, controlResponse{Error: err.Error()})
		return
	}
	ok, err := ack.Bool()
	if err != nil || !ok {
		writeJSON(w, http.StatusInternalServerError, controlResponse{Error: "refresh failed"})
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{OK: true})
}

func (s *Server) handleStrict(w http.ResponseWriter, r *http.Request) {
	if s.control == nil {
		writeJSON(w, http.StatusServiceUnavailable, controlResponse{Error: "filtering disabled"})
		return
	}
	strict, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, controlResponse{Error: "enabled must be true or false"})
		return
	}
	if err := s.control.Post(domain.NewBool(domain.KindSetStrict, strict)); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, controlResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{OK: true, Strict: &strict})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug(map[string]any{"error": err.Error()}, "control response not written")
	}
}

// isDocumentRequest reports whether r is a top-level page navigation.
func isDocumentRequest(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if dest := r.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return dest == "document"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
