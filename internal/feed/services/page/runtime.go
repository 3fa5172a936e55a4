// Package page composes the page-side pipeline for one tab: the document,
// the DOM filter, the mutation watcher, the caught-up gate and the network
// rewriter behind its interception pipeline.
package page

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/clock"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/log"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/dom"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/domain"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/gateways/interceptor"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/repos/reportcache"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/services/domfilter"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/services/rewriter"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/services/watcher"
)

// RefreshTimeout bounds one refresh triggered over the bus.
const RefreshTimeout = 5 * time.Second

// SettingsSource is the configuration provider the runtime reads from.
type SettingsSource interface {
	Current() domain.Settings
	Load() (domain.Settings, error)
	OnChange(fn func(domain.Settings))
}

// Bus is the message channel between the page and the extension context.
type Bus interface {
	Post(msg domain.Message) error
	Subscribe(handler func(domain.Message), kinds ...domain.Kind) func()
	Reply(req, resp domain.Message) error
}

// Options tunes a Runtime.
type Options struct {
	Debounce        time.Duration
	SidebarDepth    int
	ReportCacheSize int
	Clock           clock.Clock
	// Transport is the real network below the guards. Nil uses
	// http.DefaultTransport.
	Transport http.RoundTripper
}

// Runtime is the page context.
type Runtime struct {
	settings SettingsSource
	bus      Bus

	doc      *dom.Document
	filter   *domfilter.Filter
	watcher  *watcher.Watcher
	gate     *watcher.CaughtUpGate
	rewriter *rewriter.Rewriter
	pipeline *interceptor.Pipeline

	// render serializes navigations: the runtime models a single tab.
	render sync.Mutex
	unsub  func()
}

// New wires the page context and starts observing. The rewriter is attached
// to the bus before anything else so a follow-set broadcast sent right after
// New returns is not missed.
func New(settings SettingsSource, bus Bus, opts Options) (*Runtime, error) {
	reported, err := reportcache.New(opts.ReportCacheSize)
	if err != nil {
		return nil, fmt.Errorf("error creating report cache: %w", err)
	}

	rw := rewriter.New(bus, reported)
	rw.Attach(bus)

	doc := dom.New()
	filter := domfilter.New(doc, settings.Current(), domfilter.Options{
		Debounce:     opts.Debounce,
		SidebarDepth: opts.SidebarDepth,
		Clock:        opts.Clock,
	})
	gate := watcher.NewCaughtUpGate(doc, bus)

	r := &Runtime{
		settings: settings,
		bus:      bus,
		doc:      doc,
		filter:   filter,
		watcher:  watcher.New(doc, filter, gate),
		gate:     gate,
		rewriter: rw,
		pipeline: interceptor.New(opts.Transport, rw.SuggestionBlockGuard(), rw.FeedGuard()),
	}

	settings.OnChange(func(s domain.Settings) {
		filter.SetSettings(s)
		filter.FilterAll()
	})
	r.unsub = bus.Subscribe(r.onRefresh, domain.KindRefresh)

	gate.Start()
	r.watcher.Start()
	return r, nil
}

// Document returns the live document.
func (r *Runtime) Document() *dom.Document { return r.doc }

// Filter returns the DOM filter.
func (r *Runtime) Filter() *domfilter.Filter { return r.filter }

// Watcher returns the mutation watcher.
func (r *Runtime) Watcher() *watcher.Watcher { return r.watcher }

// Rewriter returns the network feed rewriter.
func (r *Runtime) Rewriter() *rewriter.Rewriter { return r.rewriter }

// Pipeline returns the interception pipeline every page request goes through.
func (r *Runtime) Pipeline() *interceptor.Pipeline { return r.pipeline }

// Settings returns the snapshot the DOM filter is using.
func (r *Runtime) Settings() domain.Settings { return r.filter.Settings() }

// Render navigates to path, loads src as the new document and returns it
// serialized after a full filter pass.
func (r *Runtime) Render(path string, src io.Reader) ([]byte, error) {
	r.render.Lock()
	defer r.render.Unlock()

	r.watcher.ReplaceState(path)
	if err := r.doc.Load(src); err != nil {
		return nil, err
	}
	// the load and the navigation both scheduled a sweep; run it now
	if !r.filter.Flush() {
		r.filter.FilterAllNow()
	}

	var buf bytes.Buffer
	if err := r.doc.Render(&buf); err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}
	return buf.Bytes(), nil
}

// Refresh reloads the settings and re-runs the full pass.
func (r *Runtime) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := r.settings.Load()
	if err != nil {
		return fmt.Errorf("refresh settings: %w", err)
	}
	r.filter.SetSettings(s)
	r.filter.FilterAllNow()
	return nil
}

// SetStrict toggles the rewriter's strict mode over the bus.
func (r *Runtime) SetStrict(strict bool) error {
	return r.bus.Post(domain.NewBool(domain.KindSetStrict, strict))
}

func (r *Runtime) onRefresh(msg domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), RefreshTimeout)
	defer cancel()

	err := r.Refresh(ctx)
	if err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "refresh failed")
	}
	if rerr := r.bus.Reply(msg, domain.NewBool(domain.KindRefreshAck, err == nil)); rerr != nil {
		log.Warn(map[string]any{"error": rerr.Error()}, "refresh ack not sent")
	}
}

// Close stops observing and detaches from the bus.
func (r *Runtime) Close() {
	r.watcher.Stop()
	r.gate.Stop()
	r.filter.Stop()
	r.rewriter.Close()
	if r.unsub != nil {
		r.unsub()
	}
}
