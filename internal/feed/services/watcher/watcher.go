// Package watcher keeps the page filtered as it changes: it reacts to
// inserted subtrees with targeted passes and to client-side navigation with a
// scheduled full sweep.
package watcher

import (
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/log"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/dom"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/domain"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/services/classifier"
)

// Passes is the part of the DOM filter the watcher drives.
type Passes interface {
	Nav(root *html.Node)
	Sidebar(root *html.Node)
	SuggestionModules(root *html.Node)
	Posts(root *html.Node)
	FilterAll()
	Settings() domain.Settings
}

// NavKind names the history operation behind a navigation.
type NavKind string

const (
	NavPush    NavKind = "push"
	NavReplace NavKind = "replace"
	NavPop     NavKind = "pop"
)

// Watcher observes one document.
type Watcher struct {
	doc    *dom.Document
	passes Passes
	gate   *CaughtUpGate

	mu  sync.Mutex
	obs *dom.Observer
}

// New returns a watcher. gate may be nil.
func New(doc *dom.Document, passes Passes, gate *CaughtUpGate) *Watcher {
	return &Watcher{doc: doc, passes: passes, gate: gate}
}

// Start begins observing insertions. Calling it twice is a no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.obs != nil {
		return
	}
	w.obs = w.doc.Observe(w.onMutations)
}

// Stop disconnects the observer.
func (w *Watcher) Stop() {
	w.mu.Lock()
	obs := w.obs
	w.obs = nil
	w.mu.Unlock()
	if obs != nil {
		obs.Disconnect()
	}
}

func (w *Watcher) onMutations(records []dom.MutationRecord) {
	for _, rec := range records {
		for _, n := range rec.AddedNodes {
			if !dom.IsElement(n) || classifier.InExemptZone(n) {
				continue
			}
			w.targeted(n)
		}
	}
	w.passes.FilterAll()
}

// targeted runs only the passes whose selectors occur in the added subtree.
func (w *Watcher) targeted(n *html.Node) {
	if dom.Has(n, classifier.PostSel) {
		w.passes.Posts(n)
	}
	if len(dom.QueryAllDescendants(n, classifier.NavLinkSel)) > 0 {
		w.passes.Nav(n)
	}
	if dom.Has(n, classifier.SidebarSel) {
		w.passes.Sidebar(n)
	}
	if len(dom.QueryAllDescendants(n, classifier.HeadingSel)) > 0 {
		w.passes.SuggestionModules(n)
	}
}

// PushState records a pushed history entry.
func (w *Watcher) PushState(path string) { w.navigate(NavPush, path) }

// ReplaceState records a replaced history entry.
func (w *Watcher) ReplaceState(path string) { w.navigate(NavReplace, path) }

// PopState records a back/forward navigation. It also turns the
// suggestion-block flag off.
func (w *Watcher) PopState(path string) {
	if w.gate != nil {
		w.gate.Reset()
	}
	w.navigate(NavPop, path)
}

func (w *Watcher) navigate(kind NavKind, path string) {
	if path == "" {
		path = "/"
	}
	w.doc.SetPath(path)
	log.Debug(map[string]any{"kind": string(kind), "path": path}, "navigation")
	w.passes.FilterAll()
}

// NavigationBlocked reports whether following a link to path should be
// cancelled because the settings block explore or reels.
func NavigationBlocked(path string, s domain.Settings) bool {
	switch {
	case s.BlockExplore && strings.HasPrefix(path, "/explore"):
		return true
	case s.BlockReels && strings.HasPrefix(path, "/reels"):
		return true
	}
	return false
}
