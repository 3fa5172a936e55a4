// Package domfilter applies the classifier to the rendered page. Each concern
// has its own pass taking an optional root so the same code serves full
// sweeps and mutation-scoped sweeps. Passes expect the document lock to be
// held: call them inside Document.Do or from a mutation observer.
package domfilter

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/clock"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/debounce"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/log"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/dom"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/domain"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/services/classifier"
)

const (
	// MarkerAttr flags an element as already processed.
	MarkerAttr = "data-insta-sanitized"
	// ReasonAttr records why the element was hidden.
	ReasonAttr = "data-insta-sanitized-why"

	// DefaultDebounce is the trailing delay of FilterAll.
	DefaultDebounce = 80 * time.Millisecond
	// DefaultSidebarDepth bounds the ancestor walk of the sidebar pass.
	DefaultSidebarDepth = 6
)

var (
	labelSel = cascadia.MustCompile(`span, div`)
	asideSel = cascadia.MustCompile(`aside, [role="complementary"]`)
)

// Options tunes a Filter.
type Options struct {
	Debounce     time.Duration
	SidebarDepth int
	Clock        clock.Clock
}

// Stats summarizes what the filter has done so far.
type Stats struct {
	Hidden   map[domain.HideReason]int
	Sweeps   int
	Failures int
}

// Filter runs the DOM passes against one document.
type Filter struct {
	doc          *dom.Document
	sidebarDepth int

	mu       sync.RWMutex
	settings domain.Settings

	statsMu  sync.Mutex
	hidden   map[domain.HideReason]int
	sweeps   int
	failures int

	passes []pass
	sweep  *debounce.Scheduler
}

type pass struct {
	name string
	run  func(root *html.Node)
}

// New returns a filter over doc using s until SetSettings is called.
func New(doc *dom.Document, s domain.Settings, opts Options) *Filter {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.SidebarDepth <= 0 {
		opts.SidebarDepth = DefaultSidebarDepth
	}
	f := &Filter{
		doc:          doc,
		sidebarDepth: opts.SidebarDepth,
		settings:     s,
		hidden:       make(map[domain.HideReason]int),
	}
	f.passes = []pass{
		{"nav", f.Nav},
		{"sidebar", f.Sidebar},
		{"suggestions", f.SuggestionModules},
		{"posts", f.Posts},
	}
	f.sweep = debounce.New(opts.Clock, opts.Debounce, f.FilterAllNow)
	return f
}

// SetSettings swaps the settings snapshot used by subsequent passes.
func (f *Filter) SetSettings(s domain.Settings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = s
}

// Settings returns the current snapshot.
func (f *Filter) Settings() domain.Settings {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.settings
}

// FilterAll schedules one trailing full sweep; calls within the debounce
// window collapse into a single run.
func (f *Filter) FilterAll() { f.sweep.Trigger() }

// Flush runs a scheduled sweep immediately, if one is pending.
func (f *Filter) Flush() bool { return f.sweep.Flush() }

// FilterAllNow runs every pass over the whole document synchronously.
func (f *Filter) FilterAllNow() {
	f.doc.Do(f.RunAll)
}

// RunAll runs the four passes over root. One failing pass does not stop the
// others.
func (f *Filter) RunAll(root *html.Node) {
	f.statsMu.Lock()
	f.sweeps++
	f.statsMu.Unlock()

	for _, p := range f.passes {
		f.safeRun(p, root)
	}
}

// Stop cancels any scheduled sweep.
func (f *Filter) Stop() { f.sweep.Stop() }

// Nav hides the explore and reels navigation links the settings block.
func (f *Filter) Nav(root *html.Node) {
	s := f.Settings()
	if !s.BlockExplore && !s.BlockReels {
		return
	}
	for _, a := range dom.QueryAll(root, classifier.NavLinkSel) {
		href, _ := dom.Attr(a, "href")
		if (href == "/explore/" && s.BlockExplore) || (href == "/reels/" && s.BlockReels) {
			f.markHidden(a, domain.HideNavLink)
		}
	}
}

// Sidebar hides the sidebar "suggested for you" block. From each visible,
// leaf-ish label it walks at most sidebarDepth ancestors looking for the
// header row that also holds "see all"; it hides that row, the list after it
// and their shared parent when the parent holds just those two. Without such
// a row the label's parent is hidden instead.
func (f *Filter) Sidebar(root *html.Node) {
	s := f.Settings()
	if !s.HideSuggested {
		return
	}
	scope := dom.Query(root, asideSel)
	if scope == nil {
		scope = root
	}
	for _, el := range dom.QueryAll(scope, labelSel) {
		if !dom.IsRendered(el) || len(dom.Children(el)) > 1 || classifier.InExemptZone(el) {
			continue
		}
		if !classifier.IsSuggestionTitle(dom.InnerText(el)) {
			continue
		}
		if !f.hideSidebarBlock(el) {
			f.markHidden(dom.ParentElement(el), domain.HideSidebarFallback)
		}
	}
}

func (f *Filter) hideSidebarBlock(label *html.Node) bool {
	p := dom.ParentElement(label)
	for i := 0; i < f.sidebarDepth && p != nil; i++ {
		if asideSel.Match(p) {
			return false
		}
		if strings.Contains(strings.ToLower(dom.InnerText(p)), "see all") {
			f.markHidden(p, domain.HideSidebarHeader)
			if list := dom.NextElementSibling(p); list != nil {
				f.markHidden(list, domain.HideSidebarList)
			}
			if parent := dom.ParentElement(p); parent != nil && len(dom.Children(parent)) == 2 {
				f.markHidden(parent, domain.HideSidebarContainer)
			}
			return true
		}
		p = dom.ParentElement(p)
	}
	return false
}

// SuggestionModules hides the block around every "suggested for you" heading
// outside exemption zones.
func (f *Filter) SuggestionModules(root *html.Node) {
	if !f.Settings().HideSuggested {
		return
	}
	for _, h := range dom.QueryAll(root, classifier.HeadingSel) {
		if classifier.InExemptZone(h) || !classifier.IsSuggestionHeading(h) {
			continue
		}
		f.markHidden(classifier.SuggestionBlock(h), domain.HideSuggestionsModule)
	}
}

// Posts classifies every unprocessed article under root.
func (f *Filter) Posts(root *html.Node) {
	s := f.Settings()
	path := f.doc.Path()
	for _, post := range dom.QueryAll(root, classifier.PostSel) {
		if marked(post) {
			continue
		}
		d := classifier.ClassifyPost(post, path, s)
		if !d.Dropped() {
			continue
		}
		if f.markHidden(post, d.Hide) {
			log.Debug(map[string]any{"reason": string(d.Reason), "author": d.Author}, "post hidden")
		}
	}
}

// Stats returns a copy of the counters.
func (f *Filter) Stats() Stats {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	hidden := make(map[domain.HideReason]int, len(f.hidden))
	for k, v := range f.hidden {
		hidden[k] = v
	}
	return Stats{Hidden: hidden, Sweeps: f.sweeps, Failures: f.failures}
}

// markHidden marks, records and hides n once. It reports whether n was newly
// hidden.
func (f *Filter) markHidden(n *html.Node, why domain.HideReason) bool {
	if n == nil || n.Type != html.ElementNode || marked(n) {
		return false
	}
	dom.SetAttr(n, MarkerAttr, "1")
	dom.SetAttr(n, ReasonAttr, string(why))
	style, _ := dom.Attr(n, "style")
	style = strings.TrimRight(strings.TrimSpace(style), ";")
	if style != "" {
		style += "; "
	}
	dom.SetAttr(n, "style", style+"display: none")

	f.statsMu.Lock()
	f.hidden[why]++
	f.statsMu.Unlock()
	log.Debug(map[string]any{"reason": string(why), "tag": n.Data}, "hide")
	return true
}

func marked(n *html.Node) bool {
	_, ok := dom.Attr(n, MarkerAttr)
	return ok
}

func (f *Filter) safeRun(p pass, root *html.Node) {
	defer func() {
		if r := recover(); r != nil {
			f.statsMu.Lock()
			f.failures++
			f.statsMu.Unlock()
			log.Warn(map[string]any{"pass": p.name, "error": fmt.Sprint(r)}, "filter pass failed")
		}
	}()
	p.run(root)
}
