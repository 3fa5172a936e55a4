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

// Publisher posts messages to the page context.
type Publisher interface {
	Post(msg domain.Message) error
}

// CaughtUpGate turns the suggestion-block flag on once the end-of-feed
// marker shows up and off again when a later insertion lacks it.
type CaughtUpGate struct {
	doc *dom.Document
	pub Publisher

	mu      sync.Mutex
	enabled bool
	obs     *dom.Observer
}

// NewCaughtUpGate returns a gate posting flips to pub.
func NewCaughtUpGate(doc *dom.Document, pub Publisher) *CaughtUpGate {
	return &CaughtUpGate{doc: doc, pub: pub}
}

// Start scans the whole document once and then every inserted element.
func (g *CaughtUpGate) Start() {
	g.doc.Do(g.maybeFlip)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.obs == nil {
		g.obs = g.doc.Observe(g.onMutations)
	}
}

// Stop disconnects the observer.
func (g *CaughtUpGate) Stop() {
	g.mu.Lock()
	obs := g.obs
	g.obs = nil
	g.mu.Unlock()
	if obs != nil {
		obs.Disconnect()
	}
}

// Enabled reports the last state sent.
func (g *CaughtUpGate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// Reset sends disable unconditionally.
func (g *CaughtUpGate) Reset() {
	g.mu.Lock()
	g.enabled = false
	g.mu.Unlock()
	g.send(domain.KindDisableSuggestBlock)
}

func (g *CaughtUpGate) onMutations(records []dom.MutationRecord) {
	for _, rec := range records {
		for _, n := range rec.AddedNodes {
			if dom.IsElement(n) {
				g.maybeFlip(n)
			}
		}
	}
}

func (g *CaughtUpGate) maybeFlip(root *html.Node) {
	want := AtEndOfFeed(root)
	g.mu.Lock()
	if want == g.enabled {
		g.mu.Unlock()
		return
	}
	g.enabled = want
	g.mu.Unlock()

	if want {
		g.send(domain.KindEnableSuggestBlock)
	} else {
		g.send(domain.KindDisableSuggestBlock)
	}
}

func (g *CaughtUpGate) send(kind domain.Kind) {
	if err := g.pub.Post(domain.NewSignal(kind)); err != nil {
		log.Warn(map[string]any{"type": string(kind), "error": err.Error()}, "suggest-block signal not sent")
	}
}

// AtEndOfFeed reports whether root shows the "all caught up" marker or its
// first heading announces suggested posts.
func AtEndOfFeed(root *html.Node) bool {
	text := normalizeQuotes(strings.ToLower(dom.InnerText(root)))
	if strings.Contains(text, "you're all caught up") {
		return true
	}
	h := dom.Query(root, classifier.HeadingSel)
	return h != nil && strings.Contains(strings.ToLower(dom.InnerText(h)), "suggested posts")
}

func normalizeQuotes(s string) string {
	return strings.ReplaceAll(s, "’", "'")
}
