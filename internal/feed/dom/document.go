// Package dom hosts the page's rendered tree. A Document wraps a parsed
// golang.org/x/net/html tree, serializes every access through one lock (the
// page's single UI thread) and reports structural changes to observers as
// mutation records.
package dom

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrDetached is returned when a mutation targets a node outside the document.
var ErrDetached = errors.New("node is not attached to this document")

// MutationRecord describes one childList change.
type MutationRecord struct {
	Target       *html.Node
	AddedNodes   []*html.Node
	RemovedNodes []*html.Node
}

// ObserverFunc receives the records produced by a single mutating call. It is
// invoked while the document lock is held: it may read the tree and change
// attributes, but must not call Do or any mutating method.
type ObserverFunc func(records []MutationRecord)

// Observer is a registration handle returned by Observe.
type Observer struct {
	doc *Document
	fn  ObserverFunc
}

// Disconnect stops delivery to this observer.
func (o *Observer) Disconnect() {
	o.doc.mu.Lock()
	defer o.doc.mu.Unlock()
	obs := o.doc.observers[:0]
	for _, x := range o.doc.observers {
		if x != o {
			obs = append(obs, x)
		}
	}
	o.doc.observers = obs
}

// Document is the live page tree.
type Document struct {
	mu        sync.Mutex
	root      *html.Node
	observers []*Observer

	path atomic.Value // string
}

// Path returns the current location path ("/" before any navigation). It
// does not take the document lock, so passes running inside Do may call it.
func (d *Document) Path() string {
	if p, ok := d.path.Load().(string); ok && p != "" {
		return p
	}
	return "/"
}

// SetPath records a navigation to path.
func (d *Document) SetPath(path string) {
	d.path.Store(path)
}

// New returns an empty document (<html><head></head><body></body></html>).
func New() *Document {
	d, _ := Parse(strings.NewReader(""))
	return d
}

// Parse builds a document from HTML.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Do runs fn with exclusive access to the tree.
func (d *Document) Do(fn func(root *html.Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.root)
}

// Observe registers fn for childList mutations anywhere under the root.
func (d *Document) Observe(fn ObserverFunc) *Observer {
	d.mu.Lock()
	defer d.mu.Unlock()
	o := &Observer{doc: d, fn: fn}
	d.observers = append(d.observers, o)
	return o
}

// Render writes the serialized document to w.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// String returns the serialized document.
func (d *Document) String() string {
	var buf bytes.Buffer
	_ = d.Render(&buf)
	return buf.String()
}

// Body returns the <body> element, or nil.
func (d *Document) Body() *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return findAtom(d.root, atom.Body)
}

// Load replaces the whole tree with newly parsed HTML, as a navigation does.
// Observers see the old children removed and the new ones added.
func (d *Document) Load(r io.Reader) error {
	fresh, err := html.Parse(r)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var removed []*html.Node
	for c := d.root.FirstChild; c != nil; {
		next := c.NextSibling
		d.root.RemoveChild(c)
		removed = append(removed, c)
		c = next
	}
	var added []*html.Node
	for c := fresh.FirstChild; c != nil; {
		next := c.NextSibling
		fresh.RemoveChild(c)
		d.root.AppendChild(c)
		added = append(added, c)
		c = next
	}
	d.notifyLocked([]MutationRecord{{Target: d.root, AddedNodes: added, RemovedNodes: removed}})
	return nil
}

// AppendChild attaches child (and its subtree) as the last child of parent.
func (d *Document) AppendChild(parent, child *html.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.containsLocked(parent) {
		return ErrDetached
	}
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.AppendChild(child)
	d.notifyLocked([]MutationRecord{{Target: parent, AddedNodes: []*html.Node{child}}})
	return nil
}

// AppendHTML parses fragment in the context of parent and appends the
// resulting nodes as one mutation record.
func (d *Document) AppendHTML(parent *html.Node, fragment string) ([]*html.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.containsLocked(parent) {
		return nil, ErrDetached
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	d.notifyLocked([]MutationRecord{{Target: parent, AddedNodes: nodes}})
	return nodes, nil
}

// RemoveChild detaches child from parent.
func (d *Document) RemoveChild(parent, child *html.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if child.Parent != parent || !d.containsLocked(parent) {
		return ErrDetached
	}
	parent.RemoveChild(child)
	d.notifyLocked([]MutationRecord{{Target: parent, RemovedNodes: []*html.Node{child}}})
	return nil
}

func (d *Document) containsLocked(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

func (d *Document) notifyLocked(records []MutationRecord) {
	for _, o := range d.observers {
		o.fn(records)
	}
}

func findAtom(root *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	Walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return false
		}
		return true
	})
	return found
}
