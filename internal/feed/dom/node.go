package dom

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Attr returns the value of attribute key on n.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets (or replaces) attribute key on n.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// IsElement reports whether n is an element node.
func IsElement(n *html.Node) bool { return n != nil && n.Type == html.ElementNode }

// Closest returns the nearest ancestor-or-self element matching m.
func Closest(n *html.Node, m cascadia.Matcher) *html.Node {
	for p := n; p != nil; p = p.Parent {
		if m.Match(p) {
			return p
		}
	}
	return nil
}

// QueryAll returns, in document order, every element in the subtree rooted at
// root (root included) that matches m. cascadia.QueryAll skips root.
func QueryAll(root *html.Node, m cascadia.Matcher) []*html.Node {
	var out []*html.Node
	Walk(root, func(n *html.Node) bool {
		if m.Match(n) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// QueryAllDescendants is QueryAll without root itself.
func QueryAllDescendants(root *html.Node, m cascadia.Matcher) []*html.Node {
	var out []*html.Node
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, QueryAll(c, m)...)
	}
	return out
}

// Query returns the first element in the subtree (root included) matching m.
func Query(root *html.Node, m cascadia.Matcher) *html.Node {
	var found *html.Node
	Walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if m.Match(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// Has reports whether any element in the subtree matches m.
func Has(root *html.Node, m cascadia.Matcher) bool { return Query(root, m) != nil }

// Walk visits root and its descendants in pre-order. Returning false from
// visit skips the children of the visited node.
func Walk(root *html.Node, visit func(*html.Node) bool) {
	if root == nil {
		return
	}
	if !visit(root) {
		return
	}
	for c := root.FirstChild; c != nil; {
		next := c.NextSibling
		Walk(c, visit)
		c = next
	}
}

// Children returns the element children of n.
func Children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// FirstElementChild returns the first element child of n, or nil.
func FirstElementChild(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// NextElementSibling returns the next element sibling of n, or nil.
func NextElementSibling(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

// ParentElement returns the parent of n when it is an element.
func ParentElement(n *html.Node) *html.Node {
	if n == nil || n.Parent == nil || n.Parent.Type != html.ElementNode {
		return nil
	}
	return n.Parent
}

// TextContent concatenates every descendant text node.
func TextContent(n *html.Node) string {
	var b strings.Builder
	Walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

// InnerText approximates the rendered text of n: script and style content
// and non-rendered subtrees are skipped, and block elements are separated by
// newlines.
func InnerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			return
		case html.ElementNode:
			if skipText(c) || hiddenSelf(c) {
				return
			}
		}
		block := c.Type == html.ElementNode && isBlock(c.DataAtom)
		if block {
			b.WriteByte('\n')
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
		if block {
			b.WriteByte('\n')
		}
	}
	walk(n)
	return b.String()
}

// IsRendered reports whether neither n nor any ancestor is hidden through the
// hidden attribute or an inline display:none.
func IsRendered(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && hiddenSelf(p) {
			return false
		}
	}
	return true
}

func hiddenSelf(n *html.Node) bool {
	if _, ok := Attr(n, "hidden"); ok {
		return true
	}
	style, _ := Attr(n, "style")
	return strings.Contains(strings.ReplaceAll(strings.ToLower(style), " ", ""), "display:none")
}

func skipText(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template:
		return true
	}
	return false
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.Div, atom.P, atom.Section, atom.Article, atom.Header, atom.Footer,
		atom.Nav, atom.Main, atom.Aside, atom.H1, atom.H2, atom.H3, atom.H4,
		atom.H5, atom.H6, atom.Ul, atom.Ol, atom.Li, atom.Br, atom.Table, atom.Tr:
		return true
	}
	return false
}
