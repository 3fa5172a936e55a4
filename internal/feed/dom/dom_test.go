package dom

import (
	"strings"
	"testing"

	"github.com/andybalholm/cascadia"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestQueries_WithCascadiaSelectors(t *testing.T) {
	doc, err := ParseString(`<div role="dialog" aria-modal="true"><header><a href="/explore/" id="x">E</a></header><A HREF="/reels/">R</A></div>`)
	require.NoError(t, err)

	doc.Do(func(root *html.Node) {
		links := QueryAll(root, cascadia.MustCompile("a"))
		require.Len(t, links, 2)
		explore, reels := links[0], links[1]
		div := Query(root, cascadia.MustCompile("div"))

		assert.Equal(t, explore, Query(root, cascadia.MustCompile(`a[href="/explore/"]`)))
		assert.Nil(t, Query(root, cascadia.MustCompile(`a[href="/explore"]`)))
		assert.Equal(t, reels, Query(root, cascadia.MustCompile(`a[href='/reels/']`)), "the parser lower-cases tags and attribute names")
		assert.Equal(t, div, Closest(explore, cascadia.MustCompile(`span, [aria-modal]`)))
		assert.Equal(t, div, Closest(reels, cascadia.MustCompile(`[role="dialog"]`)))
		assert.Nil(t, Closest(reels, cascadia.MustCompile(`div[role="dialog"][id]`)))
		assert.Equal(t, []*html.Node{explore}, QueryAll(root, cascadia.MustCompile("header a")), "descendant combinators")
		assert.Nil(t, Query(explore.FirstChild, cascadia.MustCompile("a")), "text nodes never match")
	})
}

func TestMustCompile_RejectsBadSelectors(t *testing.T) {
	for _, src := range []string{"a[href", "a[=x]"} {
		_, err := cascadia.Compile(src)
		assert.Error(t, err, src)
	}
}

func TestQueries(t *testing.T) {
	doc, err := ParseString(`<main id="m"><section id="s1"><p id="p1">one</p></section><section id="s2"><p id="p2">two</p></section></main>`)
	require.NoError(t, err)

	doc.Do(func(root *html.Node) {
		main := Query(root, cascadia.MustCompile("main"))
		require.NotNil(t, main)

		sections := QueryAll(main, cascadia.MustCompile("section"))
		assert.Len(t, sections, 2)
		assert.Len(t, QueryAll(main, cascadia.MustCompile("main")), 1, "root itself is included")
		assert.Empty(t, QueryAllDescendants(main, cascadia.MustCompile("main")))

		p2 := Query(root, cascadia.MustCompile(`p[id=p2]`))
		assert.Equal(t, sections[1], Closest(p2, cascadia.MustCompile("section")))
		assert.Equal(t, p2, Closest(p2, cascadia.MustCompile("p")))
		assert.Nil(t, Closest(p2, cascadia.MustCompile("aside")))

		assert.Equal(t, sections[0], FirstElementChild(main))
		assert.Equal(t, sections[1], NextElementSibling(sections[0]))
		assert.Nil(t, NextElementSibling(sections[1]))
		assert.Equal(t, main, ParentElement(sections[0]))
		assert.Len(t, Children(main), 2)
		assert.True(t, Has(main, cascadia.MustCompile("p")))
		assert.False(t, Has(main, cascadia.MustCompile("nav")))
	})
}

func TestAttrHelpers(t *testing.T) {
	n := &html.Node{Type: html.ElementNode, Data: "div", Attr: []html.Attribute{{Key: "Role", Val: "region"}}}
	v, ok := Attr(n, "role")
	assert.True(t, ok)
	assert.Equal(t, "region", v)

	SetAttr(n, "role", "dialog")
	SetAttr(n, "data-x", "1")
	v, _ = Attr(n, "role")
	assert.Equal(t, "dialog", v)
	assert.Len(t, n.Attr, 2)

	_, ok = Attr(nil, "role")
	assert.False(t, ok)
}

func TestText(t *testing.T) {
	doc, err := ParseString(`<div id="d"><h2>Suggested for you</h2><script>var x</script><span hidden>secret</span><span style="DISPLAY: none">gone</span><span>See all</span></div>`)
	require.NoError(t, err)

	doc.Do(func(root *html.Node) {
		d := Query(root, cascadia.MustCompile("div[id=d]"))
		text := InnerText(d)
		assert.Contains(t, text, "Suggested for you")
		assert.Contains(t, text, "See all")
		assert.NotContains(t, text, "var x")
		assert.NotContains(t, text, "secret")
		assert.NotContains(t, text, "gone")
		assert.Contains(t, TextContent(d), "secret")

		hidden := Query(root, cascadia.MustCompile("span[hidden]"))
		assert.False(t, IsRendered(hidden))
		assert.False(t, IsRendered(hidden.FirstChild))
		assert.True(t, IsRendered(d))
	})
}

func TestDocument_PathAndBody(t *testing.T) {
	d := New()
	assert.Equal(t, "/", d.Path())
	d.SetPath("/alice/")
	assert.Equal(t, "/alice/", d.Path())
	require.NotNil(t, d.Body())
	assert.Equal(t, "<html><head></head><body></body></html>", d.String())
}

func TestDocument_MutationRecords(t *testing.T) {
	d := New()
	var records []MutationRecord
	obs := d.Observe(func(r []MutationRecord) { records = append(records, r...) })

	body := d.Body()
	added, err := d.AppendHTML(body, `<article id="a"></article><article id="b"></article>`)
	require.NoError(t, err)
	require.Len(t, added, 2)
	require.Len(t, records, 1)
	assert.Equal(t, body, records[0].Target)
	assert.Equal(t, added, records[0].AddedNodes)

	n := &html.Node{Type: html.ElementNode, Data: "div"}
	require.NoError(t, d.AppendChild(added[0], n))
	assert.Len(t, records, 2)

	require.NoError(t, d.RemoveChild(body, added[1]))
	require.Len(t, records, 3)
	assert.Equal(t, []*html.Node{added[1]}, records[2].RemovedNodes)

	assert.ErrorIs(t, d.RemoveChild(body, added[1]), ErrDetached)
	assert.ErrorIs(t, d.AppendChild(added[1], n), ErrDetached)
	_, err = d.AppendHTML(added[1], "<p></p>")
	assert.ErrorIs(t, err, ErrDetached)

	obs.Disconnect()
	_, err = d.AppendHTML(body, "<p></p>")
	require.NoError(t, err)
	assert.Len(t, records, 3, "disconnected observers get nothing")
}

func TestDocument_Load(t *testing.T) {
	d := New()
	var records []MutationRecord
	d.Observe(func(r []MutationRecord) { records = append(records, r...) })

	require.NoError(t, d.Load(strings.NewReader(`<html><body><article>hi</article></body></html>`)))
	require.Len(t, records, 1)
	assert.Len(t, records[0].RemovedNodes, 1)
	assert.Len(t, records[0].AddedNodes, 1)
	assert.Contains(t, d.String(), "<article>hi</article>")

	var buf strings.Builder
	require.NoError(t, d.Render(&buf))
	assert.Equal(t, d.String(), buf.String())
}
