package classifier

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/utils"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/dom"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/domain"
)

// Selectors shared by the DOM filter and the mutation watcher.
var (
	ExemptZoneSel = cascadia.MustCompile(`[role="dialog"], [aria-modal="true"], ` +
		`[data-visualcompletion="modal-root"], [data-testid="modalContainer"], [data-testid="media-viewer"]`)
	HeadingSel      = cascadia.MustCompile(`h2, h3, [role="heading"]`)
	PostSel         = cascadia.MustCompile(`article`)
	SidebarSel      = cascadia.MustCompile(`aside, [role="complementary"]`)
	NavLinkSel      = cascadia.MustCompile(`a[href="/reels/"], a[href="/explore/"]`)
	SuggestBlockSel = cascadia.MustCompile(`section, div[role="region"], div`)

	headerSel    = cascadia.MustCompile(`header`)
	actionSel    = cascadia.MustCompile(`button, [role="button"], a, span, div`)
	anchorSel    = cascadia.MustCompile(`a`)
	linkRoleSel  = cascadia.MustCompile(`a[role="link"]`)
	directPostRe = regexp.MustCompile(`^/(p|reel|tv)/`)
)

// suggestionTitles are the exact, lower-cased headings of a suggestion module.
var suggestionTitles = []string{"suggested for you", "suggestions for you"}

// InExemptZone reports whether n sits inside a modal, dialog or media viewer.
func InExemptZone(n *html.Node) bool {
	return dom.Closest(n, ExemptZoneSel) != nil
}

// OnDirectPostPath reports whether path is a single post, reel or tv view.
func OnDirectPostPath(path string) bool {
	return directPostRe.MatchString(path)
}

// ContainsPhrase reports whether the rendered text of n contains any phrase,
// case-insensitively.
func ContainsPhrase(n *html.Node, phrases []string) bool {
	return utils.ContainsAnyFold(dom.InnerText(n), phrases)
}

// IsSuggestionTitle reports whether text, trimmed and lower-cased, is exactly
// a suggestion-module title.
func IsSuggestionTitle(text string) bool {
	return lo.Contains(suggestionTitles, strings.ToLower(strings.TrimSpace(text)))
}

// IsSuggestionHeading reports whether h is a heading titled like a
// suggestion module.
func IsSuggestionHeading(h *html.Node) bool {
	return HeadingSel.Match(h) && IsSuggestionTitle(dom.InnerText(h))
}

// SuggestionBlock returns the block to hide for a suggestion heading: its
// nearest section, region or div.
func SuggestionBlock(h *html.Node) *html.Node {
	return dom.Closest(h, SuggestBlockSel)
}

// HasFollowCTAInHeader reports whether a post's header offers to follow its
// author. A header that already says "following" never does.
func HasFollowCTAInHeader(post *html.Node, s domain.Settings) bool {
	header := dom.Query(post, headerSel)
	if header == nil {
		header = dom.FirstElementChild(post)
	}
	if header == nil {
		return false
	}

	headerText := strings.ToLower(dom.InnerText(header))
	if utils.ContainsAnyFold(headerText, s.FollowingWords) {
		return false
	}

	words := lo.FilterMap(s.FollowCTAWords, func(w string, _ int) (string, bool) {
		w = strings.ToLower(strings.TrimSpace(w))
		return w, w != ""
	})
	for _, el := range dom.QueryAllDescendants(header, actionSel) {
		t := strings.ToLower(strings.TrimSpace(dom.TextContent(el)))
		if t == "" {
			continue
		}
		if lo.SomeBy(words, func(w string) bool { return t == w || strings.Contains(t, w) }) {
			return true
		}
	}
	return lo.SomeBy(words, func(w string) bool { return strings.Contains(headerText, " "+w) })
}

// AuthorUsername returns the handle of the first profile link inside the
// post's header (or any role=link anchor), or "" when none is found.
func AuthorUsername(post *html.Node) string {
	for _, a := range dom.QueryAll(post, anchorSel) {
		if !linkRoleSel.Match(a) && !insideHeader(a, post) {
			continue
		}
		href, _ := dom.Attr(a, "href")
		if handle, ok := utils.ProfileHandle(href); ok {
			return handle
		}
	}
	return ""
}

func insideHeader(n, stop *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if headerSel.Match(p) {
			return true
		}
		if p == stop {
			return false
		}
	}
	return false
}

// allowlisted reports whether handle is on the allowlist, case-insensitively.
func allowlisted(handle string, allow []string) bool {
	if handle == "" {
		return false
	}
	return lo.SomeBy(allow, func(u string) bool { return strings.EqualFold(u, handle) })
}

// ClassifyPost applies the DOM-path policy to one post element viewed at
// path. First match wins: exemption zone, deny-phrase, embedded suggestion
// module, follow call-to-action (unless the author is allowlisted in
// only-followed mode), keep.
func ClassifyPost(post *html.Node, path string, s domain.Settings) domain.Decision {
	if InExemptZone(post) || OnDirectPostPath(path) {
		return domain.Keep()
	}
	if s.HideSponsored && ContainsPhrase(post, s.Phrases) {
		return domain.Drop(domain.ReasonAdOrSponsored, domain.HidePostPhrase)
	}
	if s.HideSuggested && lo.SomeBy(dom.QueryAll(post, HeadingSel), IsSuggestionHeading) {
		return domain.Drop(domain.ReasonSuggestedModule, domain.HideSuggestionsModule)
	}
	if (s.OnlyFollowed || s.HideSuggested) && HasFollowCTAInHeader(post, s) {
		author := AuthorUsername(post)
		if s.OnlyFollowed && allowlisted(author, s.Allowlist) {
			d := domain.Keep()
			d.Author = author
			return d
		}
		d := domain.Drop(domain.ReasonUnfollowedAuthor, domain.HidePostFollowCTA)
		d.Author = author
		return d
	}
	return domain.Keep()
}
