// Package classifier holds the feed-entry decision policy. The same policy is
// implemented twice: over JSON feed records (the network path) and over
// rendered post elements (the DOM path). Every function here is pure.
package classifier

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/domain"
)

// Membership is the read side of a follow set.
type Membership interface {
	Has(username string) bool
}

// maxScanDepth bounds the marker scan over nested records.
const maxScanDepth = 12

// NodeOf unwraps a connection edge to its media record: edge.node, then
// edge.media, then the edge itself.
func NodeOf(edge gjson.Result) gjson.Result {
	if n := edge.Get("node"); n.IsObject() {
		return n
	}
	if m := edge.Get("media"); m.IsObject() {
		return m
	}
	return edge
}

// IsAdOrSuggested reports whether the record carries an ad, sponsorship or
// suggestion marker anywhere inside it: a truthy is_ad / is_suggested /
// sponsored / suggested / social_context key, any populated ad_* key, or a
// string value that is exactly "sponsored" or "suggested".
func IsAdOrSuggested(node gjson.Result) bool {
	return scanMarkers(node, 0)
}

func scanMarkers(v gjson.Result, depth int) bool {
	if depth > maxScanDepth {
		return false
	}
	found := false
	switch {
	case v.IsObject():
		v.ForEach(func(key, val gjson.Result) bool {
			if markerKey(strings.ToLower(key.String()), val) || scanMarkers(val, depth+1) {
				found = true
				return false
			}
			return true
		})
	case v.IsArray():
		v.ForEach(func(_, val gjson.Result) bool {
			if scanMarkers(val, depth+1) {
				found = true
				return false
			}
			return true
		})
	case v.Type == gjson.String:
		s := strings.ToLower(v.Str)
		found = s == "sponsored" || s == "suggested"
	}
	return found
}

func markerKey(key string, val gjson.Result) bool {
	switch key {
	case "is_ad", "is_suggested", "sponsored", "is_sponsored", "suggested", "social_context":
		return truthy(val)
	}
	return strings.HasPrefix(key, "ad_") && truthy(val)
}

// truthy treats null, false, 0, "" and empty containers as absent.
func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return v.Num != 0
	case gjson.String:
		return v.Str != ""
	}
	if v.IsArray() {
		return len(v.Array()) > 0
	}
	if v.IsObject() {
		return len(v.Map()) > 0
	}
	return v.Exists()
}

// Username resolves the record's author from user.username, then
// owner.username, lower-cased.
func Username(node gjson.Result) string {
	u := node.Get("user.username").String()
	if u == "" {
		u = node.Get("owner.username").String()
	}
	return strings.ToLower(strings.TrimSpace(u))
}

// ExplicitlyFollowed reports the followed_by_viewer flag on the author. This
// is the signal used to learn new follows.
func ExplicitlyFollowed(node gjson.Result) bool {
	return node.Get("user.followed_by_viewer").Type == gjson.True ||
		node.Get("owner.followed_by_viewer").Type == gjson.True
}

// FollowedByFlags reports whether any authoritative follow flag is set.
func FollowedByFlags(node gjson.Result) bool {
	if ExplicitlyFollowed(node) {
		return true
	}
	fs := node.Get("user.friendship_status")
	if !fs.Exists() {
		fs = node.Get("owner.friendship_status")
	}
	if !fs.Exists() {
		fs = node.Get("friendship_status")
	}
	if fs.Get("following").Type == gjson.True {
		return true
	}
	return node.Get("user.viewer_follows").Type == gjson.True ||
		node.Get("viewer_is_following").Type == gjson.True
}

// IsFollowed ORs the explicit flags with membership of the resolved author in
// the local follow-set mirror.
func IsFollowed(node gjson.Result, mirror Membership) bool {
	if FollowedByFlags(node) {
		return true
	}
	u := Username(node)
	return u != "" && mirror != nil && mirror.Has(u)
}

// RecordVerdict is the outcome for one feed edge.
type RecordVerdict struct {
	Decision domain.Decision
	// Followed is true when the author is known to be followed.
	Followed bool
	// Learned is the author to report when the record says so explicitly.
	Learned string
}

// ClassifyRecord applies the network-path policy to one edge. Ads and
// suggestions are always dropped; a record whose author is not known to be
// followed is reported as unfollowed, and the caller decides whether the
// current mode drops it.
func ClassifyRecord(edge gjson.Result, mirror Membership) RecordVerdict {
	node := NodeOf(edge)
	if IsAdOrSuggested(node) {
		return RecordVerdict{Decision: domain.Decision{Reason: domain.ReasonAdOrSponsored, Author: Username(node)}}
	}
	var v RecordVerdict
	u := Username(node)
	if ExplicitlyFollowed(node) && u != "" {
		v.Learned = u
	}
	v.Followed = IsFollowed(node, mirror)
	if v.Followed {
		v.Decision = domain.Decision{Reason: domain.ReasonKeep, Author: u}
	} else {
		v.Decision = domain.Decision{Reason: domain.ReasonUnfollowedAuthor, Author: u}
	}
	return v
}
