package domain

import (
	"sort"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/utils"
)

// FollowSet is a set of normalized (lower-cased) usernames. It only grows;
// every mutation is a set union, so duplicate or reordered delivery of the
// same names cannot change the outcome. It is not safe for concurrent use;
// owners guard it.
type FollowSet struct {
	names map[string]struct{}
}

// NewFollowSet builds a set from raw usernames, normalizing each.
func NewFollowSet(names ...string) FollowSet {
	fs := FollowSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		fs.Add(n)
	}
	return fs
}

// Add inserts the normalized name and returns it when it was not present yet.
// Empty names are ignored.
func (fs *FollowSet) Add(name string) (string, bool) {
	u := utils.NormalizeUsername(name)
	if u == "" {
		return "", false
	}
	if fs.names == nil {
		fs.names = make(map[string]struct{})
	}
	if _, ok := fs.names[u]; ok {
		return u, false
	}
	fs.names[u] = struct{}{}
	return u, true
}

// Union adds every name and returns the ones that were new, in input order.
func (fs *FollowSet) Union(names []string) []string {
	var added []string
	for _, n := range names {
		if u, ok := fs.Add(n); ok {
			added = append(added, u)
		}
	}
	return added
}

// Has is a case-insensitive membership test. Empty input is never a member.
func (fs FollowSet) Has(name string) bool {
	u := utils.NormalizeUsername(name)
	if u == "" {
		return false
	}
	_, ok := fs.names[u]
	return ok
}

// Len returns the number of distinct usernames.
func (fs FollowSet) Len() int { return len(fs.names) }

// Slice returns the usernames sorted for stable persistence and broadcast.
func (fs FollowSet) Slice() []string {
	out := make([]string, 0, len(fs.names))
	for n := range fs.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
