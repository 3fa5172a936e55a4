// Package rewriter filters feed query responses before the page sees them.
//
// The rewriter keeps a mirror of the follow set fed by broadcasts from the
// follow-set store and two flags: whether a full broadcast has arrived yet
// and whether strict mode is on. Until the first broadcast every non-ad entry
// is kept so the feed is never empty just because the cache is still loading.
package rewriter

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/log"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/domain"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/repos/reportcache"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/services/classifier"
)

var (
	// ErrMalformed is returned for bodies that are not valid JSON.
	ErrMalformed = errors.New("feed body is not valid json")
	// ErrNoFeedShape is returned when no known entry array is present.
	ErrNoFeedShape = errors.New("no known feed shape")
)

// connectionKeys are checked in order under data; each may hold its entries
// in edges or items.
var connectionKeys = []string{
	"xdt_api__v1__feed__timeline__connection",
	"xdt_api__v1__feed__timeline",
	"user_feed_timeline",
	"feed_timeline",
}

const nestedMediaEdges = "data.xdt_api__v1__feed__timeline__connection.media.edges"

// Publisher posts messages to the extension context.
type Publisher interface {
	Post(msg domain.Message) error
}

// Subscriber registers bus handlers.
type Subscriber interface {
	Subscribe(handler func(domain.Message), kinds ...domain.Kind) func()
}

// Result describes one FilterFeed call.
type Result struct {
	Before  int
	After   int
	Changed bool
	Learned []string
}

// Stats counts rewriter outcomes since start.
type Stats struct {
	Rewritten   uint64
	PassThrough uint64
	Dropped     uint64
	Stubbed     uint64
}

// Rewriter is the page-side feed filter.
type Rewriter struct {
	pub      Publisher
	reported reportcache.Cache

	mu       sync.RWMutex
	follows  domain.FollowSet
	hasCache bool
	strict   bool

	suggestBlock atomic.Bool

	rewritten   atomic.Uint64
	passThrough atomic.Uint64
	dropped     atomic.Uint64
	stubbed     atomic.Uint64

	unsubs []func()
}

// New returns a rewriter in strict mode with no follow-set cache. reported
// may be nil, in which case every learned name is reported.
func New(pub Publisher, reported reportcache.Cache) *Rewriter {
	if reported == nil {
		reported, _ = reportcache.New(0)
	}
	return &Rewriter{pub: pub, reported: reported, strict: true}
}

// Attach subscribes the rewriter to the messages that drive its state.
func (r *Rewriter) Attach(sub Subscriber) {
	unsub := sub.Subscribe(r.Handle,
		domain.KindFollowCacheFull,
		domain.KindFollowCacheUpdate,
		domain.KindSetStrict,
		domain.KindEnableSuggestBlock,
		domain.KindDisableSuggestBlock,
	)
	r.mu.Lock()
	r.unsubs = append(r.unsubs, unsub)
	r.mu.Unlock()
}

// Close detaches from the bus.
func (r *Rewriter) Close() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Handle applies one message. Payloads of the wrong shape are ignored.
func (r *Rewriter) Handle(msg domain.Message) {
	switch msg.Type {
	case domain.KindFollowCacheFull, domain.KindFollowCacheUpdate:
		names, err := msg.Usernames()
		if err != nil {
			log.Debug(map[string]any{"type": string(msg.Type), "error": err.Error()}, "ignoring message")
			return
		}
		r.mu.Lock()
		if msg.Type == domain.KindFollowCacheFull {
			r.follows = domain.NewFollowSet(names...)
			// a full set may have dropped names reported earlier; let them
			// be learned again
			r.reported.Purge()
		} else {
			r.follows.Union(names)
		}
		r.hasCache = true
		size := r.follows.Len()
		r.mu.Unlock()
		log.Debug(map[string]any{"type": string(msg.Type), "size": size}, "follow cache updated")
	case domain.KindSetStrict:
		v, err := msg.Bool()
		if err != nil {
			return
		}
		r.mu.Lock()
		r.strict = v
		r.mu.Unlock()
	case domain.KindEnableSuggestBlock:
		r.suggestBlock.Store(true)
	case domain.KindDisableSuggestBlock:
		r.suggestBlock.Store(false)
	}
}

// HasCache reports whether a follow-set broadcast has arrived.
func (r *Rewriter) HasCache() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasCache
}

// Strict reports the current mode.
func (r *Rewriter) Strict() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strict
}

// SuggestBlockEnabled reports whether the subscribe query is being stubbed.
func (r *Rewriter) SuggestBlockEnabled() bool { return r.suggestBlock.Load() }

// Stats returns the counters.
func (r *Rewriter) Stats() Stats {
	return Stats{
		Rewritten:   r.rewritten.Load(),
		PassThrough: r.passThrough.Load(),
		Dropped:     r.dropped.Load(),
		Stubbed:     r.stubbed.Load(),
	}
}

// FilterFeed removes unwanted entries from a feed response body, preserving
// the order of the rest. out is body itself unless the entry count changed.
// Usernames the records mark as explicitly followed are reported to the
// follow-set store.
func (r *Rewriter) FilterFeed(body []byte) ([]byte, Result, error) {
	if !gjson.ValidBytes(body) {
		return body, Result{}, ErrMalformed
	}
	path, edges, ok := locateEdges(body)
	if !ok {
		return body, Result{}, ErrNoFeedShape
	}

	var res Result
	var kept []string
	r.mu.RLock()
	strict, hasCache, mirror := r.strict, r.hasCache, r.follows
	edges.ForEach(func(_, edge gjson.Result) bool {
		res.Before++
		v := classifier.ClassifyRecord(edge, mirror)
		if v.Learned != "" {
			res.Learned = append(res.Learned, v.Learned)
		}
		if keepEntry(v, strict, hasCache) {
			kept = append(kept, edge.Raw)
		}
		return true
	})
	r.mu.RUnlock()
	res.After = len(kept)
	res.Learned = lo.Uniq(res.Learned)

	r.report(res.Learned)

	if res.Before == res.After {
		return body, res, nil
	}
	out, err := sjson.SetRawBytes(body, path, []byte("["+strings.Join(kept, ",")+"]"))
	if err != nil {
		return body, Result{}, err
	}
	res.Changed = true
	r.dropped.Add(uint64(res.Before - res.After))
	return out, res, nil
}

// keepEntry applies the mode gate after ad removal.
func keepEntry(v classifier.RecordVerdict, strict, hasCache bool) bool {
	if v.Decision.Reason == domain.ReasonAdOrSponsored {
		return false
	}
	if !strict || !hasCache {
		return true
	}
	return v.Followed
}

func (r *Rewriter) report(learned []string) {
	fresh := r.reported.Fresh(learned)
	if len(fresh) == 0 {
		return
	}
	if err := r.pub.Post(domain.NewUsernames(domain.KindLearnFollow, fresh)); err != nil {
		// report again with the next response
		for _, u := range fresh {
			r.reported.Forget(u)
		}
		log.Warn(map[string]any{"count": len(fresh), "error": err.Error()}, "learned follows not reported")
		return
	}
	log.Debug(map[string]any{"usernames": fresh}, "learned follows reported")
}

// locateEdges returns the gjson path of the entry array.
func locateEdges(body []byte) (string, gjson.Result, bool) {
	data := gjson.GetBytes(body, "data")
	if !data.IsObject() {
		return "", gjson.Result{}, false
	}
	for _, k := range connectionKeys {
		for _, field := range []string{"edges", "items"} {
			p := "data." + k + "." + field
			if v := gjson.GetBytes(body, p); v.Exists() && v.Type != gjson.Null {
				return p, v, v.IsArray()
			}
		}
	}
	if v := gjson.GetBytes(body, nestedMediaEdges); v.IsArray() {
		return nestedMediaEdges, v, true
	}
	return "", gjson.Result{}, false
}
