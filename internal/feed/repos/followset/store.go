// Package followset is the extension-side Follow-Set Store. It is the only
// writer of the persisted follow set and publishes the set to the page
// context over the message bus.
package followset

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/clock"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/debounce"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/log"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/domain"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/repos/kvstore"
)

// StorageKey is the persisted key holding the array of lower-cased usernames.
const StorageKey = "followSetV1"

// DefaultSaveDelay is the trailing debounce applied to persistence.
const DefaultSaveDelay = 300 * time.Millisecond

// Publisher is the outbound side of the message channel.
type Publisher interface {
	Post(msg domain.Message) error
}

// Subscriber is the inbound side of the message channel.
type Subscriber interface {
	Subscribe(handler func(domain.Message), kinds ...domain.Kind) (unsubscribe func())
}

// Options tunes a Store.
type Options struct {
	SaveDelay time.Duration
	Clock     clock.Clock
}

// Store holds the authoritative follow set.
type Store struct {
	kv  kvstore.Store
	pub Publisher

	mu     sync.Mutex
	set    domain.FollowSet
	closed bool

	save   *debounce.Scheduler
	unsubs []func()
}

// New builds a store over kv that broadcasts through pub.
func New(kv kvstore.Store, pub Publisher, opts Options) *Store {
	if opts.SaveDelay <= 0 {
		opts.SaveDelay = DefaultSaveDelay
	}
	s := &Store{kv: kv, pub: pub, set: domain.NewFollowSet()}
	s.save = debounce.New(opts.Clock, opts.SaveDelay, s.persist)
	return s
}

// Load reads the persisted set, normalizes it, merges it into the in-memory
// set and always broadcasts the full set, including when nothing was stored.
// Names learned before Load completes are kept.
func (s *Store) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var stored []string
	if _, err := s.kv.Get(StorageKey, &stored); err != nil {
		return fmt.Errorf("load follow set: %w", err)
	}

	s.mu.Lock()
	s.set.Union(stored)
	full := s.set.Slice()
	s.mu.Unlock()

	log.Info(map[string]any{"count": len(full)}, "follow set loaded")
	s.broadcast(domain.NewUsernames(domain.KindFollowCacheFull, full))
	return nil
}

// AddFollow inserts username. Empty or already-known names are a no-op. A new
// name schedules a debounced save and is broadcast on its own.
func (s *Store) AddFollow(username string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	u, added := s.set.Add(username)
	s.mu.Unlock()
	if !added {
		return false
	}

	log.Debug(map[string]any{"username": u}, "follow learned")
	s.save.Trigger()
	s.broadcast(domain.NewUsernames(domain.KindFollowCacheUpdate, []string{u}))
	return true
}

// IsFollow is a case-insensitive membership test; empty input is false.
func (s *Store) IsFollow(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Has(username)
}

// Snapshot returns the current set, sorted.
func (s *Store) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Slice()
}

// Len returns the number of known usernames.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Len()
}

// AttachLearner applies AddFollow to every username reported by the page
// context in learn-follow messages.
func (s *Store) AttachLearner(sub Subscriber) {
	unsub := sub.Subscribe(func(msg domain.Message) {
		names, err := msg.Usernames()
		if err != nil {
			log.Debug(map[string]any{"error": err}, "learn-follow payload ignored")
			return
		}
		for _, n := range names {
			s.AddFollow(n)
		}
	}, domain.KindLearnFollow)
	s.track(unsub)
}

// AttachStorageListener folds external writes of the persisted key (another
// tab, the CLI) into memory. Only additions are applied; the set never
// shrinks outside Reset.
func (s *Store) AttachStorageListener() {
	unsub := s.kv.Subscribe(func(c kvstore.Change) {
		if c.Key != StorageKey || c.New == nil {
			return
		}
		var names []string
		if err := json.Unmarshal(c.New, &names); err != nil {
			log.Warn(map[string]any{"error": err}, "follow set change unreadable")
			return
		}
		s.mu.Lock()
		added := s.set.Union(names)
		s.mu.Unlock()
		if len(added) > 0 {
			s.broadcast(domain.NewUsernames(domain.KindFollowCacheUpdate, added))
		}
	})
	s.track(unsub)
}

// Reset empties the set, deletes the persisted key and broadcasts an empty
// full set.
func (s *Store) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.save.Cancel()
	s.mu.Lock()
	s.set = domain.NewFollowSet()
	s.mu.Unlock()

	if err := s.kv.Delete(StorageKey); err != nil {
		return fmt.Errorf("reset follow set: %w", err)
	}
	s.broadcast(domain.NewUsernames(domain.KindFollowCacheFull, nil))
	return nil
}

// Flush writes a pending save immediately and reports whether one ran.
func (s *Store) Flush() bool { return s.save.Flush() }

// Close flushes pending work, detaches listeners and rejects further adds.
func (s *Store) Close() error {
	s.Flush()
	s.save.Stop()
	s.mu.Lock()
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	return nil
}

func (s *Store) persist() {
	s.mu.Lock()
	names := s.set.Slice()
	s.mu.Unlock()
	if err := s.kv.Set(StorageKey, names); err != nil {
		// transport errors wait for the next natural save
		log.Warn(map[string]any{"error": err, "count": len(names)}, "follow set save failed")
		return
	}
	log.Debug(map[string]any{"count": len(names)}, "follow set saved")
}

func (s *Store) broadcast(msg domain.Message) {
	if err := s.pub.Post(msg); err != nil {
		log.Warn(map[string]any{"error": err, "type": string(msg.Type)}, "follow set broadcast failed")
	}
}

func (s *Store) track(unsub func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubs = append(s.unsubs, unsub)
}
