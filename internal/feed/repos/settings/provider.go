// Package settings is the Configuration Provider: it reads the user's filter
// settings from the key/value store, merges them over the defaults and keeps a
// current snapshot that is refreshed whenever a settings key changes.
package settings

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/clock"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/debounce"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/log"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/utils"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/domain"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/repos/kvstore"
)

// ReloadDelay coalesces bursts of storage changes into one reload.
const ReloadDelay = 80 * time.Millisecond

// Provider owns the current Settings snapshot.
type Provider struct {
	store    kvstore.Store
	validate *validator.Validate

	mu        sync.RWMutex
	current   domain.Settings
	listeners []func(domain.Settings)

	reload *debounce.Scheduler
	unsub  func()
}

// New returns a provider holding the defaults until Load is called.
func New(store kvstore.Store) *Provider {
	return &Provider{
		store:    store,
		validate: validator.New(),
		current:  domain.DefaultSettings(),
	}
}

// defaultLoader loads the stock settings through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(domain.DefaultSettings(), "koanf"), nil)
}

// Load reads every settings key from the store, overlays the stored values on
// the defaults, normalizes the lists and swaps in the result. On error the
// previous snapshot stays in effect.
func (p *Provider) Load() (domain.Settings, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return p.Current(), fmt.Errorf("error loading default settings: %w", err)
	}

	for _, key := range domain.SettingsKeys {
		var raw any
		ok, err := p.store.Get(key, &raw)
		if err != nil {
			return p.Current(), fmt.Errorf("error reading setting %q: %w", key, err)
		}
		if !ok || raw == nil {
			continue
		}
		if err := k.Set(key, raw); err != nil {
			return p.Current(), fmt.Errorf("error merging setting %q: %w", key, err)
		}
	}

	var s domain.Settings
	if err := k.Unmarshal("", &s); err != nil {
		return p.Current(), fmt.Errorf("error unmarshalling settings: %w", err)
	}
	normalize(&s)
	if err := p.validate.Struct(&s); err != nil {
		return p.Current(), fmt.Errorf("settings validation failed: %w", err)
	}

	p.mu.Lock()
	p.current = s
	listeners := append([]func(domain.Settings){}, p.listeners...)
	p.mu.Unlock()

	log.SetDebug(s.Debug)
	for _, fn := range listeners {
		fn(s)
	}
	return s, nil
}

// Current returns the active snapshot. Slices are shared; callers must not
// modify them.
func (p *Provider) Current() domain.Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// OnChange registers fn to receive every successfully loaded snapshot.
func (p *Provider) OnChange(fn func(domain.Settings)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Watch reloads (debounced) whenever the store reports a change to a settings
// key. A nil clock uses the real one.
func (p *Provider) Watch(clk clock.Clock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsub != nil {
		return
	}
	p.reload = debounce.New(clk, ReloadDelay, func() {
		if _, err := p.Load(); err != nil {
			log.Warn(map[string]any{"error": err}, "settings reload failed")
		}
	})
	p.unsub = p.store.Subscribe(func(c kvstore.Change) {
		if lo.Contains(domain.SettingsKeys, c.Key) {
			p.reload.Trigger()
		}
	})
}

// Save writes every field of s to the store. Watchers reload through the
// resulting change notifications.
func (p *Provider) Save(s domain.Settings) error {
	normalize(&s)
	if err := p.validate.Struct(&s); err != nil {
		return fmt.Errorf("settings validation failed: %w", err)
	}
	values := map[string]any{
		"blockExplore":   s.BlockExplore,
		"blockReels":     s.BlockReels,
		"hideSuggested":  s.HideSuggested,
		"hideSponsored":  s.HideSponsored,
		"onlyFollowed":   s.OnlyFollowed,
		"debug":          s.Debug,
		"allowlist":      s.Allowlist,
		"phrases":        s.Phrases,
		"followCtaWords": s.FollowCTAWords,
		"followingWords": s.FollowingWords,
	}
	for _, key := range domain.SettingsKeys {
		if err := p.store.Set(key, values[key]); err != nil {
			return fmt.Errorf("error saving setting %q: %w", key, err)
		}
	}
	return nil
}

// Close stops watching the store.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsub != nil {
		p.unsub()
		p.unsub = nil
	}
	if p.reload != nil {
		p.reload.Stop()
	}
}

// normalize applies the list clean-up the options page performed on save, so
// hand-edited stores behave the same. An empty phrase list falls back to the
// defaults; allowlisted handles lose any leading "@".
func normalize(s *domain.Settings) {
	s.Phrases = utils.NormalizeList(s.Phrases)
	if len(s.Phrases) == 0 {
		s.Phrases = append([]string(nil), domain.DefaultPhrases...)
	}
	s.Allowlist = utils.NormalizeList(lo.Map(s.Allowlist, func(u string, _ int) string {
		return strings.TrimPrefix(strings.TrimSpace(u), "@")
	}))
	s.FollowCTAWords = lowerList(s.FollowCTAWords)
	s.FollowingWords = lowerList(s.FollowingWords)
}

func lowerList(in []string) []string {
	return lo.Map(utils.NormalizeList(in), func(w string, _ int) string { return strings.ToLower(w) })
}
