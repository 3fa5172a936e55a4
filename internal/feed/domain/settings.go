package domain

// Settings is the user configuration consumed by the classifier and the DOM
// filter. A value is treated as immutable for the duration of one pass; the
// settings provider swaps in a fresh copy on change.
type Settings struct {
	BlockExplore  bool `koanf:"blockExplore" json:"blockExplore"`
	BlockReels    bool `koanf:"blockReels" json:"blockReels"`
	HideSuggested bool `koanf:"hideSuggested" json:"hideSuggested"`
	HideSponsored bool `koanf:"hideSponsored" json:"hideSponsored"`
	OnlyFollowed  bool `koanf:"onlyFollowed" json:"onlyFollowed"`
	Debug         bool `koanf:"debug" json:"debug"`

	// Allowlist holds handles that are always kept in only-followed mode.
	Allowlist []string `koanf:"allowlist" json:"allowlist" validate:"dive,min=1,max=30"`
	// Phrases is the deny-phrase list matched against rendered post text.
	Phrases []string `koanf:"phrases" json:"phrases" validate:"dive,min=1,max=200"`
	// FollowCTAWords mark a post header as offering to follow its author.
	FollowCTAWords []string `koanf:"followCtaWords" json:"followCtaWords" validate:"dive,min=1,max=64"`
	// FollowingWords mark a post header as already followed.
	FollowingWords []string `koanf:"followingWords" json:"followingWords" validate:"dive,min=1,max=64"`
}

// DefaultPhrases is the stock deny-phrase list.
var DefaultPhrases = []string{
	"Suggested for you",
	"Sponsored",
	"Because you follow",
	"More like this",
	"Suggested posts",
	"You might like",
}

// DefaultSettings returns a fresh copy of the stock configuration.
func DefaultSettings() Settings {
	return Settings{
		BlockExplore:   true,
		BlockReels:     true,
		HideSuggested:  true,
		HideSponsored:  true,
		OnlyFollowed:   true,
		Debug:          false,
		Allowlist:      []string{},
		Phrases:        append([]string(nil), DefaultPhrases...),
		FollowCTAWords: []string{"follow", "follow back"},
		FollowingWords: []string{"following"},
	}
}

// SettingsKeys are the persisted key names of every Settings field.
var SettingsKeys = []string{
	"blockExplore", "blockReels", "hideSuggested", "hideSponsored",
	"onlyFollowed", "debug", "allowlist", "phrases", "followCtaWords",
	"followingWords",
}
