package domain

// Reason is the outcome of classifying one feed entry.
type Reason string

const (
	// ReasonKeep leaves the entry untouched.
	ReasonKeep Reason = "keep"
	// ReasonAdOrSponsored drops entries carrying ad, sponsorship or
	// suggestion markers (network) or a deny-phrase (DOM).
	ReasonAdOrSponsored Reason = "drop:ad-or-sponsored"
	// ReasonSuggestedModule drops a whole "suggested for you" block.
	ReasonSuggestedModule Reason = "drop:suggested-module"
	// ReasonUnfollowedAuthor drops posts from accounts the viewer does not follow.
	ReasonUnfollowedAuthor Reason = "drop:unfollowed-author"
)

// HideReason is the marker recorded on a hidden DOM element.
type HideReason string

const (
	HideNavLink           HideReason = "nav-link"
	HideSidebarHeader     HideReason = "sidebar-suggested-header"
	HideSidebarList       HideReason = "sidebar-suggested-list"
	HideSidebarContainer  HideReason = "sidebar-suggested-container"
	HideSidebarFallback   HideReason = "sidebar-suggested-fallback"
	HideSuggestionsModule HideReason = "suggestions-module"
	HidePostPhrase        HideReason = "post-phrase"
	HidePostFollowCTA     HideReason = "post-follow-cta"
)

// Decision is a value type produced by the classifier. It is applied
// immediately and never retained.
type Decision struct {
	Reason Reason
	// Hide is the DOM marker to record when the decision drops an element.
	Hide HideReason
	// Author is the resolved handle, when one was found.
	Author string
}

// Dropped reports whether the entry must be hidden or removed.
func (d Decision) Dropped() bool { return d.Reason != "" && d.Reason != ReasonKeep }

// Keep returns a keep decision.
func Keep() Decision { return Decision{Reason: ReasonKeep} }

// Drop returns a drop decision with its DOM marker.
func Drop(r Reason, hide HideReason) Decision { return Decision{Reason: r, Hide: hide} }
