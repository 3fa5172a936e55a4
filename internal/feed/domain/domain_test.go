package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecision_Dropped(t *testing.T) {
	assert.False(t, Keep().Dropped())
	assert.False(t, Decision{}.Dropped(), "zero decision is not a drop")
	assert.True(t, Drop(ReasonAdOrSponsored, HidePostPhrase).Dropped())
	assert.True(t, Drop(ReasonUnfollowedAuthor, HidePostFollowCTA).Dropped())
}

func TestFollowSet_MonotonicDistinctLowercase(t *testing.T) {
	var fs FollowSet
	inputs := []string{"Alice", "alice", "ALICE", "bob", " Bob ", "", "carol", "@Carol", "dave"}
	for _, in := range inputs {
		fs.Add(in)
	}
	assert.Equal(t, 4, fs.Len())
	assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, fs.Slice())

	before := fs.Len()
	for _, in := range inputs {
		fs.Add(in)
	}
	assert.Equal(t, before, fs.Len(), "re-adding never changes the size")
}

func TestFollowSet_HasIsCaseInsensitive(t *testing.T) {
	fs := NewFollowSet("Dave")
	assert.True(t, fs.Has("dave"))
	assert.True(t, fs.Has("DAVE"))
	assert.False(t, fs.Has(""))
	assert.False(t, fs.Has("eve"))

	var zero FollowSet
	assert.False(t, zero.Has("dave"))
}

func TestFollowSet_UnionReturnsOnlyNew(t *testing.T) {
	fs := NewFollowSet("alice")
	added := fs.Union([]string{"Alice", "bob", "BOB", "carol"})
	assert.Equal(t, []string{"bob", "carol"}, added)
	assert.Nil(t, fs.Union([]string{"alice", "bob"}))
}

func TestDefaultSettings_IsFreshCopy(t *testing.T) {
	a := DefaultSettings()
	a.Phrases[0] = "mutated"
	b := DefaultSettings()
	assert.Equal(t, "Suggested for you", b.Phrases[0])
	assert.True(t, b.OnlyFollowed)
	assert.Equal(t, []string{"follow", "follow back"}, b.FollowCTAWords)
}

func TestMessage_RoundTrip(t *testing.T) {
	msg := NewUsernames(KindLearnFollow, []string{"dave"})
	msg.ID = "abc"
	raw, err := msg.Encode()
	require.NoError(t, err)

	got, err := DecodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, KindLearnFollow, got.Type)
	assert.Equal(t, "abc", got.ID)
	names, err := got.Usernames()
	require.NoError(t, err)
	assert.Equal(t, []string{"dave"}, names)
}

func TestDecodeMessage_RejectsUnknownAndMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `nope`, ErrBadPayload},
		{"unknown kind", `{"type":"other:thing","payload":[]}`, ErrUnknownMessage},
		{"usernames not array", `{"type":"insta-sanitizer:learn-follow","payload":"dave"}`, ErrBadPayload},
		{"usernames missing", `{"type":"insta-sanitizer:follow-cache-full"}`, ErrBadPayload},
		{"strict not bool", `{"type":"insta-sanitizer:set-strict","payload":"yes"}`, ErrBadPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestDecodeMessage_SignalsNeedNoPayload(t *testing.T) {
	raw, err := NewSignal(KindEnableSuggestBlock).Encode()
	require.NoError(t, err)
	m, err := DecodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, KindEnableSuggestBlock, m.Type)

	raw, err = NewBool(KindSetStrict, false).Encode()
	require.NoError(t, err)
	m, err = DecodeMessage(raw)
	require.NoError(t, err)
	v, err := m.Bool()
	require.NoError(t, err)
	assert.False(t, v)
}
