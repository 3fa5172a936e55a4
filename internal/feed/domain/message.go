package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind names a cross-context message. Every wire name carries the
// "insta-sanitizer:" prefix.
type Kind string

const (
	KindFollowCacheFull     Kind = "insta-sanitizer:follow-cache-full"
	KindFollowCacheUpdate   Kind = "insta-sanitizer:follow-cache-update"
	KindLearnFollow         Kind = "insta-sanitizer:learn-follow"
	KindSetStrict           Kind = "insta-sanitizer:set-strict"
	KindEnableSuggestBlock  Kind = "insta-sanitizer:enable-suggest-block"
	KindDisableSuggestBlock Kind = "insta-sanitizer:disable-suggest-block"
	KindRefresh             Kind = "insta-sanitizer:refresh"
	KindRefreshAck          Kind = "insta-sanitizer:refresh-ack"
)

type payloadShape uint8

const (
	shapeNone payloadShape = iota
	shapeUsernames
	shapeBool
)

var kindShapes = map[Kind]payloadShape{
	KindFollowCacheFull:     shapeUsernames,
	KindFollowCacheUpdate:   shapeUsernames,
	KindLearnFollow:         shapeUsernames,
	KindSetStrict:           shapeBool,
	KindEnableSuggestBlock:  shapeNone,
	KindDisableSuggestBlock: shapeNone,
	KindRefresh:             shapeNone,
	KindRefreshAck:          shapeBool,
}

var (
	// ErrUnknownMessage is returned for envelopes whose type is not in the vocabulary.
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrBadPayload is returned when the payload does not match the kind's shape.
	ErrBadPayload = errors.New("malformed message payload")
)

// Message is the structured envelope exchanged between the extension and page
// contexts.
type Message struct {
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewUsernames builds a message carrying an array of usernames.
func NewUsernames(kind Kind, names []string) Message {
	if names == nil {
		names = []string{}
	}
	raw, _ := json.Marshal(names)
	return Message{Type: kind, Payload: raw}
}

// NewBool builds a message carrying a boolean.
func NewBool(kind Kind, v bool) Message {
	raw, _ := json.Marshal(v)
	return Message{Type: kind, Payload: raw}
}

// NewSignal builds a payload-free message.
func NewSignal(kind Kind) Message {
	return Message{Type: kind}
}

// Usernames decodes an array-of-strings payload.
func (m Message) Usernames() ([]string, error) {
	var names []string
	if err := json.Unmarshal(m.Payload, &names); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, m.Type, err)
	}
	return names, nil
}

// Bool decodes a boolean payload.
func (m Message) Bool() (bool, error) {
	var v bool
	if err := json.Unmarshal(m.Payload, &v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrBadPayload, m.Type, err)
	}
	return v, nil
}

// Encode serializes the envelope for the channel.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses an envelope and verifies its payload has the shape the
// kind requires. Receivers drop anything that fails here.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	shape, ok := kindShapes[m.Type]
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
	switch shape {
	case shapeUsernames:
		if _, err := m.Usernames(); err != nil {
			return Message{}, err
		}
	case shapeBool:
		if _, err := m.Bool(); err != nil {
			return Message{}, err
		}
	}
	return m, nil
}
