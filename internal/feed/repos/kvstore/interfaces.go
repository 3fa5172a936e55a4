package kvstore

import "errors"

// ErrClosed is returned by stores after Close.
var ErrClosed = errors.New("kvstore: closed")

// Change describes one committed write. Old and New hold the raw JSON value
// before and after the write; a nil New means the key was deleted.
type Change struct {
	Key string
	Old []byte
	New []byte
}

// Store is the persistent key/value collaborator behind settings and the
// follow set. Values are JSON documents.
//   - Get decodes the value of key into dst and reports whether it existed.
//   - Set encodes value and stores it under key.
//   - Delete removes key; deleting a missing key is not an error.
//   - Subscribe registers fn for changes committed after the call and returns
//     a function that removes the subscription.
type Store interface {
	Get(key string, dst any) (bool, error)
	Set(key string, value any) error
	Delete(key string) error
	Subscribe(fn func(Change)) (unsubscribe func())
	Close() error
}
