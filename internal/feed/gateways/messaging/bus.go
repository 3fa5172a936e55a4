// Package messaging is the structured channel between the extension and page
// contexts. Messages are serialized on Post and decoded again for delivery, so
// the two sides never share memory; delivery is asynchronous, ordered per bus
// and lossy when the queue is full.
package messaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/log"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/domain"
)

var (
	// ErrClosed is returned by Post after Close.
	ErrClosed = errors.New("messaging: bus closed")
	// ErrQueueFull is returned when a message was dropped for lack of room.
	ErrQueueFull = errors.New("messaging: queue full")
)

// DefaultBuffer is the queue depth used when New is given a non-positive size.
const DefaultBuffer = 256

type envelope struct {
	data    []byte
	barrier chan struct{}
}

type subscription struct {
	kinds   map[domain.Kind]struct{}
	handler func(domain.Message)
}

// Stats are cumulative delivery counters.
type Stats struct {
	Posted    uint64
	Delivered uint64
	Dropped   uint64
	Rejected  uint64
}

// Bus is an asynchronous message channel with a single dispatcher goroutine.
// Handlers run on that goroutine one at a time and must not call Close.
type Bus struct {
	queue chan envelope
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once

	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64

	posted, delivered, dropped, rejected atomic.Uint64
}

// New starts a bus with the given queue depth.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	b := &Bus{
		queue: make(chan envelope, buffer),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		subs:  make(map[uint64]subscription),
	}
	go b.dispatch()
	return b
}

// Post serializes msg and queues it without blocking. Messages without an ID
// get a fresh one.
func (b *Bus) Post(msg domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return b.PostRaw(data)
}

// PostRaw queues an already serialized envelope. Its shape is only checked on
// delivery, where anything unrecognized is dropped.
func (b *Bus) PostRaw(data []byte) error {
	if b.isClosed() {
		return ErrClosed
	}
	select {
	case b.queue <- envelope{data: data}:
		b.posted.Add(1)
		return nil
	default:
		b.dropped.Add(1)
		log.Warn(map[string]any{"queue": cap(b.queue)}, "message dropped, queue full")
		return ErrQueueFull
	}
}

// Subscribe registers handler for the given kinds, or for every kind when none
// are given. The returned function removes the subscription.
func (b *Bus) Subscribe(handler func(domain.Message), kinds ...domain.Kind) func() {
	set := make(map[domain.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{kinds: set, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Request posts msg and waits for the first reply of kind reply whose
// ReplyTo matches msg's ID.
func (b *Bus) Request(ctx context.Context, msg domain.Message, reply domain.Kind) (domain.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	ch := make(chan domain.Message, 1)
	unsub := b.Subscribe(func(m domain.Message) {
		if m.ReplyTo != msg.ID {
			return
		}
		select {
		case ch <- m:
		default:
		}
	}, reply)
	defer unsub()

	if err := b.Post(msg); err != nil {
		return domain.Message{}, err
	}
	select {
	case m := <-ch:
		return m, nil
	case <-ctx.Done():
		return domain.Message{}, ctx.Err()
	}
}

// Reply posts resp as the answer to req.
func (b *Bus) Reply(req domain.Message, resp domain.Message) error {
	resp.ReplyTo = req.ID
	return b.Post(resp)
}

// Sync blocks until every message posted before the call has been delivered.
func (b *Bus) Sync(ctx context.Context) error {
	if b.isClosed() {
		return ErrClosed
	}
	barrier := make(chan struct{})
	select {
	case b.queue <- envelope{barrier: barrier}:
	case <-b.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-barrier:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the delivery counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Posted:    b.posted.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Rejected:  b.rejected.Load(),
	}
}

// Close stops accepting messages, delivers what is already queued and waits
// for the dispatcher to exit.
func (b *Bus) Close() error {
	b.once.Do(func() { close(b.quit) })
	<-b.done
	return nil
}

func (b *Bus) isClosed() bool {
	select {
	case <-b.quit:
		return true
	default:
		return false
	}
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for {
		select {
		case env := <-b.queue:
			b.handle(env)
		case <-b.quit:
			for {
				select {
				case env := <-b.queue:
					b.handle(env)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) handle(env envelope) {
	if env.barrier != nil {
		close(env.barrier)
		return
	}
	msg, err := domain.DecodeMessage(env.data)
	if err != nil {
		b.rejected.Add(1)
		log.Debug(map[string]any{"error": err}, "message ignored")
		return
	}
	for _, h := range b.handlersFor(msg.Type) {
		b.deliver(h, msg)
	}
}

func (b *Bus) handlersFor(kind domain.Kind) []func(domain.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := lo.Keys(b.subs)
	slices.Sort(ids)
	var out []func(domain.Message)
	for _, id := range ids {
		sub := b.subs[id]
		if _, match := sub.kinds[kind]; match || len(sub.kinds) == 0 {
			out = append(out, sub.handler)
		}
	}
	return out
}

// deliver hands each subscriber its own copy of the payload.
func (b *Bus) deliver(h func(domain.Message), msg domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(map[string]any{"panic": r, "type": string(msg.Type)}, "message handler panicked")
		}
	}()
	msg.Payload = bytes.Clone(msg.Payload)
	h(msg)
	b.delivered.Add(1)
}
