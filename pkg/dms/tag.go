package dms

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// slot is the rendezvous between the caller waiting for a response and the
// decoder delivering it. ready is closed exactly once, after responses (or
// err) has been filled in.
type slot struct {
	ready     chan struct{}
	responses []Response
	err       error
}

// pendingTable maps correlation tags to response slots. A slot is inserted
// when the tag is reserved, before the command reaches the transport, so the
// decoder always finds its slot. It is removed by the single waiter that
// consumes it, or by failAll on connection teardown.
type pendingTable struct {
	mu    sync.Mutex
	slots map[string]*slot
}

func newPendingTable() *pendingTable {
	return &pendingTable{slots: make(map[string]*slot)}
}

// reserve mints a fresh tag (or accepts a caller-supplied one for
// subscription rebinding) and atomically inserts an empty slot for it.
func (p *pendingTable) reserve(tag string) string {
	if tag == "" {
		tag = uuid.NewString()
	}
	p.mu.Lock()
	p.slots[tag] = &slot{ready: make(chan struct{})}
	p.mu.Unlock()
	return tag
}

// discard removes a reserved slot that will never be waited on, e.g. when
// command validation fails before the request reaches the wire.
func (p *pendingTable) discard(tag string) {
	p.mu.Lock()
	delete(p.slots, tag)
	p.mu.Unlock()
}

// complete attaches the response list to the slot and signals its waiter.
// Returns false if no slot exists for the tag (late reply after failAll, or
// a reply the client never asked for).
func (p *pendingTable) complete(tag string, responses []Response) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[tag]
	if !ok {
		return false
	}
	select {
	case <-s.ready:
		// Already completed or failed; a second reply for the same tag is a
		// protocol violation the caller cannot observe anyway.
		return false
	default:
	}
	s.responses = responses
	close(s.ready)
	return true
}

// take blocks until the slot for tag is completed, the timeout elapses, the
// context is cancelled, or the connection closes. On success the slot is
// consumed. On timeout the slot stays in the table so a late reply does not
// hit a missing slot; such slots are pruned by failAll on close.
func (p *pendingTable) take(ctx context.Context, tag string, timeout time.Duration) ([]Response, error) {
	p.mu.Lock()
	s, ok := p.slots[tag]
	p.mu.Unlock()
	if !ok {
		return nil, ErrClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		p.mu.Lock()
		delete(p.slots, tag)
		p.mu.Unlock()
		if s.err != nil {
			return nil, s.err
		}
		return s.responses, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// failAll fails every pending slot with err and empties the table. Called on
// connection teardown so no waiter blocks until its full timeout.
func (p *pendingTable) failAll(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for tag, s := range p.slots {
		select {
		case <-s.ready:
		default:
			s.err = err
			close(s.ready)
		}
		delete(p.slots, tag)
	}
}
