package dms

import (
	"context"
	"sync"
)

// Listener is a callback fired for every event of a subscription. Listeners
// run on the dispatcher goroutine, never on the receive path, so they may
// call back into the client (e.g. issue a Get) without deadlocking.
type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}

// Subscription is a live server-side registration pushing events for a
// matching path. It carries only its tag and path; lifecycle operations are
// routed through the owning client, which holds the only strong handle in
// its registry.
type Subscription struct {
	client *Client
	tag    string
	path   string
	resp   *SubscribeResponse

	mu        sync.Mutex
	listeners []listenerEntry
	nextID    int
}

func newSubscription(client *Client, resp *SubscribeResponse) *Subscription {
	return &Subscription{
		client: client,
		tag:    resp.Tag,
		path:   resp.Path,
		resp:   resp,
	}
}

// Tag returns the correlation tag identifying this subscription.
func (s *Subscription) Tag() string { return s.tag }

// Path returns the subscribed datapoint path.
func (s *Subscription) Path() string { return s.path }

// Resp returns the original subscribe response.
func (s *Subscription) Resp() *SubscribeResponse { return s.resp }

// AddListener attaches fn and returns an id for later removal.
func (s *Subscription) AddListener(fn Listener) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.listeners = append(s.listeners, listenerEntry{id: s.nextID, fn: fn})
	return s.nextID
}

// RemoveListener detaches the listener registered under id. Removing the
// last listener does not stop the server from pushing events; unsubscribe
// first if the events are no longer wanted.
func (s *Subscription) RemoveListener(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, entry := range s.listeners {
		if entry.id == id {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// snapshot returns a stable copy of the listener set for one dispatch fire.
func (s *Subscription) snapshot() []listenerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]listenerEntry, len(s.listeners))
	copy(out, s.listeners)
	return out
}

func (s *Subscription) hasListeners() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners) > 0
}

// Update replaces the subscription's options in place. Path and tag are not
// caller-mutable: the client reissues a subscribe command with the existing
// pair, which the server treats as an in-place replacement.
func (s *Subscription) Update(ctx context.Context, opts *SubscribeOptions) error {
	_, err := s.client.subscribe(ctx, s.path, opts, s.tag)
	return err
}

// Unsubscribe stops the server-side registration and removes the
// subscription from the client's registry. Safe to call after all listeners
// have been removed.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	return s.client.unsubscribe(ctx, s)
}
