package dms

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type queuedEvent struct {
	sub *Subscription
	ev  Event
}

// eventQueue is an unbounded FIFO between the receive path and the
// dispatcher. The receive path must never block on a slow listener, so the
// queue grows instead; depth is monitored against a high-water mark.
type eventQueue struct {
	mu     sync.Mutex
	items  []queuedEvent
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(item queuedEvent) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop blocks until an item is available or stop is closed.
func (q *eventQueue) pop(stop <-chan struct{}) (queuedEvent, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-stop:
			return queuedEvent{}, false
		}
	}
}

func (q *eventQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// dispatcher drains the event queue on its own goroutine and fires listener
// sets, isolating user callbacks from the transport-receive path.
type dispatcher struct {
	queue        *eventQueue
	warnDuration time.Duration
	highWater    int

	stop chan struct{}
	done chan struct{}

	// warnArmed edge-triggers the queue-depth warning: one log line per
	// crossing, re-armed when depth falls back below the mark.
	warnArmed bool
}

func newDispatcher(queue *eventQueue, warnDuration time.Duration, highWater int) *dispatcher {
	return &dispatcher{
		queue:        queue,
		warnDuration: warnDuration,
		highWater:    highWater,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		warnArmed:    true,
	}
}

func (d *dispatcher) start() {
	go d.run()
}

func (d *dispatcher) halt() {
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	<-d.done
}

func (d *dispatcher) run() {
	defer close(d.done)
	slog.Debug("Event dispatcher running")
	for {
		item, ok := d.queue.pop(d.stop)
		if !ok {
			slog.Debug("Event dispatcher stopped")
			return
		}
		d.fire(item.sub, item.ev)

		depth := d.queue.depth()
		if depth > d.highWater && d.warnArmed {
			d.warnArmed = false
			slog.Warn("Event queue above high-water mark; shorten callbacks or unsubscribe before removing listeners",
				"depth", depth, "high_water", d.highWater)
		} else if depth < d.highWater {
			d.warnArmed = true
		}
	}
}

// fire invokes every listener attached to the subscription, synchronously and
// in registration order. A failing listener never stops the rest, and never
// terminates the dispatcher.
func (d *dispatcher) fire(sub *Subscription, ev Event) {
	listeners := sub.snapshot()
	if len(listeners) == 0 {
		slog.Info("Listener set is empty, suppressing event",
			"path", sub.Path(), "tag", sub.Tag())
		return
	}

	started := time.Now()
	for _, entry := range listeners {
		d.fireOne(sub, ev, entry)
	}
	if elapsed := time.Since(started); elapsed > d.warnDuration {
		slog.Warn("Event callbacks took too long; shorten your listeners",
			"path", sub.Path(), "tag", sub.Tag(), "duration", elapsed)
	}
}

func (d *dispatcher) fireOne(sub *Subscription, ev Event, entry listenerEntry) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Listener panicked",
				"path", sub.Path(), "tag", sub.Tag(),
				"listener_id", entry.id, "panic", fmt.Sprint(r))
		}
	}()
	entry.fn(ev)
}
