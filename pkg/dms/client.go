// Package dms implements the client side of the DMS JSON Data Exchange v1.4
// protocol: a full-duplex RPC layer over a single WebSocket that multiplexes
// concurrent request/response exchanges via correlation tags and routes
// server-pushed subscription events to listener sets on a dedicated
// dispatcher goroutine.
package dms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Connection defaults. A local connection conventionally needs no
// authentication; whois and user merely identify the client to the server.
const (
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 9020
	DefaultBasePath = "/json_data"

	DefaultRequestTimeout    = 300 * time.Second
	DefaultSendGrace         = 60 * time.Second
	DefaultCallbackWarnAfter = 10 * time.Second
	DefaultQueueHighWater    = 100
)

// Config holds the connection parameters of a Client.
type Config struct {
	// Host and Port of the DMS server.
	Host string
	Port int

	// Whois identifies the application, User the user identity. Both are
	// replayed verbatim in every request envelope.
	Whois string
	User  string

	// RequestTimeout bounds how long a call waits for its response. A
	// context deadline shorter than this acts as a per-call override.
	RequestTimeout time.Duration

	// SendGrace bounds how long a send waits for the connection to become
	// ready before surfacing ErrNotReady.
	SendGrace time.Duration

	// CallbackWarnAfter is the listener-duration threshold above which the
	// dispatcher logs a warning.
	CallbackWarnAfter time.Duration

	// QueueHighWater is the event-queue depth above which the dispatcher
	// logs a (rate-limited) warning.
	QueueHighWater int
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.SendGrace == 0 {
		c.SendGrace = DefaultSendGrace
	}
	if c.CallbackWarnAfter == 0 {
		c.CallbackWarnAfter = DefaultCallbackWarnAfter
	}
	if c.QueueHighWater == 0 {
		c.QueueHighWater = DefaultQueueHighWater
	}
	return c
}

// URL returns the WebSocket endpoint of the configured server.
func (c Config) URL() string {
	return fmt.Sprintf("ws://%s:%d%s", c.Host, c.Port, DefaultBasePath)
}

// Client is the connection facade. It owns the transport, the pending
// response table, the subscription registry and the event dispatcher. All
// methods are safe for concurrent use; each caller blocks only on its own
// response slot.
type Client struct {
	cfg     Config
	conn    *websocket.Conn
	pending *pendingTable
	queue   *eventQueue
	disp    *dispatcher

	subMu sync.Mutex
	subs  map[string]*Subscription

	// ready gates sends; closed once the transport is up. closed signals
	// connection teardown to every blocked operation.
	ready  chan struct{}
	closed chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	readDone chan struct{}

	sendMu sync.Mutex
}

// Dial connects to the DMS server and starts the receive loop and the event
// dispatcher. Cancelling ctx tears the client down the same way Close does.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	conn, _, err := websocket.Dial(ctx, cfg.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL(), err)
	}
	// Frames may carry large history reads.
	conn.SetReadLimit(16 << 20)

	clientCtx, cancel := context.WithCancel(ctx)
	queue := newEventQueue()
	c := &Client{
		cfg:      cfg,
		conn:     conn,
		pending:  newPendingTable(),
		queue:    queue,
		disp:     newDispatcher(queue, cfg.CallbackWarnAfter, cfg.QueueHighWater),
		subs:     make(map[string]*Subscription),
		ready:    make(chan struct{}),
		closed:   make(chan struct{}),
		ctx:      clientCtx,
		cancel:   cancel,
		readDone: make(chan struct{}),
	}

	c.disp.start()
	go c.readLoop()
	close(c.ready)

	slog.Info("Connected to DMS", "url", cfg.URL(), "whois", cfg.Whois, "user", cfg.User)
	return c, nil
}

// Close tears the connection down: it fails every pending waiter, drops all
// subscriptions, stops the dispatcher and closes the socket. Safe to call
// more than once.
func (c *Client) Close() error {
	c.shutdown()
	<-c.readDone
	return nil
}

func (c *Client) shutdown() {
	c.stopOnce.Do(func() {
		slog.Info("Closing DMS connection", "url", c.cfg.URL())
		c.cancel()
		close(c.closed)
		c.pending.failAll(ErrClosed)
		c.dropSubscriptions()
		c.disp.halt()
		_ = c.conn.CloseNow()
	})
}

// dropSubscriptions empties the registry. The server discards its side of
// every subscription when the connection goes down.
func (c *Client) dropSubscriptions() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	clear(c.subs)
}

// readLoop is the transport-receive path. It must never run user code and
// never block on a listener: events are queued for the dispatcher instead.
func (c *Client) readLoop() {
	defer close(c.readDone)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			select {
			case <-c.closed:
			default:
				slog.Warn("Connection lost", "error", err)
			}
			c.shutdown()
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	completions, events, err := decodeFrame(data)
	if err != nil {
		slog.Error("Dropping unparseable frame", "error", err)
		return
	}

	for _, comp := range completions {
		if !c.pending.complete(comp.tag, comp.responses) {
			slog.Warn("Discarding reply with no pending slot", "tag", comp.tag)
		}
	}

	for _, ev := range events {
		sub := c.lookupSubscription(ev.Tag)
		if sub == nil {
			slog.Warn("Dropping event for unregistered subscription",
				"tag", ev.Tag, "path", ev.Path, "code", ev.Code)
			continue
		}
		if !sub.hasListeners() {
			slog.Info("Listener set is empty, suppressing event",
				"tag", ev.Tag, "path", ev.Path)
			continue
		}
		c.queue.push(queuedEvent{sub: sub, ev: ev})
	}
}

// send waits for the ready gate (bounded by the send grace) and writes one
// text frame. The websocket library serializes concurrent writes, but the
// extra mutex keeps whole envelopes ordered the way callers issued them.
func (c *Client) send(ctx context.Context, payload []byte) error {
	select {
	case <-c.ready:
	default:
		slog.Warn("Connection not ready to send, waiting", "grace", c.cfg.SendGrace)
		timer := time.NewTimer(c.cfg.SendGrace)
		defer timer.Stop()
		select {
		case <-c.ready:
		case <-c.closed:
			return ErrClosed
		case <-timer.C:
			return ErrNotReady
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.conn.Write(c.ctx, websocket.MessageText, payload)
}

// roundTrip sends one command (whose tag is already reserved) and blocks
// until its grouped response list arrives.
func (c *Client) roundTrip(ctx context.Context, cmd *command) ([]Response, error) {
	payload, err := newRequest(c.cfg.Whois, c.cfg.User, cmd).marshal()
	if err != nil {
		return nil, err
	}
	if err := c.send(ctx, payload); err != nil {
		return nil, err
	}
	return c.pending.take(ctx, cmd.tag, c.cfg.RequestTimeout)
}

// Get reads one or more datapoints. A query may expand the reply to several
// records; they are returned as one list in wire order.
func (c *Client) Get(ctx context.Context, path string, opts *GetOptions) ([]*GetResponse, error) {
	tag := c.pending.reserve("")
	cmd, err := newGetCommand(tag, path, opts)
	if err != nil {
		c.pending.discard(tag)
		return nil, err
	}
	responses, err := c.roundTrip(ctx, cmd)
	if err != nil {
		return nil, err
	}
	out := make([]*GetResponse, 0, len(responses))
	for _, r := range responses {
		if resp, ok := r.(*GetResponse); ok {
			out = append(out, resp)
		}
	}
	return out, nil
}

// Set writes a datapoint value.
func (c *Client) Set(ctx context.Context, path string, value any, opts *SetOptions) (*SetResponse, error) {
	tag := c.pending.reserve("")
	cmd, err := newSetCommand(tag, path, value, opts)
	if err != nil {
		c.pending.discard(tag)
		return nil, err
	}
	return first[*SetResponse](c.roundTrip(ctx, cmd))
}

// Rename moves a datapoint to a new path.
func (c *Client) Rename(ctx context.Context, path, newPath string) (*RenameResponse, error) {
	tag := c.pending.reserve("")
	return first[*RenameResponse](c.roundTrip(ctx, newRenameCommand(tag, path, newPath)))
}

// Delete removes a datapoint, optionally with its whole subtree.
func (c *Client) Delete(ctx context.Context, path string, opts *DeleteOptions) (*DeleteResponse, error) {
	tag := c.pending.reserve("")
	return first[*DeleteResponse](c.roundTrip(ctx, newDeleteCommand(tag, path, opts)))
}

// Subscribe registers server-side monitoring of a path and returns the live
// subscription handle. Unlike the other verbs, a rejected subscribe is
// surfaced as an error: no handle can be constructed from a failure.
func (c *Client) Subscribe(ctx context.Context, path string, opts *SubscribeOptions) (*Subscription, error) {
	resp, err := c.subscribe(ctx, path, opts, "")
	if err != nil {
		return nil, err
	}
	sub := newSubscription(c, resp)
	c.subMu.Lock()
	c.subs[sub.Tag()] = sub
	c.subMu.Unlock()
	return sub, nil
}

// subscribe issues one subscribe command. An empty tag mints a fresh one; a
// caller-supplied tag rebinds an existing subscription in place (the server
// replaces a subscription when path and tag match).
func (c *Client) subscribe(ctx context.Context, path string, opts *SubscribeOptions, tag string) (*SubscribeResponse, error) {
	tag = c.pending.reserve(tag)
	cmd, err := newSubscribeCommand(tag, path, opts)
	if err != nil {
		c.pending.discard(tag)
		return nil, err
	}
	resp, err := first[*SubscribeResponse](c.roundTrip(ctx, cmd))
	if err != nil {
		return nil, err
	}
	if resp.Code != CodeOK {
		return nil, &SubscribeError{Path: path, Code: resp.Code, Message: resp.Message}
	}
	return resp, nil
}

// unsubscribe reuses the subscription's tag for the unsubscribe exchange and
// removes the registry entry once the server confirmed.
func (c *Client) unsubscribe(ctx context.Context, sub *Subscription) error {
	tag := c.pending.reserve(sub.Tag())
	if _, err := first[*UnsubscribeResponse](c.roundTrip(ctx, newUnsubscribeCommand(tag, sub.Path()))); err != nil {
		return err
	}
	c.subMu.Lock()
	delete(c.subs, sub.Tag())
	c.subMu.Unlock()
	return nil
}

// ChangelogGetGroups lists the available changelog groups. The command is
// tag-less on the wire; correlation runs through the envelope helper map.
func (c *Client) ChangelogGetGroups(ctx context.Context) (*ChangelogGroupsResponse, error) {
	tag := c.pending.reserve("")
	return first[*ChangelogGroupsResponse](c.roundTrip(ctx, newChangelogGetGroupsCommand(tag)))
}

// ChangelogRead returns the protocol entries of a changelog group within the
// given timeframe.
func (c *Client) ChangelogRead(ctx context.Context, group string, start StampArg, opts *ChangelogReadOptions) (*ChangelogReadResponse, error) {
	tag := c.pending.reserve("")
	cmd, err := newChangelogReadCommand(tag, group, start, opts)
	if err != nil {
		c.pending.discard(tag)
		return nil, err
	}
	return first[*ChangelogReadResponse](c.roundTrip(ctx, cmd))
}

func (c *Client) lookupSubscription(tag string) *Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.subs[tag]
}

// first extracts the single expected typed response from a grouped reply.
func first[T Response](responses []Response, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if len(responses) == 0 {
		return zero, ErrEmptyResponse
	}
	resp, ok := responses[0].(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response type %T", responses[0])
	}
	return resp, nil
}
