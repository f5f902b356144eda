package dms

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDMS is a scripted stand-in for the DMS server: it decodes every
// request envelope, hands it to the test's handler and writes the returned
// frames back. Events can be pushed at any time via push.
type fakeDMS struct {
	t       *testing.T
	server  *httptest.Server
	handler func(frame map[string]any) []map[string]any

	mu     sync.Mutex
	conn   *websocket.Conn
	frames []map[string]any
}

func newFakeDMS(t *testing.T, handler func(frame map[string]any) []map[string]any) *fakeDMS {
	t.Helper()
	f := &fakeDMS{t: t, handler: handler}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var frame map[string]any
			if err := json.Unmarshal(data, &frame); err != nil {
				t.Logf("fake DMS: malformed request: %v", err)
				continue
			}
			f.mu.Lock()
			f.frames = append(f.frames, frame)
			f.mu.Unlock()
			if f.handler == nil {
				continue
			}
			for _, reply := range f.handler(frame) {
				payload, err := json.Marshal(reply)
				if err != nil {
					t.Logf("fake DMS: marshal reply: %v", err)
					continue
				}
				if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

// push sends an unsolicited frame (typically an event) to the client.
func (f *fakeDMS) push(frame map[string]any) {
	f.t.Helper()
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	require.NotNil(f.t, conn, "no client connected yet")

	payload, err := json.Marshal(frame)
	require.NoError(f.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(f.t, conn.Write(ctx, websocket.MessageText, payload))
}

// requests returns a snapshot of all request envelopes seen so far.
func (f *fakeDMS) requests() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.frames))
	copy(out, f.frames)
	return out
}

func testConfig(t *testing.T, server *httptest.Server) Config {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Config{
		Host:           host,
		Port:           port,
		Whois:          "test",
		User:           "tester",
		RequestTimeout: 2 * time.Second,
		SendGrace:      time.Second,
	}
}

func dialTest(t *testing.T, f *fakeDMS) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, testConfig(t, f.server))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// firstCommand extracts the first command of a verb from a request envelope.
func firstCommand(frame map[string]any, verb string) map[string]any {
	records, _ := frame[verb].([]any)
	if len(records) == 0 {
		return nil
	}
	m, _ := records[0].(map[string]any)
	return m
}

// echoTag builds a handler that answers each command of verb with the given
// record, tag copied from the request.
func echoTag(verb string, record map[string]any) func(map[string]any) []map[string]any {
	return func(frame map[string]any) []map[string]any {
		cmd := firstCommand(frame, verb)
		if cmd == nil {
			return nil
		}
		reply := map[string]any{"tag": cmd["tag"]}
		for k, v := range record {
			reply[k] = v
		}
		return []map[string]any{{verb: []any{reply}}}
	}
}

func TestClientGet(t *testing.T) {
	f := newFakeDMS(t, echoTag("get", map[string]any{
		"code":  "ok",
		"path":  "System:Time",
		"value": "14:55:00",
		"type":  "string",
		"stamp": "2018-12-05T14:55:00+01:00",
	}))
	client := dialTest(t, f)

	responses, err := client.Get(context.Background(), "System:Time", nil)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, CodeOK, responses[0].Code)
	assert.Equal(t, "System:Time", responses[0].Path)
	assert.Equal(t, "14:55:00", responses[0].Value)
	assert.True(t, responses[0].Stamp.Valid)

	// The envelope replays the configured identity verbatim.
	reqs := f.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "test", reqs[0]["whois"])
	assert.Equal(t, "tester", reqs[0]["user"])
}

func TestClientGetMultiRecordGrouping(t *testing.T) {
	f := newFakeDMS(t, func(frame map[string]any) []map[string]any {
		cmd := firstCommand(frame, "get")
		if cmd == nil {
			return nil
		}
		tag := cmd["tag"]
		return []map[string]any{{"get": []any{
			map[string]any{"code": "ok", "path": "GE:A", "value": 1.0, "tag": tag},
			map[string]any{"code": "ok", "path": "GE:B", "value": 2.0, "tag": tag},
			map[string]any{"code": "ok", "path": "GE:C", "value": 3.0, "tag": tag},
		}}}
	})
	client := dialTest(t, f)

	responses, err := client.Get(context.Background(), "GE", &GetOptions{
		Query: &Query{RegExPath: ".*", MaxDepth: MaxDepth(2)},
	})
	require.NoError(t, err)
	require.Len(t, responses, 3)
	assert.Equal(t, "GE:A", responses[0].Path)
	assert.Equal(t, "GE:B", responses[1].Path)
	assert.Equal(t, "GE:C", responses[2].Path)
}

func TestClientConcurrentRequestsCorrelate(t *testing.T) {
	f := newFakeDMS(t, func(frame map[string]any) []map[string]any {
		cmd := firstCommand(frame, "get")
		if cmd == nil {
			return nil
		}
		// Echo the requested path back as the value: a mixed-up tag would
		// hand a caller someone else's value.
		return []map[string]any{{"get": []any{map[string]any{
			"code":  "ok",
			"path":  cmd["path"],
			"value": cmd["path"],
			"tag":   cmd["tag"],
		}}}}
	})
	client := dialTest(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := "MSR01:Test_" + strconv.Itoa(i)
			responses, err := client.Get(context.Background(), path, nil)
			if assert.NoError(t, err) && assert.Len(t, responses, 1) {
				assert.Equal(t, path, responses[0].Value)
			}
		}(i)
	}
	wg.Wait()
}

func TestClientSetSendsOptions(t *testing.T) {
	f := newFakeDMS(t, echoTag("set", map[string]any{
		"code":  "ok",
		"path":  "MSR01:Test_str",
		"value": "abc",
	}))
	client := dialTest(t, f)

	resp, err := client.Set(context.Background(), "MSR01:Test_str", "abc", &SetOptions{Create: true})
	require.NoError(t, err)
	assert.Equal(t, CodeOK, resp.Code)
	assert.Equal(t, "abc", resp.Value)

	cmd := firstCommand(f.requests()[0], "set")
	require.NotNil(t, cmd)
	assert.Equal(t, "abc", cmd["value"])
	assert.Equal(t, true, cmd["create"])
	assert.NotEmpty(t, cmd["tag"])
}

func TestClientRenameAndDelete(t *testing.T) {
	f := newFakeDMS(t, func(frame map[string]any) []map[string]any {
		if cmd := firstCommand(frame, "rename"); cmd != nil {
			return []map[string]any{{"rename": []any{map[string]any{
				"code": "ok", "path": cmd["path"], "newPath": cmd["newPath"], "tag": cmd["tag"],
			}}}}
		}
		if cmd := firstCommand(frame, "delete"); cmd != nil {
			return []map[string]any{{"delete": []any{map[string]any{
				"code": "ok", "path": cmd["path"], "tag": cmd["tag"],
			}}}}
		}
		return nil
	})
	client := dialTest(t, f)

	ren, err := client.Rename(context.Background(), "MSR01:Test_int", "MSR01:Test_int2")
	require.NoError(t, err)
	assert.Equal(t, "MSR01:Test_int2", ren.NewPath)

	del, err := client.Delete(context.Background(), "MSR01:Test_int2", &DeleteOptions{Recursive: Recursive(false)})
	require.NoError(t, err)
	assert.Equal(t, CodeOK, del.Code)

	// recursive=false still goes over the wire explicitly.
	cmd := firstCommand(f.requests()[1], "delete")
	require.NotNil(t, cmd)
	assert.Equal(t, false, cmd["recursive"])
}

func TestClientChangelogGetGroupsCorrelation(t *testing.T) {
	f := newFakeDMS(t, func(frame map[string]any) []map[string]any {
		helper, ok := frame["tag"].(map[string]any)
		if !ok {
			return nil
		}
		// Tag-less verb: replies carry no per-command tag either; the
		// envelope helper map is echoed back instead.
		return []map[string]any{{
			"changelogGetGroups": []any{map[string]any{
				"code":   "ok",
				"groups": []any{"Manip1", "Alarm"},
			}},
			"tag": helper,
		}}
	})
	client := dialTest(t, f)

	resp, err := client.ChangelogGetGroups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CodeOK, resp.Code)
	assert.Equal(t, []string{"Manip1", "Alarm"}, resp.Groups)

	// The reply's tag was restored from the helper map and matches the one
	// the encoder stored in the request envelope.
	helper := f.requests()[0]["tag"].(map[string]any)
	tags := helper["changelogGetGroups"].([]any)
	require.Len(t, tags, 1)
	assert.Equal(t, tags[0], resp.Tag)

	// The command body itself went out tag-less.
	cmd := firstCommand(f.requests()[0], "changelogGetGroups")
	require.NotNil(t, cmd)
	_, hasTag := cmd["tag"]
	assert.False(t, hasTag)
}

func TestClientChangelogRead(t *testing.T) {
	f := newFakeDMS(t, echoTag("changelogRead", map[string]any{
		"code":  "ok",
		"group": "Manip1",
		"changelog": []any{
			map[string]any{"path": "MSR01:A", "stamp": "2017-12-05T19:00:00+02:00", "text": "set to 1"},
			map[string]any{"path": "MSR01:B", "stamp": "2017-12-05T19:05:00+02:00", "text": "set to 2"},
		},
	}))
	client := dialTest(t, f)

	resp, err := client.ChangelogRead(context.Background(), "Manip1",
		Timestring("2017-12-05T19:00:00,000+02:00"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Manip1", resp.Group)
	require.Len(t, resp.Changelog, 2)
	assert.Equal(t, "set to 1", resp.Changelog[0].Text)
	assert.True(t, resp.Changelog[0].Stamp.Valid)

	cmd := firstCommand(f.requests()[0], "changelogRead")
	require.NotNil(t, cmd)
	assert.Equal(t, "2017-12-05T19:00:00,000+02:00", cmd["start"])
}

func TestClientRequestTimeout(t *testing.T) {
	f := newFakeDMS(t, nil) // never answers
	cfg := testConfig(t, f.server)
	cfg.RequestTimeout = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.Get(context.Background(), "System:Time", nil)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClientCloseFailsPendingWaiters(t *testing.T) {
	f := newFakeDMS(t, nil) // never answers
	client := dialTest(t, f)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Get(context.Background(), "System:Time", nil)
		errCh <- err
	}()

	// Give the request time to reach the pending table, then tear down.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not released on close")
	}
}

func TestClientOptionErrorsBeforeNetwork(t *testing.T) {
	f := newFakeDMS(t, nil)
	client := dialTest(t, f)

	_, err := client.Get(context.Background(), "x", &GetOptions{ShowExtInfos: 999})
	require.Error(t, err)
	assert.True(t, IsOptionError(err))

	var optErr *OptionError
	require.True(t, errors.As(err, &optErr))
	assert.Equal(t, "showExtInfos", optErr.Field)

	// The invalid command never reached the wire.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.requests())
}

func TestClientSendAfterClose(t *testing.T) {
	f := newFakeDMS(t, nil)
	client := dialTest(t, f)
	require.NoError(t, client.Close())

	_, err := client.Get(context.Background(), "System:Time", nil)
	assert.ErrorIs(t, err, ErrClosed)
}
