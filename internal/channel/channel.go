// Package channel is the native-messaging link between this host and the
// browser extension. One connection carries three kinds of traffic:
//
//   - requests from the extension UI (toggle settings, export, stats),
//     answered with {success, payload} or {success:false, error}
//   - events from the extension (tab lifecycle notifications), fed to the
//     tracker
//   - requests from the host to the extension (query-tabs, discard-tab),
//     correlated by ID, which implement the tab inventory and discard
//     action collaborators
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tabwarden/tabwarden/internal/tab"
)

// Envelope is the wire message shared by both directions.
type Envelope struct {
	ID     int64  `json:"id,omitempty"`
	Type   string `json:"type"` // "request" | "response" | "event"
	Action string `json:"action,omitempty"`
	Event  string `json:"event,omitempty"`

	// Success is never omitted: a failure response must carry an explicit
	// success=false next to its error string.
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler answers extension UI requests.
type Handler interface {
	Handle(ctx context.Context, action string, payload json.RawMessage) (any, error)
}

// Notifier receives tab lifecycle events. Implemented by tracker.Tracker.
// All methods are notifications consumed asynchronously; the session
// boundary goes through the same path so it stays ordered with the
// lifecycle signals around it.
type Notifier interface {
	TabCreated(tb tab.Tab) bool
	TabActivated(tabID, windowID int) bool
	TabUpdated(tabID int, url, title, status string) bool
	TabRemoved(tabID int, windowClosing bool) bool
	SessionStarted() bool
}

// ErrClosed reports a call against a connection whose serve loop has ended.
var ErrClosed = errors.New("channel closed")

// Conn is one native-messaging connection.
type Conn struct {
	r io.Reader

	wmu sync.Mutex
	w   io.Writer

	handler  Handler
	notifier Notifier

	nextID  atomic.Int64
	pmu     sync.Mutex
	pending map[int64]chan Envelope
	closed  bool
}

// New creates a connection over r/w (stdin/stdout in production).
func New(r io.Reader, w io.Writer, handler Handler, notifier Notifier) *Conn {
	return &Conn{
		r:        r,
		w:        w,
		handler:  handler,
		notifier: notifier,
		pending:  make(map[int64]chan Envelope),
	}
}

// Serve reads frames until the stream ends or ctx is cancelled.
// UI requests are handled on their own goroutines so a slow export can't
// stall lifecycle events.
func (c *Conn) Serve(ctx context.Context) error {
	defer c.failPending()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var env Envelope
		err := ReadFrame(c.r, &env)
		if errors.Is(err, io.EOF) {
			slog.Info("channel closed by peer")
			return nil
		}
		if err != nil {
			return fmt.Errorf("channel read: %w", err)
		}

		switch env.Type {
		case "response":
			c.deliver(env)

		case "request":
			go c.handleRequest(ctx, env)

		case "event":
			c.handleEvent(ctx, env)

		default:
			slog.Warn("unknown envelope type", "type", env.Type)
		}
	}
}

// Call sends a request to the extension and waits for the correlated
// response. out may be nil when the reply payload is irrelevant.
func (c *Conn) Call(ctx context.Context, action string, payload any, out any) error {
	id := c.nextID.Add(1)

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("call %s: marshal: %w", action, err)
		}
		raw = data
	}

	ch := make(chan Envelope, 1)
	c.pmu.Lock()
	if c.closed {
		c.pmu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.pmu.Unlock()

	defer func() {
		c.pmu.Lock()
		delete(c.pending, id)
		c.pmu.Unlock()
	}()

	if err := c.write(Envelope{ID: id, Type: "request", Action: action, Payload: raw}); err != nil {
		return fmt.Errorf("call %s: %w", action, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case reply, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if !reply.Success {
			return fmt.Errorf("call %s: %s", action, reply.Error)
		}
		if out != nil && len(reply.Payload) > 0 {
			if err := json.Unmarshal(reply.Payload, out); err != nil {
				return fmt.Errorf("call %s: unmarshal reply: %w", action, err)
			}
		}
		return nil
	}
}

// QueryTabs implements the tab inventory collaborator over the channel.
func (c *Conn) QueryTabs(ctx context.Context) ([]tab.Tab, error) {
	var out struct {
		Tabs []tab.Tab `json:"tabs"`
	}
	if err := c.Call(ctx, "query-tabs", nil, &out); err != nil {
		return nil, err
	}
	return out.Tabs, nil
}

// Discard implements the tab discard action collaborator over the channel.
func (c *Conn) Discard(ctx context.Context, tabID int) error {
	payload := struct {
		TabID int `json:"tabId"`
	}{tabID}
	return c.Call(ctx, "discard-tab", payload, nil)
}

func (c *Conn) handleRequest(ctx context.Context, env Envelope) {
	payload, err := c.handler.Handle(ctx, env.Action, env.Payload)

	reply := Envelope{ID: env.ID, Type: "response"}
	if err != nil {
		reply.Error = err.Error()
		slog.Warn("action failed", "action", env.Action, "error", err)
	} else {
		reply.Success = true
		if payload != nil {
			data, merr := json.Marshal(payload)
			if merr != nil {
				reply.Success = false
				reply.Error = merr.Error()
			} else {
				reply.Payload = data
			}
		}
	}

	if werr := c.write(reply); werr != nil {
		slog.Warn("response write failed", "action", env.Action, "error", werr)
	}
}

func (c *Conn) handleEvent(ctx context.Context, env Envelope) {
	switch env.Event {
	case "session-start":
		c.notifier.SessionStarted()

	case "tab-created":
		var tb tab.Tab
		if c.decodeEvent(env, &tb) {
			c.notifier.TabCreated(tb)
		}

	case "tab-activated":
		var p struct {
			TabID    int `json:"tabId"`
			WindowID int `json:"windowId"`
		}
		if c.decodeEvent(env, &p) {
			c.notifier.TabActivated(p.TabID, p.WindowID)
		}

	case "tab-updated":
		var p struct {
			TabID  int    `json:"tabId"`
			URL    string `json:"url"`
			Title  string `json:"title"`
			Status string `json:"status"`
		}
		if c.decodeEvent(env, &p) {
			c.notifier.TabUpdated(p.TabID, p.URL, p.Title, p.Status)
		}

	case "tab-removed":
		var p struct {
			TabID         int  `json:"tabId"`
			WindowClosing bool `json:"windowClosing"`
		}
		if c.decodeEvent(env, &p) {
			c.notifier.TabRemoved(p.TabID, p.WindowClosing)
		}

	default:
		slog.Warn("unknown event", "event", env.Event)
	}
}

func (c *Conn) decodeEvent(env Envelope, out any) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		slog.Warn("malformed event payload", "event", env.Event, "error", err)
		return false
	}
	return true
}

func (c *Conn) deliver(env Envelope) {
	c.pmu.Lock()
	ch, ok := c.pending[env.ID]
	c.pmu.Unlock()
	if !ok {
		slog.Warn("response with no pending call", "id", env.ID)
		return
	}
	ch <- env
}

// failPending closes all outstanding call channels after the serve loop
// ends so blocked callers return ErrClosed instead of hanging.
func (c *Conn) failPending() {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Conn) write(env Envelope) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteFrame(c.w, env)
}
