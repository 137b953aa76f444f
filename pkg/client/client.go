// Package client is a small Go client for the setlist hub, used by tooling
// and end-to-end tests.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/a-essam23/setlist-sync/pkg/logging"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const (
	DefaultAckTimeout = 5 * time.Second
	eventBuffer       = 256
)

type Options struct {
	// UserID is sent as the handshake "userId" query parameter.
	UserID string
	// Token is sent as a Bearer session token.
	Token string
	// AckTimeout bounds GetActiveSong. Zero means DefaultAckTimeout.
	AckTimeout time.Duration
	Logger     *slog.Logger
}

// Event is a server frame other than an ack.
type Event struct {
	Name    string
	Payload json.RawMessage
}

func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

type outbound struct {
	Event   string `json:"event"`
	AckID   string `json:"ackId,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

type inbound struct {
	Event   string          `json:"event"`
	AckID   string          `json:"ackId"`
	Payload json.RawMessage `json:"payload"`
}

type Client struct {
	conn       *websocket.Conn
	logger     *slog.Logger
	ackTimeout time.Duration
	events     chan Event

	mu      sync.Mutex
	pending map[string]chan json.RawMessage

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Dial connects to the websocket endpoint at rawURL (ws:// or wss://).
func Dial(ctx context.Context, rawURL string, opts Options) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if opts.UserID != "" {
		q := u.Query()
		q.Set("userId", opts.UserID)
		u.RawQuery = q.Encode()
	}
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	ackTimeout := opts.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:       conn,
		logger:     logger.With(slog.String("component", "setlist_client")),
		ackTimeout: ackTimeout,
		events:     make(chan Event, eventBuffer),
		pending:    make(map[string]chan json.RawMessage),
		ctx:        cctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		var frame inbound
		if err := wsjson.Read(c.ctx, c.conn, &frame); err != nil {
			c.err = err
			c.logger.Debug("Read loop stopped", slog.Any("error", err))
			return
		}
		if frame.AckID != "" && frame.Event == "ack" {
			c.resolve(frame.AckID, frame.Payload)
			continue
		}
		select {
		case c.events <- Event{Name: frame.Event, Payload: frame.Payload}:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) resolve(ackID string, payload json.RawMessage) {
	c.mu.Lock()
	ch, ok := c.pending[ackID]
	delete(c.pending, ackID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("Ack for unknown request", slog.String("ackId", ackID))
		return
	}
	ch <- payload
}

// Events delivers server events in arrival order. It is closed when the
// connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Await returns the next event named name, discarding others.
func (c *Client) Await(ctx context.Context, name string) (Event, error) {
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return Event{}, fmt.Errorf("connection closed while waiting for %s: %w", name, c.err)
			}
			if ev.Name == name {
				return ev, nil
			}
		case <-ctx.Done():
			return Event{}, fmt.Errorf("waiting for %s: %w", name, ctx.Err())
		}
	}
}

func (c *Client) Authenticate(ctx context.Context, userID string) error {
	return c.send(ctx, outbound{Event: "authenticate", Payload: map[string]string{"userId": userID}})
}

func (c *Client) SelectSong(ctx context.Context, userID, songID string) error {
	return c.send(ctx, outbound{Event: "select_song", Payload: map[string]string{"userId": userID, "songId": songID}})
}

func (c *Client) QuitSong(ctx context.Context, userID string) error {
	return c.send(ctx, outbound{Event: "quit_song", Payload: map[string]string{"userId": userID}})
}

// GetActiveSong asks for the group's current song. A timeout, a closed
// connection or a null answer all resolve to ok == false.
func (c *Client) GetActiveSong(ctx context.Context) (songID string, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, c.ackTimeout)
	defer cancel()

	ackID := uuid.NewString()
	reply := make(chan json.RawMessage, 1)
	c.mu.Lock()
	c.pending[ackID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ackID)
		c.mu.Unlock()
	}()

	if err := c.send(ctx, outbound{Event: "get_active_song", AckID: ackID}); err != nil {
		c.logger.Debug("get_active_song not sent", slog.Any("error", err))
		return "", false
	}

	select {
	case payload := <-reply:
		var id *string
		if err := json.Unmarshal(payload, &id); err != nil || id == nil {
			return "", false
		}
		return *id, true
	case <-c.done:
		return "", false
	case <-ctx.Done():
		c.logger.Debug("get_active_song timed out", slog.String("ackId", ackID))
		return "", false
	}
}

func (c *Client) send(ctx context.Context, msg outbound) error {
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Event, err)
	}
	return nil
}

// Done is closed once the read loop has stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the read loop stopped. Valid after Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// CloseStatus is the websocket close code the server sent, or -1.
func (c *Client) CloseStatus() websocket.StatusCode {
	return websocket.CloseStatus(c.Err())
}

func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	<-c.done
	return err
}
