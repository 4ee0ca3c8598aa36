// Package hass talks to Home Assistant: entity states over the websocket API,
// REST or MQTT statestream, and long-term statistics over the websocket API.
package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gorilla/websocket"
	"github.com/levenlabs/go-lflag"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/common"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/log"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/stats"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

var (
	// ErrNotConnected is returned by commands issued without a connection.
	ErrNotConnected = errors.New("not connected to home assistant")
	// ErrConnectionClosed is returned for commands pending when the
	// connection dropped.
	ErrConnectionClosed = errors.New("home assistant connection closed")
	// ErrAuthInvalid is returned when Home Assistant rejects the token.
	ErrAuthInvalid = errors.New("home assistant rejected access token")
)

// DefaultTimeout bounds the handshake and REST requests.
const DefaultTimeout = 10 * time.Second

// Client is a Home Assistant websocket API client. One connection is shared
// by all commands; results are matched to commands by id.
type Client struct {
	baseURL  string
	wsURL    string
	token    string
	timeout  time.Duration
	attempts uint
	delay    time.Duration
	dialer   *websocket.Dialer
	http     *http.Client

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	nextID  int
	pending map[int]chan message
	events  map[int]func(json.RawMessage)
}

var _ stats.Source = (*Client)(nil)

// New returns a Client for the Home Assistant instance at baseURL, e.g.
// http://homeassistant.local:8123.
func New(baseURL, token string, timeout time.Duration) (*Client, error) {
	c := &Client{}
	if err := c.setup(baseURL, token, timeout); err != nil {
		return nil, err
	}
	return c, nil
}

// Configured sets up the Client based on flags. The token falls back to the
// HASS_TOKEN environment variable so it can live in a .env file. Without a
// token the client stays disabled.
func Configured() *Client {
	baseURL := lflag.String("hass-url", "http://homeassistant.local:8123", "Home Assistant base URL")
	token := lflag.String("hass-token", "", "Home Assistant long-lived access token (defaults to $HASS_TOKEN)")
	timeout := lflag.Duration("hass-timeout", DefaultTimeout, "Timeout for the Home Assistant handshake and REST requests")

	c := &Client{}
	lflag.Do(func() {
		t := *token
		if t == "" {
			t = os.Getenv("HASS_TOKEN")
		}
		if t == "" {
			return
		}
		if err := c.setup(*baseURL, t, *timeout); err != nil {
			panic(fmt.Sprintf("invalid home assistant config: %v", err))
		}
	})
	return c
}

// Enabled returns true if the client was configured with a token.
func (c *Client) Enabled() bool {
	return c != nil && c.wsURL != ""
}

func (c *Client) setup(baseURL, token string, timeout time.Duration) error {
	if token == "" {
		return errors.New("access token is required")
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", baseURL, err)
	}
	ws := *u
	switch u.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	ws.Path = u.Path + "/api/websocket"
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c.baseURL = u.String()
	c.wsURL = ws.String()
	c.token = token
	c.timeout = timeout
	c.attempts = 5
	c.delay = time.Second
	c.dialer = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	c.http = common.HTTPClient(timeout)
	return nil
}

// Connect dials and authenticates, retrying transient failures. A rejected
// token is not retried.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := retry.DoWithData(
		func() (*websocket.Conn, error) {
			return c.dial(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).WarnContext(ctx, "home assistant connect failed, retrying", slog.Uint64("attempt", uint64(n+1)), slog.Any("error", err))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to home assistant: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.pending = make(map[int]chan message)
	c.events = make(map[int]func(json.RawMessage))
	c.mu.Unlock()

	go c.readLoop(ctx, conn, done)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{"User-Agent": {common.UserAgent()}}
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", c.wsURL, err)
	}
	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(c.timeout))
	defer conn.SetReadDeadline(time.Time{})

	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read auth request: %w", err)
	}
	if msg.Type != typeAuthRequired {
		return fmt.Errorf("unexpected message %q before auth", msg.Type)
	}
	if err := conn.WriteJSON(map[string]string{"type": typeAuth, "access_token": c.token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	switch msg.Type {
	case typeAuthOK:
		return nil
	case typeAuthInvalid:
		return retry.Unrecoverable(fmt.Errorf("%w: %s", ErrAuthInvalid, msg.Message))
	default:
		return fmt.Errorf("unexpected auth response %q", msg.Type)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			for _, ch := range c.pending {
				close(ch)
			}
			c.pending = nil
			c.events = nil
		}
		c.mu.Unlock()
		conn.Close()
		close(done)
	}()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				log.Ctx(ctx).WarnContext(ctx, "home assistant connection lost", slog.Any("error", err))
			}
			return
		}
		switch msg.Type {
		case typeResult:
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
		case typeEvent:
			c.mu.Lock()
			handler := c.events[msg.ID]
			c.mu.Unlock()
			if handler != nil {
				handler(msg.Event)
			}
		default:
			log.Ctx(ctx).DebugContext(ctx, "ignoring home assistant message", slog.String("type", msg.Type))
		}
	}
}

// Done returns a channel closed when the current connection is lost. It
// returns a closed channel when not connected.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close closes the current connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// call sends cmd and waits for its result. A non-nil handler receives every
// event sent for the command id afterwards.
func (c *Client) call(ctx context.Context, cmd map[string]any, handler func(json.RawMessage)) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	ch := make(chan message, 1)
	c.pending[id] = ch
	if handler != nil {
		c.events[id] = handler
	}
	c.mu.Unlock()

	cmd["id"] = id
	c.writeMu.Lock()
	err := conn.WriteJSON(cmd)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("failed to send %v: %w", cmd["type"], err)
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		if !msg.Success {
			c.forget(id)
			if msg.Error != nil {
				return nil, msg.Error
			}
			return nil, fmt.Errorf("%v failed", cmd["type"])
		}
		return msg.Result, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
	delete(c.events, id)
}

// States returns the current state of every entity.
func (c *Client) States(ctx context.Context) (types.States, error) {
	res, err := c.call(ctx, map[string]any{"type": typeGetStates}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get states: %w", err)
	}
	var entities []entityState
	if err := json.Unmarshal(res, &entities); err != nil {
		return nil, fmt.Errorf("failed to decode states: %w", err)
	}
	return toStates(entities), nil
}

// SubscribeStates calls fn for every state_changed event until the
// connection is lost. fn runs on the reader goroutine and must not block.
func (c *Client) SubscribeStates(ctx context.Context, fn func(id string, st types.State)) error {
	handler := func(raw json.RawMessage) {
		var ev stateChangedEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode state_changed event", slog.Any("error", err))
			return
		}
		if ev.Data.EntityID == "" {
			return
		}
		st := types.State{Value: stateUnavailable}
		if ev.Data.NewState != nil {
			st = ev.Data.NewState.toState()
		}
		fn(ev.Data.EntityID, st)
	}
	_, err := c.call(ctx, map[string]any{
		"type":       typeSubscribeEvents,
		"event_type": eventStateChanged,
	}, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to state changes: %w", err)
	}
	return nil
}

// StatisticsDuringPeriod implements stats.Source using
// recorder/statistics_during_period.
func (c *Client) StatisticsDuringPeriod(ctx context.Context, start, end time.Time, period types.Period, ids []string) (types.Statistics, error) {
	res, err := c.call(ctx, map[string]any{
		"type":          typeStatistics,
		"start_time":    start.UTC().Format(time.RFC3339Nano),
		"end_time":      end.UTC().Format(time.RFC3339Nano),
		"statistic_ids": ids,
		"period":        string(period),
		"types":         []string{"sum", "state"},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}
	var rows map[string][]statisticRow
	if err := json.Unmarshal(res, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode statistics: %w", err)
	}
	return toStatistics(rows), nil
}

// Run keeps a connection open until ctx is done. After every (re)connect the
// full state snapshot is pushed to sink followed by every state change.
func (c *Client) Run(ctx context.Context, sink Sink) error {
	ctx = log.Component(ctx, "hass")
	defer c.Close()
	for {
		if err := c.runOnce(ctx, sink); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrAuthInvalid) {
				return err
			}
			log.Ctx(ctx).ErrorContext(ctx, "home assistant session failed", slog.Any("error", err))
			c.restFallback(ctx, sink)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.delay):
		}
	}
}

// restFallback refreshes sink from the REST API while the websocket is down
// so the graph does not show stale values until the next reconnect.
func (c *Client) restFallback(ctx context.Context, sink Sink) {
	states, err := c.FetchStates(ctx)
	if err != nil {
		log.Ctx(ctx).DebugContext(ctx, "rest state fallback failed", slog.Any("error", err))
		return
	}
	sink.SetStates(states)
	log.Ctx(ctx).WarnContext(ctx, "using rest state snapshot", slog.Int("entities", len(states)))
}

func (c *Client) runOnce(ctx context.Context, sink Sink) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	done := c.Done()

	// subscribe first so no change between the snapshot and the subscription
	// is lost
	if err := c.SubscribeStates(ctx, sink.UpdateState); err != nil {
		c.Close()
		return err
	}
	states, err := c.States(ctx)
	if err != nil {
		c.Close()
		return err
	}
	sink.SetStates(states)
	log.Ctx(ctx).InfoContext(ctx, "connected to home assistant", slog.Int("entities", len(states)))

	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}
