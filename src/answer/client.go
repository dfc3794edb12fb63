package answer

import (
	"context"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ReconnectDelay is the fixed pause before redialing a dropped connection.
const ReconnectDelay = 3 * time.Second

// State is the connection state reported to OnState.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Client follows an answer server the way the page does.
type Client struct {
	URL            string
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	OnState        func(State)
}

// WSURL turns a server address ("host:port" or http(s) URL) into its /ws URL.
func WSURL(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String(), nil
}

// Run delivers every received message to handle and reconnects after a fixed
// delay until ctx is done. Messages with an unknown status are skipped.
func (c *Client) Run(ctx context.Context, handle func(Message)) error {
	delay := c.ReconnectDelay
	if delay <= 0 {
		delay = ReconnectDelay
	}
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	for {
		c.state(StateConnecting)
		ws, _, err := dialer.DialContext(ctx, c.URL, nil)
		if err == nil {
			c.state(StateConnected)
			c.read(ctx, ws, handle)
		} else {
			log.Printf("answer: dial %s: %v", c.URL, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.state(StateDisconnected)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) read(ctx context.Context, ws *websocket.Conn, handle func(Message)) {
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()
	defer ws.Close()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("answer: connection lost: %v", err)
			}
			return
		}
		msg := Decode(data)
		if !msg.Known() {
			log.Printf("answer: ignoring message with status %q", msg.Status)
			continue
		}
		handle(msg)
	}
}

func (c *Client) state(s State) {
	if c.OnState != nil {
		c.OnState(s)
	}
}
