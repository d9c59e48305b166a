// Package client implements the agent side of the relay protocol: connect,
// authenticate, register as the liveness agent for one user, then stream
// probability scores while the relay says the user is in a meeting.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/MaxwellShipley/OS-zoom-app/internal/protocol"
)

// ScoreSource produces the next pair of probability components to report.
type ScoreSource func() (float64, float64)

// Options configures a Client.
type Options struct {
	// ServerURL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	ServerURL string

	// Interval between score reports while streaming. Defaults to one
	// second, matching the deployed agents.
	Interval time.Duration

	// Scores supplies the probability components. Required if streaming
	// is expected to start.
	Scores ScoreSource

	// Optional hooks, called from the read loop.
	OnStart func(meetingID string)
	OnStop  func()

	Logger zerolog.Logger
}

// Client is one agent connection to the relay.
type Client struct {
	opts Options
	sock *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	userID    string
	meetingID string
	authErr   chan error
	stopTick  chan struct{}
}

// Dial connects to the relay.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	sock, _, err := websocket.DefaultDialer.DialContext(ctx, opts.ServerURL, nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		opts:    opts,
		sock:    sock,
		authErr: make(chan error, 1),
	}, nil
}

// Run reads packets until the connection closes or ctx is done. It drives
// the whole agent lifecycle: AUTH_OK triggers registration, JOIN_INFO
// records the meeting, START begins streaming, STOP ends it.
func (c *Client) Run(ctx context.Context) error {
	defer c.stopStreaming()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.sock.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := c.sock.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.handleMessage(payload)
	}
}

// Login sends credentials. The result arrives on the Run loop; callers can
// wait for it with AwaitLogin.
func (c *Client) Login(username, password string) error {
	return c.sendPacket(protocol.CmdAuthenticate, protocol.AuthRequest{
		Username: username,
		Password: password,
	})
}

// AwaitLogin blocks until the relay answers the last Login.
func (c *Client) AwaitLogin(ctx context.Context) error {
	select {
	case err := <-c.authErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendScore reports one score pair immediately. Values are quantized to
// two decimals, the same as the relay will rebroadcast them.
func (c *Client) SendScore(prob1, prob2 float64) error {
	c.mu.Lock()
	userID, meetingID := c.userID, c.meetingID
	c.mu.Unlock()
	if userID == "" || meetingID == "" {
		return errors.New("client: not ready to send (no user or meeting)")
	}
	if prob1 < 0 || prob1 > 1 || prob2 < 0 || prob2 > 1 {
		return fmt.Errorf("client: probabilities out of range: %v, %v", prob1, prob2)
	}
	p1 := round2(prob1)
	p2 := round2(prob2)
	return c.sendPacket(protocol.CmdScore, protocol.ScoreReport{
		MeetingID: meetingID,
		UserID:    userID,
		Prob1:     &p1,
		Prob2:     &p2,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// SignOut stops streaming, releases the registration, and disconnects.
func (c *Client) SignOut() error {
	c.mu.Lock()
	userID, meetingID := c.userID, c.meetingID
	c.userID = ""
	c.meetingID = ""
	c.mu.Unlock()
	c.stopStreaming()

	if userID != "" {
		if meetingID != "" {
			_ = c.sendPacket(protocol.CmdStopStream, protocol.StreamRef{
				MeetingID: meetingID,
				UserID:    userID,
			})
		}
		_ = c.sendPacket(protocol.CmdUnregisterAgent, protocol.AgentRef{UserID: userID})
	}
	return c.sock.Close()
}

// Close drops the connection without the polite sign-out exchange.
func (c *Client) Close() error {
	c.stopStreaming()
	return c.sock.Close()
}

// UserID returns the authenticated user identity, if any.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// MeetingID returns the meeting the relay last announced, if any.
func (c *Client) MeetingID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meetingID
}

func (c *Client) handleMessage(payload []byte) {
	pkt, err := protocol.Decode(payload)
	if err != nil {
		// Could be a side-channel event envelope; agents ignore those.
		return
	}
	c.opts.Logger.Debug().Stringer("cmd", pkt.Cmd).Msg("packet received")

	switch pkt.Cmd {
	case protocol.CmdAuthOK:
		var ok protocol.AuthOK
		_ = json.Unmarshal(pkt.Data, &ok)
		c.mu.Lock()
		c.userID = ok.UserID
		c.mu.Unlock()
		// Register immediately so the relay can route start/stop to us.
		_ = c.sendPacket(protocol.CmdRegisterAgent, protocol.AgentRef{UserID: ok.UserID})
		c.deliverAuth(nil)

	case protocol.CmdAuthFail:
		var info protocol.ErrorInfo
		_ = json.Unmarshal(pkt.Data, &info)
		c.deliverAuth(fmt.Errorf("client: login rejected: %s", info.Error))

	case protocol.CmdJoin:
		var join protocol.JoinRequest
		_ = json.Unmarshal(pkt.Data, &join)
		c.mu.Lock()
		c.meetingID = join.MeetingID
		c.mu.Unlock()

	case protocol.CmdStartStream:
		c.startStreaming()
		if c.opts.OnStart != nil {
			c.opts.OnStart(c.MeetingID())
		}

	case protocol.CmdStopStream:
		c.stopStreaming()
		if c.opts.OnStop != nil {
			c.opts.OnStop()
		}
	}
}

func (c *Client) startStreaming() {
	if c.opts.Scores == nil {
		return
	}
	c.mu.Lock()
	if c.stopTick != nil {
		c.mu.Unlock()
		return // already streaming
	}
	stop := make(chan struct{})
	c.stopTick = stop
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p1, p2 := c.opts.Scores()
				if err := c.SendScore(p1, p2); err != nil {
					c.opts.Logger.Debug().Err(err).Msg("score not sent")
				}
			case <-stop:
				return
			}
		}
	}()
}

func (c *Client) stopStreaming() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopTick != nil {
		close(c.stopTick)
		c.stopTick = nil
	}
}

func (c *Client) deliverAuth(err error) {
	select {
	case c.authErr <- err:
	default:
	}
}

func (c *Client) sendPacket(cmd protocol.Command, payload any) error {
	pkt := protocol.NewPacket(cmd, payload)
	data, err := json.Marshal(pkt)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sock.WriteMessage(websocket.TextMessage, data)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
