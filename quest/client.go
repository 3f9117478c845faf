// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package quest

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/rtm/lib/clock"
)

const (
	// DefaultQuestTimeout applies when a quest is sent with a zero
	// timeout and the sender has no default of its own.
	DefaultQuestTimeout = 30 * time.Second

	defaultDialTimeout = 5 * time.Second
)

// ClientOptions configures a Client. The zero value is usable.
type ClientOptions struct {
	// Clock drives quest timeouts. Default: clock.Real().
	Clock clock.Clock

	// Logger receives connection diagnostics. Default: discard.
	Logger *slog.Logger

	// DialTimeout bounds dialing plus the encryption handshake.
	// Default: 5s.
	DialTimeout time.Duration

	// QuestTimeout is used for quests sent with a zero timeout.
	// Default: DefaultQuestTimeout.
	QuestTimeout time.Duration

	// AutoConnect dials on the first quest sent while disconnected
	// instead of failing it with ErrInvalidConnection.
	AutoConnect bool

	// ServerPublicKey enables encryption: the client performs an
	// X25519 handshake against this key before any quest is sent.
	ServerPublicKey []byte
}

// Client is the dialing end of a quest connection. A Client can be
// reconnected after its connection closes; callbacks and the quest
// processor persist across connections.
type Client struct {
	endpoint        string
	clock           clock.Clock
	logger          *slog.Logger
	dialTimeout     time.Duration
	questTimeout    time.Duration
	autoConnect     bool
	serverPublicKey []byte

	// connectMu serializes dials so concurrent Connect calls share one
	// connection.
	connectMu sync.Mutex

	mu                sync.Mutex
	link              *link
	connectedCallback func(peer string, connected bool)
	willCloseCallback func(peer string, causedByError bool)
	processor         QuestProcessor
}

// NewClient returns a disconnected client for endpoint (host:port).
func NewClient(endpoint string, options ClientOptions) *Client {
	client := &Client{
		endpoint:        endpoint,
		clock:           options.Clock,
		logger:          options.Logger,
		dialTimeout:     options.DialTimeout,
		questTimeout:    options.QuestTimeout,
		autoConnect:     options.AutoConnect,
		serverPublicKey: options.ServerPublicKey,
	}
	if client.clock == nil {
		client.clock = clock.Real()
	}
	if client.logger == nil {
		client.logger = slog.New(slog.DiscardHandler)
	}
	if client.dialTimeout <= 0 {
		client.dialTimeout = defaultDialTimeout
	}
	if client.questTimeout <= 0 {
		client.questTimeout = DefaultQuestTimeout
	}
	return client
}

// Endpoint returns the address the client dials.
func (c *Client) Endpoint() string { return c.endpoint }

// SetConnectedCallback registers a function called after every
// connect attempt with its outcome.
func (c *Client) SetConnectedCallback(callback func(peer string, connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectedCallback = callback
}

// SetWillCloseCallback registers a function called when a connection
// closes, after its pending quests have been failed. causedByError is
// false for a local Close or an orderly close by the peer.
func (c *Client) SetWillCloseCallback(callback func(peer string, causedByError bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.willCloseCallback = callback
}

// SetQuestProcessor registers the handler for quests the server
// pushes.
func (c *Client) SetQuestProcessor(processor QuestProcessor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processor = processor
}

// IsConnected reports whether a connection is currently established.
func (c *Client) IsConnected() bool {
	l := c.currentLink()
	return l != nil && !l.isClosed()
}

func (c *Client) currentLink() *link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

// Connect dials the endpoint and completes the encryption handshake if
// one is configured. It returns nil immediately if already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.IsConnected() {
		return nil
	}

	conn, cipher, err := c.dial(ctx)
	if err != nil {
		c.notifyConnected(false)
		return fmt.Errorf("connecting to %s: %w", c.endpoint, err)
	}

	l := newLink(conn, cipher, c.clock, c.logger, c.processQuest, nil)
	l.onClose = func(causedByError bool) { c.linkClosed(l, causedByError) }

	c.mu.Lock()
	c.link = l
	c.mu.Unlock()

	go l.run()
	c.logger.Debug("connected", "endpoint", c.endpoint, "encrypted", cipher != nil)
	c.notifyConnected(true)
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, *cipherState, error) {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.endpoint)
	if err != nil {
		return nil, nil, err
	}
	if c.serverPublicKey == nil {
		return conn, nil, nil
	}

	conn.SetDeadline(time.Now().Add(c.dialTimeout))
	cipher, err := clientHandshake(conn, c.serverPublicKey)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("encryption handshake: %w", err)
	}
	conn.SetDeadline(time.Time{})
	return conn, cipher, nil
}

func (c *Client) notifyConnected(connected bool) {
	c.mu.Lock()
	callback := c.connectedCallback
	c.mu.Unlock()
	if callback != nil {
		callback(c.endpoint, connected)
	}
}

func (c *Client) linkClosed(l *link, causedByError bool) {
	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	callback := c.willCloseCallback
	c.mu.Unlock()

	c.logger.Debug("connection closed", "endpoint", c.endpoint, "caused_by_error", causedByError)
	if callback != nil {
		callback(c.endpoint, causedByError)
	}
}

func (c *Client) processQuest(q *Quest, respond Responder) {
	c.mu.Lock()
	processor := c.processor
	c.mu.Unlock()
	if processor == nil {
		respond(NewErrorAnswer(CodeUnknownMethod, fmt.Sprintf("no processor for %q", q.Method)))
		return
	}
	processor(q, respond)
}

// SendQuest sends q and calls callback exactly once with the outcome.
// A zero timeout uses the client default; a negative timeout (see
// Expired) fails with ErrTimeout without sending.
func (c *Client) SendQuest(q *Quest, callback AnswerCallback, timeout time.Duration) {
	if callback == nil {
		callback = func(*Answer, error) {}
	}
	if timeout == 0 {
		timeout = c.questTimeout
	}
	if timeout < 0 {
		callback(nil, ErrTimeout)
		return
	}

	if l := c.currentLink(); l != nil {
		l.sendQuest(q, callback, timeout)
		return
	}
	if !c.autoConnect {
		callback(nil, ErrInvalidConnection)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
		defer cancel()
		if err := c.Connect(ctx); err != nil {
			callback(nil, &Error{Code: CodeInvalidConnection, Message: err.Error()})
			return
		}
		l := c.currentLink()
		if l == nil {
			callback(nil, ErrConnectionClosed)
			return
		}
		l.sendQuest(q, callback, timeout)
	}()
}

// SendQuestSync sends q and waits for its outcome or for ctx to end.
func (c *Client) SendQuestSync(ctx context.Context, q *Quest, timeout time.Duration) (*Answer, error) {
	return waitAnswer(ctx, func(callback AnswerCallback) {
		c.SendQuest(q, callback, timeout)
	})
}

// Close closes the current connection, if any. Pending quests fail
// with ErrConnectionClosed and the will-close callback runs with
// causedByError false. Close does not wait for that to happen.
func (c *Client) Close() {
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.mu.Unlock()
	if l != nil {
		l.close()
	}
}

type answerResult struct {
	answer *Answer
	err    error
}

func waitAnswer(ctx context.Context, send func(AnswerCallback)) (*Answer, error) {
	results := make(chan answerResult, 1)
	send(func(answer *Answer, err error) {
		results <- answerResult{answer: answer, err: err}
	})
	select {
	case result := <-results:
		return result.answer, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
