// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package quest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/rtm/lib/clock"
)

// HandlerFunc answers one quest method. The returned Params become the
// answer; a returned error becomes an error answer, keeping the code
// of an *Error and using CodeUnknown otherwise. Results of one-way
// quests are discarded.
type HandlerFunc func(ctx context.Context, conn *ServerConn, q *Quest) (Params, error)

// ServerOptions configures a Server. The zero value is usable.
type ServerOptions struct {
	Clock  clock.Clock
	Logger *slog.Logger

	// PrivateKey requires every client to complete the X25519
	// handshake against this key.
	PrivateKey []byte

	// QuestTimeout is used for pushes sent with a zero timeout.
	// Default: DefaultQuestTimeout.
	QuestTimeout time.Duration

	// OnClose runs after a connection closes.
	OnClose func(conn *ServerConn)
}

// Server accepts quest connections and routes incoming quests to
// handlers registered by method name. Register handlers with Handle
// before calling Serve.
type Server struct {
	clock        clock.Clock
	logger       *slog.Logger
	privateKey   []byte
	questTimeout time.Duration
	onClose      func(*ServerConn)
	handlers     map[string]HandlerFunc

	mu          sync.Mutex
	connections map[*ServerConn]struct{}

	activeConnections sync.WaitGroup
}

// NewServer returns a server with no handlers.
func NewServer(options ServerOptions) *Server {
	server := &Server{
		clock:        options.Clock,
		logger:       options.Logger,
		privateKey:   options.PrivateKey,
		questTimeout: options.QuestTimeout,
		onClose:      options.OnClose,
		handlers:     make(map[string]HandlerFunc),
		connections:  make(map[*ServerConn]struct{}),
	}
	if server.clock == nil {
		server.clock = clock.Real()
	}
	if server.logger == nil {
		server.logger = slog.New(slog.DiscardHandler)
	}
	if server.questTimeout <= 0 {
		server.questTimeout = DefaultQuestTimeout
	}
	return server
}

// Handle registers handler for method. Panics on a duplicate method.
func (s *Server) Handle(method string, handler HandlerFunc) {
	if _, exists := s.handlers[method]; exists {
		panic(fmt.Sprintf("quest.Server: duplicate handler for method %q", method))
	}
	s.handlers[method] = handler
}

// Serve accepts connections on listener until ctx is cancelled, then
// closes every connection and waits for their read loops to finish.
// The listener is closed on return.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("quest server listening", "address", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.serveConnection(ctx, conn)
		}()
	}

	s.mu.Lock()
	for connection := range s.connections {
		connection.Close()
	}
	s.mu.Unlock()

	s.activeConnections.Wait()
	return nil
}

// handshakeTimeout bounds the wait for a client's handshake frame.
const handshakeTimeout = 10 * time.Second

func (s *Server) serveConnection(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()

	var cipher *cipherState
	if s.privateKey != nil {
		conn.SetDeadline(time.Now().Add(handshakeTimeout))
		state, err := serverHandshake(conn, s.privateKey)
		if err != nil {
			s.logger.Warn("handshake failed", "remote", remote, "error", err)
			conn.Close()
			return
		}
		conn.SetDeadline(time.Time{})
		cipher = state
	}

	serverConn := &ServerConn{server: s, remote: remote, values: make(map[string]any)}
	serverConn.link = newLink(conn, cipher, s.clock, s.logger, func(q *Quest, respond Responder) {
		s.route(ctx, serverConn, q, respond)
	}, func(bool) {
		s.mu.Lock()
		delete(s.connections, serverConn)
		s.mu.Unlock()
		if s.onClose != nil {
			s.onClose(serverConn)
		}
	})

	s.mu.Lock()
	s.connections[serverConn] = struct{}{}
	s.mu.Unlock()
	if ctx.Err() != nil {
		// Serve is already closing connections and may have missed
		// this one.
		serverConn.Close()
	}

	s.logger.Debug("connection accepted", "remote", remote, "encrypted", cipher != nil)
	serverConn.link.run()
}

func (s *Server) route(ctx context.Context, conn *ServerConn, q *Quest, respond Responder) {
	handler, exists := s.handlers[q.Method]
	if !exists {
		respond(NewErrorAnswer(CodeUnknownMethod, fmt.Sprintf("unknown method %q", q.Method)))
		return
	}
	params, err := handler(ctx, conn, q)
	if err != nil {
		s.logger.Debug("quest failed", "method", q.Method, "error", err)
		respond(&Answer{Err: asError(err)})
		return
	}
	if params == nil {
		params = Params{}
	}
	respond(&Answer{Params: params})
}

// ServerConn is one accepted connection. Handlers use it to push
// quests back to the client and to keep per-connection state.
type ServerConn struct {
	server *Server
	remote string
	link   *link

	mu     sync.Mutex
	values map[string]any
}

// RemoteAddr returns the client's address.
func (c *ServerConn) RemoteAddr() string { return c.remote }

// SetValue stores per-connection state such as the authenticated
// user.
func (c *ServerConn) SetValue(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Value returns state stored with SetValue.
func (c *ServerConn) Value(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.values[key]
	return value, ok
}

// SendQuest pushes q to the client. Timeout semantics match
// Client.SendQuest.
func (c *ServerConn) SendQuest(q *Quest, callback AnswerCallback, timeout time.Duration) {
	if callback == nil {
		callback = func(*Answer, error) {}
	}
	if timeout == 0 {
		timeout = c.server.questTimeout
	}
	c.link.sendQuest(q, callback, timeout)
}

// SendQuestSync pushes q and waits for the client's answer.
func (c *ServerConn) SendQuestSync(ctx context.Context, q *Quest, timeout time.Duration) (*Answer, error) {
	return waitAnswer(ctx, func(callback AnswerCallback) {
		c.SendQuest(q, callback, timeout)
	})
}

// Close closes the connection.
func (c *ServerConn) Close() { c.link.close() }

// Done is closed once the connection has fully shut down.
func (c *ServerConn) Done() <-chan struct{} { return c.link.done }
