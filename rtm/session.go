// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/rtm/lib/clock"
	"github.com/bureau-foundation/rtm/lib/version"
	"github.com/bureau-foundation/rtm/quest"
)

// Credentials authenticate a session with the gateway.
type Credentials struct {
	PID   int64
	UID   int64
	Token string

	// UnreadNotice asks the gateway for a pushunread summary after
	// authentication.
	UnreadNotice bool
}

// AuthCallback receives the outcome of a connect attempt.
type AuthCallback func(ok bool, err error)

// ExhaustedBudgetPolicy decides how a queued quest is sent when its
// whole timeout was spent waiting for the session to become ready.
type ExhaustedBudgetPolicy int

const (
	// ExhaustedFailFast fails the quest with quest.ErrTimeout without
	// sending it.
	ExhaustedFailFast ExhaustedBudgetPolicy = iota

	// ExhaustedUseDefaultTimeout sends the quest with the transport's
	// default timeout.
	ExhaustedUseDefaultTimeout
)

// Options configures a Session.
type Options struct {
	// Endpoint is a fixed gateway address. Ignored when Resolver is
	// set.
	Endpoint string

	// Resolver looks up the gateway before every connect attempt.
	Resolver Resolver

	// Cluster selects a gateway cluster through Resolver.
	Cluster string

	// Scheduler provides keepalive, the dedup filter, and auxiliary
	// connections. Required.
	Scheduler *Scheduler

	// QuestTimeout is the default for quests sent with a zero
	// timeout. Default: quest.DefaultQuestTimeout.
	QuestTimeout time.Duration

	ExhaustedBudget ExhaustedBudgetPolicy

	// NewTransport creates gateway transports. Default: plain quest
	// clients using Clock and Logger.
	NewTransport TransportFactory

	EventSink EventSink

	Clock  clock.Clock
	Logger *slog.Logger
}

// Session is an authenticated connection to a gateway that survives
// reconnects. Quests sent while a connect attempt is in flight are
// queued and flushed in order once the session is ready; every quest
// callback runs exactly once.
//
// All state is guarded by one mutex per session. Callbacks, transport
// calls, and scheduler calls happen outside it.
type Session struct {
	id           string
	endpoint     string
	resolver     Resolver
	cluster      string
	scheduler    *Scheduler
	router       *Router
	newTransport TransportFactory
	exhausted    ExhaustedBudgetPolicy
	clock        clock.Clock
	logger       *slog.Logger

	// registration orders scheduler Register and Unregister calls
	// between ready and Close. It is taken before mu.
	registration sync.Mutex

	mu     sync.Mutex
	status Status

	// changed is closed and replaced on every status transition.
	changed chan struct{}

	// attempt identifies the current connect attempt. Close bumps it
	// to abandon an attempt in flight.
	attempt uint64

	transport        Transport
	pending          *pendingQueue
	credentials      Credentials
	autoAuth         *Credentials
	autoAuthCallback AuthCallback
	questTimeout     time.Duration
	closedCallback   func(causedByError bool)
	lastErr          error
	registered       bool
}

// NewSession returns a closed session.
func NewSession(options Options) (*Session, error) {
	if options.Scheduler == nil {
		return nil, errors.New("rtm: session requires a scheduler")
	}
	if options.Endpoint == "" && options.Resolver == nil {
		return nil, errors.New("rtm: session requires an endpoint or a resolver")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.NewTransport == nil {
		options.NewTransport = QuestTransport(quest.ClientOptions{
			Clock:  options.Clock,
			Logger: options.Logger,
		})
	}

	id := uuid.NewString()
	logger := options.Logger.With("session", id)
	session := &Session{
		id:           id,
		endpoint:     options.Endpoint,
		resolver:     options.Resolver,
		cluster:      options.Cluster,
		scheduler:    options.Scheduler,
		router:       NewRouter(options.Scheduler.Filter(), logger),
		newTransport: options.NewTransport,
		exhausted:    options.ExhaustedBudget,
		clock:        options.Clock,
		logger:       logger,
		status:       StatusClosed,
		changed:      make(chan struct{}),
		pending:      newPendingQueue(),
		questTimeout: options.QuestTimeout,
	}
	session.router.onKickout = session.kickedOut
	session.router.SetEventSink(options.EventSink)
	return session, nil
}

// ID returns the session's process-unique identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the error of the most recent failed connect
// attempt, or nil after a successful one.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// UID returns the user id of the most recent connect attempt.
func (s *Session) UID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credentials.UID
}

// Endpoint returns the gateway endpoint of the current transport, or
// "" before the first connect.
func (s *Session) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return ""
	}
	return s.transport.Endpoint()
}

// QuestTimeout returns the timeout used for quests sent with zero.
func (s *Session) QuestTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questTimeoutLocked()
}

func (s *Session) questTimeoutLocked() time.Duration {
	if s.questTimeout > 0 {
		return s.questTimeout
	}
	return quest.DefaultQuestTimeout
}

// SetQuestTimeout changes the default quest timeout. Zero restores
// quest.DefaultQuestTimeout.
func (s *Session) SetQuestTimeout(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questTimeout = timeout
}

// SetEventSink replaces the receiver of decoded pushes.
func (s *Session) SetEventSink(sink EventSink) {
	s.router.SetEventSink(sink)
}

// SetClosedCallback registers a function called whenever the gateway
// connection closes. causedByError is false for a local close or an
// orderly close by the gateway.
func (s *Session) SetClosedCallback(callback func(causedByError bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedCallback = callback
}

// EnableAutoAuth stores credentials for automatic reconnection: a
// quest sent while the session is Closed or AuthFailed first
// reconnects with them. callback, if not nil, receives the outcome of
// every automatic attempt.
func (s *Session) EnableAutoAuth(credentials Credentials, callback AuthCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoAuth = &credentials
	s.autoAuthCallback = callback
}

// DisableAutoAuth turns automatic reconnection off.
func (s *Session) DisableAutoAuth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoAuth = nil
	s.autoAuthCallback = nil
}

func (s *Session) gatewayService() string {
	if s.cluster == "" {
		return gatewayService
	}
	return gatewayService + "@" + s.cluster
}

// setStatusLocked records a transition and wakes every waiter.
func (s *Session) setStatusLocked(status Status) {
	s.status = status
	close(s.changed)
	s.changed = make(chan struct{})
}

// waitSettled blocks until no connect attempt is in flight and
// returns the resulting status.
func (s *Session) waitSettled(ctx context.Context) (Status, error) {
	for {
		s.mu.Lock()
		status, changed := s.status, s.changed
		s.mu.Unlock()
		if !status.transient() {
			return status, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return status, ctx.Err()
		}
	}
}

// Connect starts authenticating with credentials and returns without
// waiting. callback receives the outcome. Only a Closed or AuthFailed
// session starts an attempt: in any other status the call changes
// nothing and reports ErrDuplicatedAuth.
func (s *Session) Connect(credentials Credentials, callback AuthCallback) {
	if callback == nil {
		callback = func(bool, error) {}
	}
	if credentials.Token == "" {
		s.mu.Lock()
		s.lastErr = ErrEmptyToken
		s.mu.Unlock()
		callback(false, ErrEmptyToken)
		return
	}

	attempt, err := s.beginAttempt(credentials)
	if err != nil {
		callback(false, err)
		return
	}
	go s.establish(attempt, credentials, callback)
}

type authResult struct {
	ok  bool
	err error
}

// ConnectSync connects and waits until the session is Ready (true) or
// the attempt failed (false with the error). When the session is
// already Ready, or another attempt is in flight, it does not start a
// new one and instead waits for the session to settle.
func (s *Session) ConnectSync(ctx context.Context, credentials Credentials) (bool, error) {
	results := make(chan authResult, 1)
	s.Connect(credentials, func(ok bool, err error) {
		results <- authResult{ok: ok, err: err}
	})
	var result authResult
	select {
	case result = <-results:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	if !errors.Is(result.err, ErrDuplicatedAuth) {
		return result.ok, result.err
	}

	status, err := s.waitSettled(ctx)
	if err != nil {
		return false, err
	}
	if status == StatusReady {
		return true, nil
	}
	if err := s.LastError(); err != nil {
		return false, err
	}
	return false, quest.ErrConnectionClosed
}

func (s *Session) beginAttempt(credentials Credentials) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.status.terminal() {
		return 0, ErrDuplicatedAuth
	}
	s.attempt++
	s.credentials = credentials
	if s.resolver != nil {
		s.setStatusLocked(StatusResolvingGateway)
	} else {
		s.setStatusLocked(StatusConnecting)
	}
	return s.attempt, nil
}

// advance moves an attempt to its next status. It reports false if the
// attempt was abandoned by Close.
func (s *Session) advance(attempt uint64, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != attempt {
		return false
	}
	s.setStatusLocked(status)
	return true
}

// attach makes transport the session's current transport.
func (s *Session) attach(attempt uint64, transport Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != attempt {
		return false
	}
	s.transport = transport
	return true
}

// establish runs one connect attempt: resolve, connect, authenticate.
func (s *Session) establish(attempt uint64, credentials Credentials, callback AuthCallback) {
	timeout := s.QuestTimeout()

	endpoint := s.endpoint
	if s.resolver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		resolved, err := s.resolver.Resolve(ctx, s.gatewayService())
		cancel()
		if err != nil {
			s.logger.Warn("resolving gateway failed", "service", s.gatewayService(), "error", err)
			s.fail(attempt, StatusClosed, connectionError("resolving gateway", err), nil, callback)
			return
		}
		endpoint = resolved
		if !s.advance(attempt, StatusConnecting) {
			callback(false, quest.ErrConnectionClosed)
			return
		}
	}

	transport := s.newTransport(endpoint)
	transport.SetQuestProcessor(s.router.Process)
	transport.SetWillCloseCallback(func(peer string, causedByError bool) {
		s.transportWillClose(attempt, transport, causedByError)
	})
	if !s.attach(attempt, transport) {
		callback(false, quest.ErrConnectionClosed)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	err := transport.Connect(ctx)
	cancel()
	if err != nil {
		s.logger.Warn("connecting to gateway failed", "endpoint", endpoint, "error", err)
		s.fail(attempt, StatusClosed, connectionError("connecting to gateway", err), transport, callback)
		return
	}
	if !s.advance(attempt, StatusAuthenticating) {
		transport.Close()
		callback(false, quest.ErrConnectionClosed)
		return
	}

	auth := quest.NewQuest("auth").
		Param("pid", credentials.PID).
		Param("uid", credentials.UID).
		Param("token", credentials.Token).
		Param("version", version.ClientVersion()).
		Param("unread", credentials.UnreadNotice)
	answer, err := transport.SendQuestSync(context.Background(), auth, timeout)
	if err != nil {
		s.logger.Warn("authentication failed", "endpoint", endpoint, "uid", credentials.UID, "error", err)
		s.fail(attempt, StatusClosed, err, transport, callback)
		return
	}
	ok, err := answer.Params.WantBool("ok")
	if err != nil {
		s.fail(attempt, StatusClosed, quest.NewError(quest.CodeDecoding, "auth answer: %v", err), transport, callback)
		return
	}
	if !ok {
		s.logger.Warn("authentication rejected", "endpoint", endpoint, "uid", credentials.UID)
		s.fail(attempt, StatusAuthFailed, ErrAuthRejected, transport, callback)
		return
	}
	s.ready(attempt, transport, credentials, callback)
}

// fail ends an attempt: it records status and err, fails every queued
// quest with err, closes transport, and reports to callback.
func (s *Session) fail(attempt uint64, status Status, err error, transport Transport, callback AuthCallback) {
	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		if transport != nil {
			transport.Close()
		}
		callback(false, err)
		return
	}
	s.setStatusLocked(status)
	s.lastErr = err
	queued := s.pending.drain()
	s.mu.Unlock()

	for _, item := range queued {
		item.callback(nil, err)
	}
	if transport != nil {
		transport.Close()
	}
	callback(false, err)
}

// ready completes a successful attempt: Ready, then the auth callback,
// then the queued quests in order.
func (s *Session) ready(attempt uint64, transport Transport, credentials Credentials, callback AuthCallback) {
	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		transport.Close()
		callback(false, quest.ErrConnectionClosed)
		return
	}
	s.setStatusLocked(StatusReady)
	s.lastErr = nil
	queued := s.pending.drain()
	base := s.questTimeoutLocked()
	s.mu.Unlock()

	s.register(attempt)
	s.logger.Info("session ready", "endpoint", transport.Endpoint(), "uid", credentials.UID, "queued", len(queued))
	callback(true, nil)
	s.flush(queued, transport, base)
}

// register adds the session to the scheduler once per Ready after a
// Close. Nothing is registered for an attempt Close has abandoned.
func (s *Session) register(attempt uint64) {
	s.registration.Lock()
	defer s.registration.Unlock()

	s.mu.Lock()
	if s.attempt != attempt || s.registered {
		s.mu.Unlock()
		return
	}
	s.registered = true
	s.mu.Unlock()
	s.scheduler.Register(s)
}

// flush sends queued quests with their timeouts reduced by the time
// they spent queued.
func (s *Session) flush(queued []pendingQuest, transport Transport, base time.Duration) {
	now := s.clock.Now()
	for _, item := range queued {
		remaining := quest.Expired
		if item.timeout >= 0 {
			budget := item.timeout
			if budget == 0 {
				budget = base
			}
			remaining = budget - now.Sub(item.enqueued)
		}
		if remaining <= 0 {
			remaining = quest.Expired
			if s.exhausted == ExhaustedUseDefaultTimeout {
				remaining = 0
			}
		}
		transport.SendQuest(item.quest, item.callback, remaining)
	}
}

// transportWillClose handles a closing gateway connection opened by
// attempt. It waits for that attempt to settle so the close is never
// processed in the middle of a connect. The closed callback runs for
// every transport, but only the current one changes the status.
func (s *Session) transportWillClose(attempt uint64, transport Transport, causedByError bool) {
	s.mu.Lock()
	for s.attempt == attempt && s.status.transient() {
		changed := s.changed
		s.mu.Unlock()
		<-changed
		s.mu.Lock()
	}
	var queued []pendingQuest
	current := s.attempt == attempt && s.transport == transport
	if current && s.status == StatusReady {
		s.setStatusLocked(StatusClosed)
		queued = s.pending.drain()
	}
	callback := s.closedCallback
	s.mu.Unlock()

	for _, item := range queued {
		item.callback(nil, quest.ErrConnectionClosed)
	}
	if causedByError {
		s.logger.Warn("gateway connection lost", "endpoint", transport.Endpoint())
	} else {
		s.logger.Info("gateway connection closed", "endpoint", transport.Endpoint())
	}
	if callback != nil {
		callback(causedByError)
	}
}

// kickedOut runs after a kickout push: automatic reconnection is
// turned off so the session does not fight the login that displaced
// it, and the connection is closed.
func (s *Session) kickedOut() {
	s.mu.Lock()
	transport := s.transport
	s.autoAuth = nil
	s.autoAuthCallback = nil
	s.mu.Unlock()

	s.logger.Warn("kicked out by gateway")
	if transport != nil {
		transport.Close()
	}
}

// Close closes the session: any attempt in flight is abandoned,
// queued quests fail with quest.ErrConnectionClosed, automatic
// reconnection is turned off, and the session leaves the scheduler.
// A closed session can Connect again.
func (s *Session) Close() {
	s.registration.Lock()
	s.mu.Lock()
	s.attempt++
	transport := s.transport
	unregister := s.registered
	s.registered = false
	s.autoAuth = nil
	s.autoAuthCallback = nil
	queued := s.pending.drain()
	if s.status != StatusClosed {
		s.setStatusLocked(StatusClosed)
	}
	s.mu.Unlock()
	if unregister {
		s.scheduler.Unregister(s)
	}
	s.registration.Unlock()

	for _, item := range queued {
		item.callback(nil, quest.ErrConnectionClosed)
	}
	if transport != nil {
		transport.Close()
	}
}

// SendQuest sends q through the session and calls callback exactly
// once. When Ready the quest goes straight to the transport; while a
// connect attempt is in flight it is queued. When Closed or
// AuthFailed the session first reconnects if auto-auth is enabled,
// and otherwise fails the quest with quest.ErrInvalidConnection.
//
// A zero timeout uses QuestTimeout. Time spent queued counts against
// the timeout.
func (s *Session) SendQuest(q *quest.Quest, callback quest.AnswerCallback, timeout time.Duration) {
	if callback == nil {
		callback = func(*quest.Answer, error) {}
	}
	if s.trySend(q, callback, timeout) {
		return
	}

	s.mu.Lock()
	credentials := s.autoAuth
	authCallback := s.autoAuthCallback
	s.mu.Unlock()
	if credentials == nil {
		callback(nil, quest.ErrInvalidConnection)
		return
	}

	// The attempt moves the session to a transient status before
	// Connect returns, so the retry below queues behind it.
	s.Connect(*credentials, func(ok bool, err error) {
		if err != nil && !errors.Is(err, ErrDuplicatedAuth) {
			s.logger.Warn("automatic reconnect failed", "error", err)
		}
		if authCallback != nil {
			authCallback(ok, err)
		}
	})
	if s.trySend(q, callback, timeout) {
		return
	}
	if err := s.LastError(); err != nil {
		callback(nil, err)
		return
	}
	callback(nil, quest.ErrInvalidConnection)
}

// trySend dispatches or queues q. It reports false, without calling
// callback, when the session is Closed or AuthFailed.
func (s *Session) trySend(q *quest.Quest, callback quest.AnswerCallback, timeout time.Duration) bool {
	s.mu.Lock()
	switch {
	case s.status == StatusReady:
		transport := s.transport
		if timeout == 0 {
			timeout = s.questTimeoutLocked()
		}
		s.mu.Unlock()
		transport.SendQuest(q, callback, timeout)
		return true

	case s.status.transient():
		s.pending.push(pendingQuest{
			quest:    q,
			callback: callback,
			timeout:  timeout,
			enqueued: s.clock.Now(),
		})
		s.mu.Unlock()
		return true

	default:
		s.mu.Unlock()
		return false
	}
}

// SendQuestSync sends q and waits for its outcome or for ctx to end.
func (s *Session) SendQuestSync(ctx context.Context, q *quest.Quest, timeout time.Duration) (*quest.Answer, error) {
	results := make(chan answerResult, 1)
	s.SendQuest(q, func(answer *quest.Answer, err error) {
		results <- answerResult{answer: answer, err: err}
	}, timeout)
	select {
	case result := <-results:
		return result.answer, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type answerResult struct {
	answer *quest.Answer
	err    error
}

// Bye asks the gateway to end the session. It succeeds at once when
// the session is already Closed or AuthFailed, and is queued like any
// quest while connecting.
func (s *Session) Bye(callback func(err error), timeout time.Duration) {
	if callback == nil {
		callback = func(error) {}
	}
	if s.Status().terminal() {
		callback(nil)
		return
	}
	s.SendQuest(quest.NewQuest("bye"), func(_ *quest.Answer, err error) {
		callback(err)
	}, timeout)
}

// ByeSync waits for any connect attempt to settle, then sends a
// one-way bye if the session is Ready.
func (s *Session) ByeSync(ctx context.Context) error {
	status, err := s.waitSettled(ctx)
	if err != nil {
		return err
	}
	if status != StatusReady {
		return nil
	}
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()

	results := make(chan error, 1)
	transport.SendQuest(quest.NewOneWayQuest("bye"), func(_ *quest.Answer, err error) {
		results <- err
	}, 0)
	select {
	case err := <-results:
		if err != nil {
			return fmt.Errorf("sending bye: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping sends a keepalive quest if the session is Ready. It does not
// block and never reconnects.
func (s *Session) Ping() {
	s.mu.Lock()
	if s.status != StatusReady {
		s.mu.Unlock()
		return
	}
	transport := s.transport
	timeout := s.questTimeoutLocked()
	s.mu.Unlock()

	transport.SendQuest(quest.NewQuest("ping"), func(_ *quest.Answer, err error) {
		if err != nil {
			s.logger.Debug("keepalive ping failed", "error", err)
		}
	}, timeout)
}
