// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/rtm/lib/clock"
	"github.com/bureau-foundation/rtm/quest"
)

const (
	// DefaultPingInterval is how long a registered session may go
	// without a keepalive ping.
	DefaultPingInterval = 20 * time.Second

	// DefaultAuxiliaryRetention is how long an auxiliary connection
	// survives past its last requested expiry.
	DefaultAuxiliaryRetention = 10 * time.Minute

	// tickInterval is the fixed maintenance period.
	tickInterval = time.Second
)

// Pinger is a session the scheduler keeps alive.
type Pinger interface {
	// Ping sends a keepalive without blocking.
	Ping()
}

// SchedulerOptions configures a Scheduler. The zero value is usable.
type SchedulerOptions struct {
	Clock  clock.Clock
	Logger *slog.Logger

	// Default: DefaultPingInterval.
	PingInterval time.Duration

	// Default: DefaultDedupRetention.
	DedupRetention time.Duration

	// Default: DefaultAuxiliaryRetention.
	AuxiliaryRetention time.Duration

	// Dial creates auxiliary transports. It must not block; the
	// returned transport connects on first use. Default: auto-connect
	// quest clients.
	Dial TransportFactory
}

type registration struct {
	lastPing   time.Time
	references int
}

type auxiliaryConnection struct {
	transport Transport
	expiry    time.Time
}

// Scheduler owns the state shared by every session in a process: the
// dedup filter, keepalive registrations, and cached auxiliary
// connections to file gateways. One background loop maintains all of
// it, ticking once a second.
//
// The loop starts on first use (or Start) and runs until Stop. Stop is
// final: a stopped scheduler does not restart.
type Scheduler struct {
	clock              clock.Clock
	logger             *slog.Logger
	dial               TransportFactory
	filter             *DedupFilter
	auxiliaryRetention time.Duration

	mu           sync.Mutex
	pingInterval time.Duration
	registry     map[Pinger]*registration
	auxiliary    map[string]*auxiliaryConnection
	started      bool
	stopped      bool
	stop         chan struct{}
	done         chan struct{}
}

// NewScheduler returns a scheduler whose loop has not started.
func NewScheduler(options SchedulerOptions) *Scheduler {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.PingInterval <= 0 {
		options.PingInterval = DefaultPingInterval
	}
	if options.AuxiliaryRetention <= 0 {
		options.AuxiliaryRetention = DefaultAuxiliaryRetention
	}
	if options.Dial == nil {
		options.Dial = QuestTransport(quest.ClientOptions{
			Clock:       options.Clock,
			Logger:      options.Logger,
			AutoConnect: true,
		})
	}
	return &Scheduler{
		clock:              options.Clock,
		logger:             options.Logger,
		dial:               options.Dial,
		filter:             NewDedupFilter(options.Clock, options.DedupRetention),
		auxiliaryRetention: options.AuxiliaryRetention,
		pingInterval:       options.PingInterval,
		registry:           make(map[Pinger]*registration),
		auxiliary:          make(map[string]*auxiliaryConnection),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
	}
}

// Filter returns the process-wide dedup filter.
func (s *Scheduler) Filter() *DedupFilter { return s.filter }

// Start launches the maintenance loop. Calling it again, or after
// Stop, does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *Scheduler) startLocked() {
	if s.started || s.stopped {
		return
	}
	s.started = true
	go s.run()
}

// Stop ends the maintenance loop, waits for its last tick to finish,
// and closes every auxiliary connection. It is safe to call more than
// once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		started := s.started
		s.mu.Unlock()
		if started {
			<-s.done
		}
		return
	}
	s.stopped = true
	started := s.started
	close(s.stop)
	auxiliary := s.auxiliary
	s.auxiliary = make(map[string]*auxiliaryConnection)
	s.mu.Unlock()

	if started {
		<-s.done
	}
	for _, connection := range auxiliary {
		connection.transport.Close()
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	ticker := s.clock.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick runs one maintenance pass. Transports are closed and pings
// sent after the lock is released.
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	var evicted []string
	var closing []Transport
	for endpoint, connection := range s.auxiliary {
		if now.After(connection.expiry.Add(s.auxiliaryRetention)) {
			evicted = append(evicted, endpoint)
			closing = append(closing, connection.transport)
			delete(s.auxiliary, endpoint)
		}
	}
	var due []Pinger
	for pinger, entry := range s.registry {
		if now.Sub(entry.lastPing) >= s.pingInterval {
			entry.lastPing = now
			due = append(due, pinger)
		}
	}
	s.mu.Unlock()

	for index, transport := range closing {
		s.logger.Debug("evicting auxiliary connection", "endpoint", evicted[index])
		transport.Close()
	}
	for _, pinger := range due {
		pinger.Ping()
	}
	if removed := s.filter.Expire(now); removed > 0 {
		s.logger.Debug("expired dedup entries", "count", removed)
	}
}

// Register adds a reference to pinger, starting keepalive on the
// first one. The first ping is due one interval after registration.
func (s *Scheduler) Register(pinger Pinger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
	if entry, ok := s.registry[pinger]; ok {
		entry.references++
		return
	}
	s.registry[pinger] = &registration{lastPing: s.clock.Now(), references: 1}
}

// Unregister drops a reference. Keepalive stops when none remain.
func (s *Scheduler) Unregister(pinger Pinger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.registry[pinger]
	if !ok {
		return
	}
	entry.references--
	if entry.references <= 0 {
		delete(s.registry, pinger)
	}
}

// References returns pinger's registration count.
func (s *Scheduler) References(pinger Pinger) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.registry[pinger]; ok {
		return entry.references
	}
	return 0
}

// SetPingInterval changes the keepalive interval for every session.
func (s *Scheduler) SetPingInterval(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingInterval = interval
}

// PingInterval returns the keepalive interval.
func (s *Scheduler) PingInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingInterval
}

// AuxiliaryConnection returns the cached transport for endpoint,
// creating it if needed. The entry is kept until at least now+timeout;
// a shorter request never shortens an existing expiry. A zero timeout
// uses quest.DefaultQuestTimeout.
//
// After Stop nothing is dialed or cached: the returned transport fails
// every quest with quest.ErrConnectionClosed.
func (s *Scheduler) AuxiliaryConnection(endpoint string, timeout time.Duration) Transport {
	if timeout <= 0 {
		timeout = quest.DefaultQuestTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return stoppedTransport{endpoint: endpoint}
	}
	s.startLocked()

	expiry := s.clock.Now().Add(timeout)
	if connection, ok := s.auxiliary[endpoint]; ok {
		if expiry.After(connection.expiry) {
			connection.expiry = expiry
		}
		return connection.transport
	}
	transport := s.dial(endpoint)
	s.auxiliary[endpoint] = &auxiliaryConnection{transport: transport, expiry: expiry}
	return transport
}

// AuxiliaryExpiry returns the current expiry of endpoint's cached
// connection.
func (s *Scheduler) AuxiliaryExpiry(endpoint string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.auxiliary[endpoint]
	if !ok {
		return time.Time{}, false
	}
	return connection.expiry, true
}

// stoppedTransport stands in for auxiliary connections requested after
// Stop.
type stoppedTransport struct {
	endpoint string
}

var _ Transport = stoppedTransport{}

func (t stoppedTransport) Connect(context.Context) error { return quest.ErrConnectionClosed }

func (t stoppedTransport) SendQuest(_ *quest.Quest, callback quest.AnswerCallback, _ time.Duration) {
	callback(nil, quest.ErrConnectionClosed)
}

func (t stoppedTransport) SendQuestSync(context.Context, *quest.Quest, time.Duration) (*quest.Answer, error) {
	return nil, quest.ErrConnectionClosed
}

func (t stoppedTransport) Close() {}
func (t stoppedTransport) Endpoint() string { return t.endpoint }

func (t stoppedTransport) SetConnectedCallback(func(peer string, connected bool)) {}
func (t stoppedTransport) SetWillCloseCallback(func(peer string, causedByError bool)) {}
func (t stoppedTransport) SetQuestProcessor(quest.QuestProcessor) {}
