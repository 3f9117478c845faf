// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bureau-foundation/rtm/quest"
)

// sentQuest is one SendQuest call observed by a fakeTransport.
type sentQuest struct {
	quest   *quest.Quest
	timeout time.Duration
}

// fakeTransport is an in-memory Transport. Two-way quests are answered
// synchronously by handle; quests with a negative timeout fail with
// quest.ErrTimeout the way quest.Client does.
type fakeTransport struct {
	endpoint string

	// connectGate, when set, holds Connect until it is closed.
	connectGate chan struct{}
	connectErr  error

	// handle answers quests. A nil handle acknowledges everything
	// with an empty answer.
	handle func(q *quest.Quest) (*quest.Answer, error)

	mu        sync.Mutex
	sent      []sentQuest
	processor quest.QuestProcessor
	willClose func(peer string, causedByError bool)
	closed    bool
	closes    int
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectGate != nil {
		select {
		case <-f.connectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.connectErr
}

func (f *fakeTransport) SendQuest(q *quest.Quest, callback quest.AnswerCallback, timeout time.Duration) {
	f.mu.Lock()
	f.sent = append(f.sent, sentQuest{quest: q, timeout: timeout})
	closed := f.closed
	f.mu.Unlock()

	switch {
	case timeout < 0:
		callback(nil, quest.ErrTimeout)
	case closed:
		callback(nil, quest.ErrConnectionClosed)
	case q.OneWay:
		callback(nil, nil)
	case f.handle == nil:
		callback(quest.NewAnswer(), nil)
	default:
		callback(f.handle(q))
	}
}

func (f *fakeTransport) SendQuestSync(ctx context.Context, q *quest.Quest, timeout time.Duration) (*quest.Answer, error) {
	type result struct {
		answer *quest.Answer
		err    error
	}
	results := make(chan result, 1)
	f.SendQuest(q, func(answer *quest.Answer, err error) {
		results <- result{answer: answer, err: err}
	}, timeout)
	select {
	case r := <-results:
		return r.answer, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close marks the transport closed and reports an orderly close from
// another goroutine, as quest.Client's read loop does.
func (f *fakeTransport) Close() {
	f.drop(false)
}

// drop simulates the connection ending.
func (f *fakeTransport) drop(causedByError bool) {
	f.mu.Lock()
	f.closes++
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	willClose := f.willClose
	f.mu.Unlock()
	if willClose != nil {
		go willClose(f.endpoint, causedByError)
	}
}

func (f *fakeTransport) Endpoint() string { return f.endpoint }

func (f *fakeTransport) SetConnectedCallback(func(peer string, connected bool)) {}

func (f *fakeTransport) SetWillCloseCallback(callback func(peer string, causedByError bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.willClose = callback
}

func (f *fakeTransport) SetQuestProcessor(processor quest.QuestProcessor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processor = processor
}

// push delivers a gateway-initiated quest to the installed processor
// and returns the answer it produced, if any.
func (f *fakeTransport) push(q *quest.Quest) *quest.Answer {
	f.mu.Lock()
	processor := f.processor
	f.mu.Unlock()
	var answer *quest.Answer
	processor(q, func(a *quest.Answer) error {
		if answer != nil {
			return errors.New("answered twice")
		}
		answer = a
		return nil
	})
	return answer
}

// sentMethods lists the methods of every quest sent so far.
func (f *fakeTransport) sentMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	methods := make([]string, 0, len(f.sent))
	for _, sent := range f.sent {
		methods = append(methods, sent.quest.Method)
	}
	return methods
}

// sentQuests returns a copy of every SendQuest call.
func (f *fakeTransport) sentQuests() []sentQuest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentQuest(nil), f.sent...)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeNetwork is a TransportFactory that records every transport it
// creates and lets the test configure each before use.
type fakeNetwork struct {
	configure func(transport *fakeTransport)

	mu         sync.Mutex
	transports []*fakeTransport
	created    chan *fakeTransport
}

func newFakeNetwork(configure func(transport *fakeTransport)) *fakeNetwork {
	return &fakeNetwork{configure: configure, created: make(chan *fakeTransport, 16)}
}

func (n *fakeNetwork) dial(endpoint string) Transport {
	transport := &fakeTransport{endpoint: endpoint}
	if n.configure != nil {
		n.configure(transport)
	}
	n.mu.Lock()
	n.transports = append(n.transports, transport)
	n.mu.Unlock()
	select {
	case n.created <- transport:
	default:
	}
	return transport
}

func (n *fakeNetwork) transport(index int) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transports[index]
}

func (n *fakeNetwork) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transports)
}

// acceptAuth answers auth with ok=true and everything else with an
// empty answer.
func acceptAuth(q *quest.Quest) (*quest.Answer, error) {
	if q.Method == "auth" {
		return quest.NewAnswer().Param("ok", true), nil
	}
	return quest.NewAnswer(), nil
}

// rejectAuth answers auth with ok=false.
func rejectAuth(q *quest.Quest) (*quest.Answer, error) {
	if q.Method == "auth" {
		return quest.NewAnswer().Param("ok", false), nil
	}
	return quest.NewAnswer(), nil
}

// countingPinger records Ping calls.
type countingPinger struct {
	mu     sync.Mutex
	pings  int
	notify chan struct{}
}

func newCountingPinger() *countingPinger {
	return &countingPinger{notify: make(chan struct{}, 64)}
}

func (p *countingPinger) Ping() {
	p.mu.Lock()
	p.pings++
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *countingPinger) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pings
}

// fakeResolver returns a fixed endpoint or error.
type fakeResolver struct {
	endpoint string
	err      error

	mu       sync.Mutex
	services []string
}

func (r *fakeResolver) Resolve(_ context.Context, service string) (string, error) {
	r.mu.Lock()
	r.services = append(r.services, service)
	r.mu.Unlock()
	return r.endpoint, r.err
}
