// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package quest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/rtm/lib/clock"
)

// AnswerCallback receives the outcome of one quest. For an error
// answer both arguments are set: answer.Err == err. For a transport
// failure answer is nil. One-way quests report (nil, nil) once
// written.
type AnswerCallback func(answer *Answer, err error)

// Responder sends the answer to the quest it was created for. It
// returns nil without sending for one-way quests and an error when
// called a second time.
type Responder func(answer *Answer) error

// QuestProcessor handles a quest initiated by the peer. It runs on
// its own goroutine. A processor may respond before finishing its
// work, and may choose not to respond at all, in which case the peer
// times out.
type QuestProcessor func(q *Quest, respond Responder)

// writeTimeout bounds a single frame write.
const writeTimeout = 10 * time.Second

type pendingQuest struct {
	method   string
	callback AnswerCallback
	timer    *clock.Timer
}

// link is one established connection: the read loop, the table of
// quests awaiting answers, and serialized frame writes. Client and
// ServerConn both wrap a link.
type link struct {
	conn      net.Conn
	cipher    *cipherState
	clock     clock.Clock
	logger    *slog.Logger
	processor QuestProcessor

	// onClose runs once, after every pending quest has been failed.
	onClose func(causedByError bool)

	writeMu sync.Mutex

	mu            sync.Mutex
	nextSeq       uint32
	pending       map[uint32]*pendingQuest
	closed        bool
	closedLocally bool

	done chan struct{}
}

func newLink(conn net.Conn, cipher *cipherState, clk clock.Clock, logger *slog.Logger, processor QuestProcessor, onClose func(bool)) *link {
	return &link{
		conn:      conn,
		cipher:    cipher,
		clock:     clk,
		logger:    logger,
		processor: processor,
		onClose:   onClose,
		pending:   make(map[uint32]*pendingQuest),
		done:      make(chan struct{}),
	}
}

func (l *link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// sendQuest writes q and arranges for callback to run exactly once.
// timeout must already be resolved: positive, or negative for expired.
func (l *link) sendQuest(q *Quest, callback AnswerCallback, timeout time.Duration) {
	if timeout < 0 {
		callback(nil, ErrTimeout)
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		callback(nil, ErrConnectionClosed)
		return
	}
	l.nextSeq++
	q.seq = l.nextSeq
	seq := q.seq
	if !q.OneWay {
		l.pending[seq] = &pendingQuest{
			method:   q.Method,
			callback: callback,
			timer:    l.clock.AfterFunc(timeout, func() { l.expire(seq) }),
		}
	}
	l.mu.Unlock()

	f, err := encodeQuest(q)
	if err == nil {
		err = l.write(f)
	}
	if q.OneWay {
		callback(nil, err)
		return
	}
	if err != nil {
		if entry := l.takePending(seq); entry != nil {
			entry.timer.Stop()
			entry.callback(nil, err)
		}
	}
}

func (l *link) takePending(seq uint32) *pendingQuest {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.pending[seq]
	delete(l.pending, seq)
	return entry
}

func (l *link) expire(seq uint32) {
	if entry := l.takePending(seq); entry != nil {
		l.logger.Debug("quest timed out", "method", entry.method, "seq", seq)
		entry.callback(nil, ErrTimeout)
	}
}

// write seals and writes one frame. A write failure closes the
// connection; the read loop then reports it.
func (l *link) write(f frame) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.cipher != nil {
		f = l.cipher.seal(f)
	}
	l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := writeFrame(l.conn, f); err != nil {
		l.conn.Close()
		return &Error{Code: CodeConnectionClosed, Message: err.Error()}
	}
	return nil
}

// close shuts the connection from this side. The read loop observes
// the closed socket and runs the shutdown sequence.
func (l *link) close() {
	l.mu.Lock()
	l.closedLocally = true
	l.mu.Unlock()
	l.conn.Close()
}

// run is the read loop. It returns after the connection is gone and
// the shutdown sequence has completed.
func (l *link) run() {
	var readErr error
	for {
		f, err := readFrame(l.conn)
		if err != nil {
			readErr = err
			break
		}
		if l.cipher != nil {
			f, err = l.cipher.open(f)
			if err != nil {
				readErr = err
				break
			}
		}
		if err := l.handleFrame(f); err != nil {
			readErr = err
			break
		}
	}
	l.conn.Close()
	l.shutdown(readErr)
}

func (l *link) handleFrame(f frame) error {
	switch f.kind {
	case kindAnswer:
		entry := l.takePending(f.seq)
		if entry == nil {
			// Answer arrived after its quest timed out.
			l.logger.Debug("discarding late answer", "seq", f.seq)
			return nil
		}
		entry.timer.Stop()
		answer, err := decodeAnswer(f)
		switch {
		case err != nil:
			entry.callback(nil, err)
		case answer.Err != nil:
			entry.callback(answer, answer.Err)
		default:
			entry.callback(answer, nil)
		}
		return nil

	case kindQuest, kindOneWay:
		q, err := decodeQuest(f)
		if err != nil {
			l.logger.Warn("dropping undecodable quest", "seq", f.seq, "error", err)
			if f.kind == kindQuest {
				answer := NewErrorAnswer(CodeDecoding, err.Error())
				if frameOut, encodeErr := encodeAnswer(f.seq, answer); encodeErr == nil {
					l.write(frameOut)
				}
			}
			return nil
		}
		go l.dispatch(q)
		return nil

	default:
		return fmt.Errorf("unexpected frame kind %d", f.kind)
	}
}

func (l *link) dispatch(q *Quest) {
	var answered atomic.Bool
	respond := func(answer *Answer) error {
		if q.OneWay {
			return nil
		}
		if !answered.CompareAndSwap(false, true) {
			return fmt.Errorf("quest %q seq %d already answered", q.Method, q.seq)
		}
		if answer == nil {
			answer = NewAnswer()
		}
		f, err := encodeAnswer(q.seq, answer)
		if err != nil {
			return err
		}
		return l.write(f)
	}

	if l.processor == nil {
		respond(NewErrorAnswer(CodeUnknownMethod, fmt.Sprintf("no processor for %q", q.Method)))
		return
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			l.logger.Error("quest processor panicked", "method", q.Method, "panic", recovered)
			if !answered.Load() {
				respond(NewErrorAnswer(CodeUnknown, fmt.Sprintf("processing %q failed", q.Method)))
			}
		}
	}()
	l.processor(q, respond)
}

// shutdown fails every pending quest and then reports the close.
func (l *link) shutdown(readErr error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	causedByError := !l.closedLocally && readErr != nil && !errors.Is(readErr, io.EOF)
	pending := l.pending
	l.pending = make(map[uint32]*pendingQuest)
	l.mu.Unlock()

	if causedByError {
		l.logger.Debug("connection lost", "remote", l.conn.RemoteAddr().String(), "error", readErr)
	}
	for _, entry := range pending {
		entry.timer.Stop()
		entry.callback(nil, ErrConnectionClosed)
	}
	if l.onClose != nil {
		l.onClose(causedByError)
	}
	close(l.done)
}
