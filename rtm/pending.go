// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtm

import (
	"time"

	"github.com/eapache/queue"

	"github.com/bureau-foundation/rtm/quest"
)

// pendingQuest is a quest accepted while the session was not ready.
type pendingQuest struct {
	quest    *quest.Quest
	callback quest.AnswerCallback
	timeout  time.Duration
	enqueued time.Time
}

// pendingQueue is the FIFO of quests waiting for Ready. It is guarded
// by the session mutex; drain hands the whole backlog to the caller
// and leaves a fresh queue behind.
type pendingQueue struct {
	items *queue.Queue
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{items: queue.New()}
}

func (p *pendingQueue) push(item pendingQuest) {
	p.items.Add(item)
}

func (p *pendingQueue) len() int {
	return p.items.Length()
}

func (p *pendingQueue) drain() []pendingQuest {
	drained := make([]pendingQuest, 0, p.items.Length())
	for p.items.Length() > 0 {
		drained = append(drained, p.items.Remove().(pendingQuest))
	}
	return drained
}
