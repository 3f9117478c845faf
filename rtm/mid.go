// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtm

import (
	"sync"

	"github.com/bureau-foundation/rtm/lib/clock"
)

// messageIDs numbers outgoing messages for the whole process. The
// gateway deduplicates retries by (sender, mid), so ids only need to
// be unique per process lifetime. The counter starts at a small
// clock-derived offset so a quick restart does not replay the same
// sequence.
var messageIDs struct {
	once    sync.Once
	mu      sync.Mutex
	counter int64
}

// NextMessageID returns a fresh message id.
func NextMessageID() int64 {
	messageIDs.once.Do(func() {
		messageIDs.counter = clock.Real().Now().UnixMilli() % 1000
	})
	messageIDs.mu.Lock()
	defer messageIDs.mu.Unlock()
	messageIDs.counter++
	return messageIDs.counter
}
