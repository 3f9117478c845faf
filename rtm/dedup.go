// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtm

import (
	"cmp"
	"container/list"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/rtm/lib/clock"
)

// DefaultDedupRetention is how long a seen message id suppresses
// redelivery after its last sighting.
const DefaultDedupRetention = 30 * time.Minute

// MessageClass is the delivery channel of a pushed message.
type MessageClass int

const (
	ClassDirect    MessageClass = 1
	ClassGroup     MessageClass = 2
	ClassRoom      MessageClass = 3
	ClassBroadcast MessageClass = 4
)

func (c MessageClass) String() string {
	switch c {
	case ClassDirect:
		return "direct"
	case ClassGroup:
		return "group"
	case ClassRoom:
		return "room"
	case ClassBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// MessageKey identifies one message delivery. Scope is the group or
// room id, and 0 for direct and broadcast messages.
type MessageKey struct {
	Class     MessageClass
	Scope     int64
	Sender    int64
	MessageID int64
}

// Compare orders keys lexicographically by class, scope, sender, then
// message id.
func (k MessageKey) Compare(other MessageKey) int {
	if c := cmp.Compare(k.Class, other.Class); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Scope, other.Scope); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Sender, other.Sender); c != 0 {
		return c
	}
	return cmp.Compare(k.MessageID, other.MessageID)
}

// DedupEntry is the filter's record of one key.
type DedupEntry struct {
	Key      MessageKey
	LastSeen time.Time
	Hits     int
}

// DedupFilter remembers recently delivered messages. Retention slides:
// every sighting of a key restarts its window.
//
// Entries are kept in a map for lookup and in a list ordered by last
// sighting, oldest first, so Expire only visits what it removes. All
// operations hold one mutex.
type DedupFilter struct {
	clock     clock.Clock
	retention time.Duration

	mu      sync.Mutex
	entries map[MessageKey]*list.Element
	order   *list.List // of *DedupEntry, ascending LastSeen
}

// NewDedupFilter returns an empty filter. A non-positive retention
// selects DefaultDedupRetention.
func NewDedupFilter(clk clock.Clock, retention time.Duration) *DedupFilter {
	if clk == nil {
		clk = clock.Real()
	}
	if retention <= 0 {
		retention = DefaultDedupRetention
	}
	return &DedupFilter{
		clock:     clk,
		retention: retention,
		entries:   make(map[MessageKey]*list.Element),
		order:     list.New(),
	}
}

// Test records a sighting of key. It returns true the first time a key
// is seen within the retention window (deliver) and false for every
// repeat (suppress).
func (f *DedupFilter) Test(key MessageKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Read the clock under the lock so the list stays sorted.
	now := f.clock.Now()
	if element, ok := f.entries[key]; ok {
		entry := element.Value.(*DedupEntry)
		entry.LastSeen = now
		entry.Hits++
		f.order.MoveToBack(element)
		return false
	}
	f.entries[key] = f.order.PushBack(&DedupEntry{Key: key, LastSeen: now, Hits: 1})
	return true
}

// Expire removes every entry last seen before now minus the retention
// window and returns how many were removed.
func (f *DedupFilter) Expire(now time.Time) int {
	threshold := now.Add(-f.retention)

	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for element := f.order.Front(); element != nil; {
		entry := element.Value.(*DedupEntry)
		if !entry.LastSeen.Before(threshold) {
			break
		}
		next := element.Next()
		f.order.Remove(element)
		delete(f.entries, entry.Key)
		removed++
		element = next
	}
	return removed
}

// Hits returns how many times key has been seen in its current
// window, or 0 if it is not present.
func (f *DedupFilter) Hits(key MessageKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if element, ok := f.entries[key]; ok {
		return element.Value.(*DedupEntry).Hits
	}
	return 0
}

// Len returns the number of remembered keys.
func (f *DedupFilter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Snapshot returns a copy of every entry in key order.
func (f *DedupFilter) Snapshot() []DedupEntry {
	f.mu.Lock()
	snapshot := make([]DedupEntry, 0, len(f.entries))
	for element := f.order.Front(); element != nil; element = element.Next() {
		snapshot = append(snapshot, *element.Value.(*DedupEntry))
	}
	f.mu.Unlock()

	slices.SortFunc(snapshot, func(a, b DedupEntry) int { return a.Key.Compare(b.Key) })
	return snapshot
}
