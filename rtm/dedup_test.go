// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtm

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/rtm/lib/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestDedupFilterFirstSightingDelivers(t *testing.T) {
	t.Parallel()

	filter := NewDedupFilter(clock.Fake(epoch), time.Minute)
	key := MessageKey{Class: ClassGroup, Scope: 7, Sender: 42, MessageID: 1001}

	if !filter.Test(key) {
		t.Fatal("first sighting reported as duplicate")
	}
	for range 2 {
		if filter.Test(key) {
			t.Fatal("repeat sighting reported as new")
		}
	}
	if got := filter.Hits(key); got != 3 {
		t.Errorf("Hits = %d, want 3", got)
	}
	if got := filter.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
}

func TestDedupFilterDistinguishesEveryKeyField(t *testing.T) {
	t.Parallel()

	filter := NewDedupFilter(clock.Fake(epoch), time.Minute)
	base := MessageKey{Class: ClassGroup, Scope: 7, Sender: 42, MessageID: 1001}
	variants := []MessageKey{
		base,
		{Class: ClassRoom, Scope: 7, Sender: 42, MessageID: 1001},
		{Class: ClassGroup, Scope: 8, Sender: 42, MessageID: 1001},
		{Class: ClassGroup, Scope: 7, Sender: 43, MessageID: 1001},
		{Class: ClassGroup, Scope: 7, Sender: 42, MessageID: 1002},
	}
	for _, key := range variants {
		if !filter.Test(key) {
			t.Errorf("Test(%+v) = false, want true", key)
		}
	}
}

func TestDedupFilterSlidingExpiry(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	filter := NewDedupFilter(fake, 10*time.Minute)
	key := MessageKey{Class: ClassDirect, Sender: 5, MessageID: 1}

	filter.Test(key)
	fake.Advance(8 * time.Minute)
	// Refreshing restarts the window.
	filter.Test(key)
	fake.Advance(8 * time.Minute)

	if removed := filter.Expire(fake.Now()); removed != 0 {
		t.Fatalf("Expire removed %d entries 8m after a refresh, want 0", removed)
	}
	if filter.Test(key) {
		t.Fatal("key forgotten inside its refreshed window")
	}

	fake.Advance(11 * time.Minute)
	if removed := filter.Expire(fake.Now()); removed != 1 {
		t.Fatalf("Expire removed %d entries, want 1", removed)
	}
	if !filter.Test(key) {
		t.Error("expired key still suppressed")
	}
}

func TestDedupFilterExpireStopsAtFreshEntries(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	filter := NewDedupFilter(fake, time.Minute)
	old := MessageKey{Class: ClassDirect, Sender: 1, MessageID: 1}
	fresh := MessageKey{Class: ClassDirect, Sender: 1, MessageID: 2}

	filter.Test(old)
	fake.Advance(50 * time.Second)
	filter.Test(fresh)
	fake.Advance(20 * time.Second)

	if removed := filter.Expire(fake.Now()); removed != 1 {
		t.Fatalf("Expire removed %d, want 1", removed)
	}
	snapshot := filter.Snapshot()
	if len(snapshot) != 1 || snapshot[0].Key != fresh {
		t.Errorf("Snapshot = %+v, want only %+v", snapshot, fresh)
	}
}

func TestDedupFilterDefaultRetention(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	filter := NewDedupFilter(fake, 0)
	filter.Test(MessageKey{Class: ClassBroadcast, Sender: 1, MessageID: 1})

	fake.Advance(DefaultDedupRetention)
	if removed := filter.Expire(fake.Now()); removed != 0 {
		t.Errorf("entry removed exactly at the retention boundary")
	}
	fake.Advance(time.Second)
	if removed := filter.Expire(fake.Now()); removed != 1 {
		t.Errorf("Expire removed %d past the retention boundary, want 1", removed)
	}
}

func TestDedupFilterSnapshotOrder(t *testing.T) {
	t.Parallel()

	filter := NewDedupFilter(clock.Fake(epoch), time.Minute)
	keys := []MessageKey{
		{Class: ClassRoom, Scope: 1, Sender: 1, MessageID: 1},
		{Class: ClassDirect, Sender: 9, MessageID: 3},
		{Class: ClassGroup, Scope: 2, Sender: 1, MessageID: 1},
		{Class: ClassDirect, Sender: 9, MessageID: 2},
	}
	for _, key := range keys {
		filter.Test(key)
	}
	snapshot := filter.Snapshot()
	for index := 1; index < len(snapshot); index++ {
		if snapshot[index-1].Key.Compare(snapshot[index].Key) >= 0 {
			t.Errorf("snapshot out of order at %d: %+v then %+v", index, snapshot[index-1].Key, snapshot[index].Key)
		}
	}
}

func TestDedupFilterConcurrentFirstSighting(t *testing.T) {
	t.Parallel()

	filter := NewDedupFilter(clock.Fake(epoch), time.Minute)
	key := MessageKey{Class: ClassGroup, Scope: 3, Sender: 4, MessageID: 5}

	const callers = 32
	var delivered atomic.Int32
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if filter.Test(key) {
				delivered.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := delivered.Load(); got != 1 {
		t.Errorf("%d callers saw a first sighting, want 1", got)
	}
	if got := filter.Hits(key); got != callers {
		t.Errorf("Hits = %d, want %d", got, callers)
	}
}

func TestDedupFilterRefreshDuringExpireKeepsKeys(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	filter := NewDedupFilter(fake, time.Minute)

	var stale, fresh []MessageKey
	for index := range 64 {
		stale = append(stale, MessageKey{Class: ClassRoom, Scope: 1, Sender: 2, MessageID: int64(index)})
		fresh = append(fresh, MessageKey{Class: ClassGroup, Scope: 1, Sender: 2, MessageID: int64(index)})
	}
	for _, key := range stale {
		filter.Test(key)
	}
	fake.Advance(45 * time.Second)
	for _, key := range fresh {
		filter.Test(key)
	}
	// The stale keys are now past retention; the fresh ones are not.
	fake.Advance(30 * time.Second)

	const refreshers, rounds = 8, 20
	var redelivered atomic.Int32
	var removed atomic.Int64
	var wg sync.WaitGroup
	for range refreshers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range rounds {
				for _, key := range fresh {
					if filter.Test(key) {
						redelivered.Add(1)
					}
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 200 {
			removed.Add(int64(filter.Expire(fake.Now())))
		}
	}()
	wg.Wait()

	if got := redelivered.Load(); got != 0 {
		t.Errorf("%d refreshes of remembered keys were treated as new", got)
	}
	if got := removed.Load(); got != int64(len(stale)) {
		t.Errorf("Expire removed %d entries, want %d", got, len(stale))
	}
	for _, key := range stale {
		if got := filter.Hits(key); got != 0 {
			t.Errorf("stale key %+v still present with %d hits", key, got)
		}
	}
	for _, key := range fresh {
		if got, want := filter.Hits(key), 1+refreshers*rounds; got != want {
			t.Errorf("refreshed key %+v hits = %d, want %d", key, got, want)
		}
	}
	if got := filter.Len(); got != len(fresh) {
		t.Errorf("Len = %d, want %d", got, len(fresh))
	}
}
