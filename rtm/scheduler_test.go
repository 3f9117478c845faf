// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtm

import (
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/rtm/lib/clock"
	"github.com/bureau-foundation/rtm/lib/testutil"
	"github.com/bureau-foundation/rtm/quest"
)

func newTestScheduler(t *testing.T, fake *clock.FakeClock, network *fakeNetwork) *Scheduler {
	t.Helper()
	options := SchedulerOptions{
		Clock:              fake,
		PingInterval:       5 * time.Second,
		DedupRetention:     time.Minute,
		AuxiliaryRetention: time.Minute,
	}
	if network != nil {
		options.Dial = network.dial
	}
	scheduler := NewScheduler(options)
	t.Cleanup(scheduler.Stop)
	return scheduler
}

func TestSchedulerRegistrationIsReferenceCounted(t *testing.T) {
	t.Parallel()

	scheduler := newTestScheduler(t, clock.Fake(epoch), nil)
	pinger := newCountingPinger()

	scheduler.Register(pinger)
	scheduler.Register(pinger)
	if got := scheduler.References(pinger); got != 2 {
		t.Fatalf("References after two Register = %d, want 2", got)
	}
	scheduler.Unregister(pinger)
	if got := scheduler.References(pinger); got != 1 {
		t.Fatalf("References after one Unregister = %d, want 1", got)
	}
	scheduler.Unregister(pinger)
	if got := scheduler.References(pinger); got != 0 {
		t.Fatalf("References after final Unregister = %d, want 0", got)
	}
	// Unregistering an unknown pinger is harmless.
	scheduler.Unregister(pinger)
}

func TestSchedulerTickPingsOncePerInterval(t *testing.T) {
	t.Parallel()

	scheduler := newTestScheduler(t, clock.Fake(epoch), nil)
	pinger := newCountingPinger()
	scheduler.Register(pinger)

	scheduler.tick(epoch.Add(4 * time.Second))
	if got := pinger.count(); got != 0 {
		t.Fatalf("pings before the interval = %d, want 0", got)
	}
	scheduler.tick(epoch.Add(5 * time.Second))
	if got := pinger.count(); got != 1 {
		t.Fatalf("pings at the interval = %d, want 1", got)
	}
	scheduler.tick(epoch.Add(6 * time.Second))
	if got := pinger.count(); got != 1 {
		t.Fatalf("pings one second after a ping = %d, want 1", got)
	}
	scheduler.tick(epoch.Add(10 * time.Second))
	if got := pinger.count(); got != 2 {
		t.Fatalf("pings after a second interval = %d, want 2", got)
	}
	// Pinging never removes the registration.
	if got := scheduler.References(pinger); got != 1 {
		t.Errorf("References = %d, want 1", got)
	}
}

func TestSchedulerUnregisteredPingerIsNotPinged(t *testing.T) {
	t.Parallel()

	scheduler := newTestScheduler(t, clock.Fake(epoch), nil)
	pinger := newCountingPinger()
	scheduler.Register(pinger)
	scheduler.Unregister(pinger)

	scheduler.tick(epoch.Add(time.Minute))
	if got := pinger.count(); got != 0 {
		t.Errorf("pings after Unregister = %d, want 0", got)
	}
}

func TestSchedulerSetPingInterval(t *testing.T) {
	t.Parallel()

	scheduler := newTestScheduler(t, clock.Fake(epoch), nil)
	scheduler.SetPingInterval(2 * time.Second)
	if got := scheduler.PingInterval(); got != 2*time.Second {
		t.Fatalf("PingInterval = %v, want 2s", got)
	}

	pinger := newCountingPinger()
	scheduler.Register(pinger)
	scheduler.tick(epoch.Add(2 * time.Second))
	if got := pinger.count(); got != 1 {
		t.Errorf("pings after the shortened interval = %d, want 1", got)
	}

	scheduler.SetPingInterval(0)
	if got := scheduler.PingInterval(); got != DefaultPingInterval {
		t.Errorf("PingInterval after reset = %v, want %v", got, DefaultPingInterval)
	}
}

func TestSchedulerLoopPingsRegisteredSessions(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	scheduler := newTestScheduler(t, fake, nil)
	pinger := newCountingPinger()
	scheduler.Register(pinger)
	fake.WaitForTimers(1)

	// The loop may miss a tick while busy; keep advancing until the
	// first ping lands.
	for step := 0; step < 100; step++ {
		fake.Advance(time.Second)
		select {
		case <-pinger.notify:
			return
		case <-time.After(10 * time.Millisecond): //nolint:realclock loop handoff
		}
	}
	t.Fatal("registered pinger never pinged by the scheduler loop")
}

func TestSchedulerAuxiliaryExpiryOnlyGrows(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	network := newFakeNetwork(nil)
	scheduler := newTestScheduler(t, fake, network)

	first := scheduler.AuxiliaryConnection("files:1", 10*time.Second)
	second := scheduler.AuxiliaryConnection("files:1", 5*time.Second)
	if first != second {
		t.Fatal("same endpoint returned different transports")
	}
	if got := network.count(); got != 1 {
		t.Fatalf("dialed %d transports, want 1", got)
	}
	expiry, ok := scheduler.AuxiliaryExpiry("files:1")
	if !ok || !expiry.Equal(epoch.Add(10*time.Second)) {
		t.Fatalf("expiry after shorter request = %v, want %v", expiry, epoch.Add(10*time.Second))
	}

	fake.Advance(20 * time.Second)
	scheduler.AuxiliaryConnection("files:1", time.Second)
	expiry, _ = scheduler.AuxiliaryExpiry("files:1")
	if want := epoch.Add(21 * time.Second); !expiry.Equal(want) {
		t.Errorf("expiry after later request = %v, want %v", expiry, want)
	}

	scheduler.AuxiliaryConnection("files:2", 0)
	if got := network.count(); got != 2 {
		t.Errorf("dialed %d transports for two endpoints, want 2", got)
	}
	expiry, _ = scheduler.AuxiliaryExpiry("files:2")
	if want := fake.Now().Add(30 * time.Second); !expiry.Equal(want) {
		t.Errorf("default expiry = %v, want %v", expiry, want)
	}
}

func TestSchedulerEvictsAuxiliaryAfterRetention(t *testing.T) {
	t.Parallel()

	network := newFakeNetwork(nil)
	scheduler := newTestScheduler(t, clock.Fake(epoch), network)
	scheduler.AuxiliaryConnection("files:1", 10*time.Second)
	transport := testutil.RequireReceive(t, network.created, time.Second, "auxiliary dial")

	boundary := epoch.Add(10*time.Second + time.Minute)
	scheduler.tick(boundary)
	if _, ok := scheduler.AuxiliaryExpiry("files:1"); !ok {
		t.Fatal("connection evicted at the retention boundary")
	}
	if transport.isClosed() {
		t.Fatal("transport closed at the retention boundary")
	}

	scheduler.tick(boundary.Add(time.Second))
	if _, ok := scheduler.AuxiliaryExpiry("files:1"); ok {
		t.Fatal("connection still cached past the retention boundary")
	}
	if !transport.isClosed() {
		t.Error("evicted transport not closed")
	}
}

func TestSchedulerTickExpiresDedupFilter(t *testing.T) {
	t.Parallel()

	scheduler := newTestScheduler(t, clock.Fake(epoch), nil)
	scheduler.Filter().Test(MessageKey{Class: ClassDirect, Sender: 1, MessageID: 1})

	scheduler.tick(epoch.Add(2 * time.Minute))
	if got := scheduler.Filter().Len(); got != 0 {
		t.Errorf("filter holds %d entries after retention, want 0", got)
	}
}

func TestSchedulerStopClosesAuxiliaryAndIsFinal(t *testing.T) {
	t.Parallel()

	network := newFakeNetwork(nil)
	scheduler := NewScheduler(SchedulerOptions{Clock: clock.Fake(epoch), Dial: network.dial})
	scheduler.AuxiliaryConnection("files:1", time.Minute)
	transport := testutil.RequireReceive(t, network.created, time.Second, "auxiliary dial")

	scheduler.Stop()
	scheduler.Stop()
	if !transport.isClosed() {
		t.Error("Stop did not close the auxiliary transport")
	}
	if _, ok := scheduler.AuxiliaryExpiry("files:1"); ok {
		t.Error("auxiliary connection still cached after Stop")
	}

	scheduler.Start()
	scheduler.mu.Lock()
	started, stopped := scheduler.started, scheduler.stopped
	scheduler.mu.Unlock()
	if !started || !stopped {
		t.Errorf("after Stop then Start: started=%v stopped=%v, want the stopped loop left alone", started, stopped)
	}
}

func TestSchedulerAuxiliaryConnectionAfterStop(t *testing.T) {
	t.Parallel()

	network := newFakeNetwork(nil)
	scheduler := NewScheduler(SchedulerOptions{Clock: clock.Fake(epoch), Dial: network.dial})
	scheduler.Stop()

	transport := scheduler.AuxiliaryConnection("files:1", time.Minute)
	if got := transport.Endpoint(); got != "files:1" {
		t.Errorf("Endpoint = %q, want files:1", got)
	}
	results := make(chan error, 1)
	transport.SendQuest(quest.NewQuest("sendfile"), func(_ *quest.Answer, err error) {
		results <- err
	}, time.Second)
	if err := testutil.RequireReceive(t, results, time.Second, "send after Stop"); !errors.Is(err, quest.ErrConnectionClosed) {
		t.Errorf("send after Stop = %v, want ErrConnectionClosed", err)
	}
	if got := network.count(); got != 0 {
		t.Errorf("transports dialed after Stop = %d, want 0", got)
	}
	if _, ok := scheduler.AuxiliaryExpiry("files:1"); ok {
		t.Error("auxiliary connection cached after Stop")
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	t.Parallel()

	scheduler := NewScheduler(SchedulerOptions{Clock: clock.Fake(epoch)})
	scheduler.Stop()
	scheduler.Start()

	scheduler.mu.Lock()
	started := scheduler.started
	scheduler.mu.Unlock()
	if started {
		t.Error("Start after Stop launched the loop")
	}
}
