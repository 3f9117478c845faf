// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets time-driven code run against either the wall
// clock or a manually advanced fake.
//
// Everything in the RTM client that reads the time or waits on it
// (queued quest budgets, quest timeouts, the scheduler tick, dedup
// expiry, auxiliary connection eviction) holds a Clock rather than
// calling the time package directly:
//
//	scheduler := rtm.NewScheduler(rtm.SchedulerOptions{Clock: clock.Real()})
//
// Tests substitute a FakeClock and move time explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	scheduler := rtm.NewScheduler(rtm.SchedulerOptions{Clock: fake})
//	scheduler.Start()
//	fake.WaitForTimers(1)      // the tick loop has armed its ticker
//	fake.Advance(time.Second)  // exactly one maintenance pass runs
//
// WaitForTimers closes the window between a goroutine arming a timer
// and the test advancing past it.
package clock
