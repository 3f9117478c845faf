// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the few helpers shared by test files across
// the module.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern used whenever a test waits on a callback that fires from
// another goroutine (answer callbacks, auth callbacks, pushed events).
// They are the only places tests read the wall clock; everything else
// is driven through clock.FakeClock.
//
// [FreePort] returns a loopback address with a free TCP port for tests
// that run a real quest server.
package testutil
