// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rtm is the client session layer of the real-time messaging
// service. It keeps an authenticated gateway connection usable across
// reconnects and turns gateway pushes into typed events.
//
// The pieces:
//
//   - [Session]: the connection state machine. Status moves through
//     Closed, ResolvingGateway, Connecting, Authenticating, and Ready,
//     with AuthFailed reachable from Authenticating. Quests sent while
//     a connect attempt is in flight are queued and flushed in order,
//     with the time spent queued charged against their timeout.
//   - [Scheduler]: process-wide state shared by every session. It
//     sends keepalive pings, expires the dedup filter, and caches
//     auxiliary connections to file gateways, all from one loop that
//     ticks once a second.
//   - [DedupFilter]: suppresses redelivered messages keyed by class,
//     scope, sender, and message id, with a sliding retention window.
//   - [Router]: the quest processor installed on gateway connections.
//     It acknowledges pushes, deduplicates messages, and hands
//     [Event] values to an [EventSink].
//
// Sessions find their gateway either at a fixed endpoint or through a
// [Resolver]; [DispatchResolver] asks a dispatcher with the "which"
// quest. File transfers obtain a token from the gateway and upload on
// an auxiliary connection, signing the content with BLAKE3 and
// optionally compressing it (see lib/compress).
//
// Every callback passed to a Session runs exactly once and never with
// a session lock held.
package rtm
