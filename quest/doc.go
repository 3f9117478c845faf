// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package quest implements the quest/answer RPC transport spoken
// between RTM clients and gateways.
//
// A quest is a named request carrying a CBOR parameter map. Two-way
// quests are matched to their answer by a per-connection sequence
// number; one-way quests get no answer. Either side may send quests
// on an established connection: the gateway pushes messages to the
// client as quests, and the client acknowledges them with answers.
//
// The package is organized around the connection lifecycle:
//
//   - frame.go: the wire format (10-byte header plus CBOR body)
//   - message.go: [Quest], [Answer], and typed parameter access
//   - errors.go: [Error] and the transport error codes
//   - crypto.go: the optional X25519 key exchange and per-frame AEAD
//   - link.go: the shared read loop, pending-answer table, and timeouts
//   - client.go: [Client], the dialing side
//   - server.go: [Server], the accepting side
//
// Every answer callback runs exactly once: with the answer, with an
// error answer, or with a transport error ([ErrTimeout],
// [ErrConnectionClosed], [ErrInvalidConnection]). When a connection
// drops, its outstanding quests are failed before the will-close
// callback runs.
package quest
