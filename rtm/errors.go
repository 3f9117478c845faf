// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtm

import "github.com/bureau-foundation/rtm/quest"

// Session error codes. They share the quest.Error type with transport
// and gateway errors so callers test them the same way.
const (
	CodeEmptyToken     = 200003
	CodeAuthRejected   = 200020
	CodeDuplicatedAuth = 200021
)

var (
	// ErrEmptyToken is reported by Connect when no token is given.
	ErrEmptyToken = &quest.Error{Code: CodeEmptyToken, Message: "empty token"}

	// ErrAuthRejected means the gateway answered the auth quest with
	// ok=false. The session moves to AuthFailed.
	ErrAuthRejected = &quest.Error{Code: CodeAuthRejected, Message: "authentication rejected"}

	// ErrDuplicatedAuth is reported to a Connect call made while
	// another attempt is in flight.
	ErrDuplicatedAuth = &quest.Error{Code: CodeDuplicatedAuth, Message: "a connect attempt is already in progress"}
)

// connectionError converts a resolve or dial failure into the error
// reported to callbacks and queued quests.
func connectionError(step string, err error) *quest.Error {
	return quest.NewError(quest.CodeConnectionClosed, "%s: %v", step, err)
}
