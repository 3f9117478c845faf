// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtm

// Status is the connection state of a Session.
//
//	Closed → ResolvingGateway → Connecting → Authenticating → Ready
//	                                             └→ AuthFailed
//
// ResolvingGateway is skipped when the session has a fixed endpoint.
// Only Ready sends quests immediately. Only Closed and AuthFailed
// accept a new connect attempt.
type Status int

const (
	StatusClosed Status = iota
	StatusResolvingGateway
	StatusConnecting
	StatusAuthenticating
	StatusReady
	StatusAuthFailed
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusResolvingGateway:
		return "resolving-gateway"
	case StatusConnecting:
		return "connecting"
	case StatusAuthenticating:
		return "authenticating"
	case StatusReady:
		return "ready"
	case StatusAuthFailed:
		return "auth-failed"
	default:
		return "unknown"
	}
}

// transient reports whether a connect attempt is in flight.
func (s Status) transient() bool {
	return s == StatusResolvingGateway || s == StatusConnecting || s == StatusAuthenticating
}

// terminal reports whether a new connect attempt may start.
func (s Status) terminal() bool {
	return s == StatusClosed || s == StatusAuthFailed
}
