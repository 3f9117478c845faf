// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtm

// Event is a decoded push from the gateway. The concrete types are
// KickoutEvent, RoomKickoutEvent, MessageEvent, TranslatedMessageEvent,
// and UnreadEvent.
type Event interface {
	// Method is the push verb the event was decoded from.
	Method() string
}

// EventSink receives decoded pushes. HandleEvent runs on the
// transport's dispatch goroutine and should not block for long.
type EventSink interface {
	HandleEvent(event Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(event Event)

func (f EventSinkFunc) HandleEvent(event Event) { f(event) }

// KickoutEvent: another login displaced this session. The session's
// connection is closed after the event is delivered.
type KickoutEvent struct{}

func (KickoutEvent) Method() string { return "kickout" }

// RoomKickoutEvent: the user was removed from a room.
type RoomKickoutEvent struct {
	RoomID int64
}

func (RoomKickoutEvent) Method() string { return "kickoutroom" }

// MessageEvent is a delivered chat message.
type MessageEvent struct {
	Class MessageClass

	// Scope is the group or room id; 0 for direct and broadcast.
	Scope int64

	From        int64
	MessageType int64
	FileType    int64
	MessageID   int64
	Message     string
	Attrs       string
}

func (e MessageEvent) Method() string {
	switch e.Class {
	case ClassGroup:
		return "pushgroupmsg"
	case ClassRoom:
		return "pushroommsg"
	case ClassBroadcast:
		return "pushbroadcastmsg"
	default:
		return "pushmsg"
	}
}

// Key returns the dedup key of the message.
func (e MessageEvent) Key() MessageKey {
	return MessageKey{Class: e.Class, Scope: e.Scope, Sender: e.From, MessageID: e.MessageID}
}

// TranslatedMessageEvent is the translation of an earlier message.
type TranslatedMessageEvent struct {
	Class MessageClass
	Scope int64
	From  int64

	MessageID         int64
	OriginalMessageID int64
	Message           string
}

func (e TranslatedMessageEvent) Method() string {
	switch e.Class {
	case ClassGroup:
		return "transgroupmsg"
	case ClassRoom:
		return "transroommsg"
	case ClassBroadcast:
		return "transbroadcastmsg"
	default:
		return "transmsg"
	}
}

// Key returns the dedup key of the translated message.
func (e TranslatedMessageEvent) Key() MessageKey {
	return MessageKey{Class: e.Class, Scope: e.Scope, Sender: e.From, MessageID: e.MessageID}
}

// UnreadEvent summarizes unread messages after login.
type UnreadEvent struct {
	// Senders with unread direct messages.
	Senders []int64

	// Groups with unread group messages.
	Groups []int64

	Broadcast bool
}

func (UnreadEvent) Method() string { return "pushunread" }
