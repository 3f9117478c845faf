// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtm

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/rtm/quest"
)

// Message is the content of a chat message.
type Message struct {
	// Type is the application message type (mtype).
	Type  int64
	Text  string
	Attrs string
}

// sendVerbs maps a message class to the gateway verb and the
// parameter naming the recipient.
var sendVerbs = map[MessageClass]struct {
	method string
	target string
}{
	ClassDirect: {"sendmsg", "to"},
	ClassGroup:  {"sendgroupmsg", "gid"},
	ClassRoom:   {"sendroommsg", "rid"},
}

func messageQuest(class MessageClass, target int64, messageID int64, message Message) (*quest.Quest, error) {
	verb, ok := sendVerbs[class]
	if !ok {
		return nil, fmt.Errorf("rtm: cannot send %s messages", class)
	}
	return quest.NewQuest(verb.method).
		Param(verb.target, target).
		Param("mid", messageID).
		Param("mtype", message.Type).
		Param("msg", message.Text).
		Param("attrs", message.Attrs), nil
}

// send allocates a message id, sends the message, and returns the id.
func (s *Session) send(class MessageClass, target int64, message Message, callback func(error), timeout time.Duration) int64 {
	if callback == nil {
		callback = func(error) {}
	}
	messageID := NextMessageID()
	q, err := messageQuest(class, target, messageID, message)
	if err != nil {
		callback(err)
		return messageID
	}
	s.SendQuest(q, func(_ *quest.Answer, err error) {
		callback(err)
	}, timeout)
	return messageID
}

func (s *Session) sendSync(ctx context.Context, class MessageClass, target int64, message Message, timeout time.Duration) (int64, error) {
	results := make(chan error, 1)
	messageID := s.send(class, target, message, func(err error) {
		results <- err
	}, timeout)
	select {
	case err := <-results:
		return messageID, err
	case <-ctx.Done():
		return messageID, ctx.Err()
	}
}

// SendMessage sends a direct message to user to and returns its id.
// callback receives the gateway's acknowledgement.
func (s *Session) SendMessage(to int64, message Message, callback func(error), timeout time.Duration) int64 {
	return s.send(ClassDirect, to, message, callback, timeout)
}

// SendMessageSync sends a direct message and waits for the
// acknowledgement.
func (s *Session) SendMessageSync(ctx context.Context, to int64, message Message, timeout time.Duration) (int64, error) {
	return s.sendSync(ctx, ClassDirect, to, message, timeout)
}

// SendGroupMessage sends a message to group groupID.
func (s *Session) SendGroupMessage(groupID int64, message Message, callback func(error), timeout time.Duration) int64 {
	return s.send(ClassGroup, groupID, message, callback, timeout)
}

// SendGroupMessageSync is the blocking form of SendGroupMessage.
func (s *Session) SendGroupMessageSync(ctx context.Context, groupID int64, message Message, timeout time.Duration) (int64, error) {
	return s.sendSync(ctx, ClassGroup, groupID, message, timeout)
}

// SendRoomMessage sends a message to room roomID.
func (s *Session) SendRoomMessage(roomID int64, message Message, callback func(error), timeout time.Duration) int64 {
	return s.send(ClassRoom, roomID, message, callback, timeout)
}

// SendRoomMessageSync is the blocking form of SendRoomMessage.
func (s *Session) SendRoomMessageSync(ctx context.Context, roomID int64, message Message, timeout time.Duration) (int64, error) {
	return s.sendSync(ctx, ClassRoom, roomID, message, timeout)
}
