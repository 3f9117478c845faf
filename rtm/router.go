// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtm

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/rtm/quest"
)

// pushKind describes one message push verb.
type pushKind struct {
	class      MessageClass
	scopeParam string // "gid" or "rid"; empty for direct and broadcast
	translated bool
}

var pushKinds = map[string]pushKind{
	"pushmsg":           {class: ClassDirect},
	"pushgroupmsg":      {class: ClassGroup, scopeParam: "gid"},
	"pushroommsg":       {class: ClassRoom, scopeParam: "rid"},
	"pushbroadcastmsg":  {class: ClassBroadcast},
	"transmsg":          {class: ClassDirect, translated: true},
	"transgroupmsg":     {class: ClassGroup, scopeParam: "gid", translated: true},
	"transroommsg":      {class: ClassRoom, scopeParam: "rid", translated: true},
	"transbroadcastmsg": {class: ClassBroadcast, translated: true},
}

// Router decodes gateway pushes into events. Message pushes are
// acknowledged first, then checked against the dedup filter, then
// delivered to the event sink. Kickouts are not acknowledged.
type Router struct {
	filter *DedupFilter
	logger *slog.Logger

	// onKickout runs after a KickoutEvent has been delivered.
	onKickout func()

	mu   sync.RWMutex
	sink EventSink
}

// NewRouter returns a router checking message pushes against filter.
func NewRouter(filter *DedupFilter, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{filter: filter, logger: logger}
}

// SetEventSink replaces the sink. A nil sink drops events.
func (r *Router) SetEventSink(sink EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

func (r *Router) deliver(event Event) {
	r.mu.RLock()
	sink := r.sink
	r.mu.RUnlock()
	if sink != nil {
		sink.HandleEvent(event)
	}
}

// Process is the quest.QuestProcessor for a gateway connection.
func (r *Router) Process(q *quest.Quest, respond quest.Responder) {
	switch q.Method {
	case "kickout":
		r.deliver(KickoutEvent{})
		if r.onKickout != nil {
			r.onKickout()
		}
		return

	case "kickoutroom":
		roomID, err := q.Params.WantInt64("rid")
		if err != nil {
			r.logger.Warn("dropping malformed push", "method", q.Method, "error", err)
			return
		}
		r.deliver(RoomKickoutEvent{RoomID: roomID})
		return

	case "ping":
		r.acknowledge(q, respond)
		return

	case "pushunread":
		r.acknowledge(q, respond)
		event, err := decodeUnread(q.Params)
		if err != nil {
			r.logger.Warn("dropping malformed push", "method", q.Method, "error", err)
			return
		}
		r.deliver(event)
		return
	}

	kind, ok := pushKinds[q.Method]
	if !ok {
		r.logger.Debug("unknown push", "method", q.Method)
		respond(quest.NewErrorAnswer(quest.CodeUnknownMethod, fmt.Sprintf("unknown method %q", q.Method)))
		return
	}

	r.acknowledge(q, respond)

	event, key, err := decodeMessage(q.Params, kind)
	if err != nil {
		r.logger.Warn("dropping malformed push", "method", q.Method, "error", err)
		return
	}
	if !r.filter.Test(key) {
		r.logger.Debug("suppressed duplicate push",
			"method", q.Method,
			"scope", key.Scope,
			"from", key.Sender,
			"mid", key.MessageID,
		)
		return
	}
	r.deliver(event)
}

func (r *Router) acknowledge(q *quest.Quest, respond quest.Responder) {
	if err := respond(quest.NewAnswer()); err != nil {
		r.logger.Debug("acknowledging push failed", "method", q.Method, "error", err)
	}
}

func decodeMessage(params quest.Params, kind pushKind) (Event, MessageKey, error) {
	var scope int64
	if kind.scopeParam != "" {
		var err error
		if scope, err = params.WantInt64(kind.scopeParam); err != nil {
			return nil, MessageKey{}, err
		}
	}
	from, err := params.WantInt64("from")
	if err != nil {
		return nil, MessageKey{}, err
	}
	messageID, err := params.WantInt64("mid")
	if err != nil {
		return nil, MessageKey{}, err
	}
	message, err := params.WantString("msg")
	if err != nil {
		return nil, MessageKey{}, err
	}
	key := MessageKey{Class: kind.class, Scope: scope, Sender: from, MessageID: messageID}

	if kind.translated {
		originalID, err := params.WantInt64("omid")
		if err != nil {
			return nil, MessageKey{}, err
		}
		return TranslatedMessageEvent{
			Class:             kind.class,
			Scope:             scope,
			From:              from,
			MessageID:         messageID,
			OriginalMessageID: originalID,
			Message:           message,
		}, key, nil
	}

	messageType, err := params.WantInt64("mtype")
	if err != nil {
		return nil, MessageKey{}, err
	}
	fileType, err := params.WantInt64("ftype")
	if err != nil {
		return nil, MessageKey{}, err
	}
	attrs, err := params.WantString("attrs")
	if err != nil {
		return nil, MessageKey{}, err
	}
	return MessageEvent{
		Class:       kind.class,
		Scope:       scope,
		From:        from,
		MessageType: messageType,
		FileType:    fileType,
		MessageID:   messageID,
		Message:     message,
		Attrs:       attrs,
	}, key, nil
}

func decodeUnread(params quest.Params) (UnreadEvent, error) {
	senders, err := params.WantInt64List("p2p")
	if err != nil {
		return UnreadEvent{}, err
	}
	groups, err := params.WantInt64List("group")
	if err != nil {
		return UnreadEvent{}, err
	}
	broadcast, err := params.WantBool("bc")
	if err != nil {
		return UnreadEvent{}, err
	}
	return UnreadEvent{Senders: senders, Groups: groups, Broadcast: broadcast}, nil
}
