// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtm

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/rtm/quest"
)

// Transport is the quest connection a Session drives. *quest.Client
// implements it; tests substitute an in-memory fake.
type Transport interface {
	// Connect blocks until the connection is established or fails.
	Connect(ctx context.Context) error

	// SendQuest sends q and calls callback exactly once.
	SendQuest(q *quest.Quest, callback quest.AnswerCallback, timeout time.Duration)

	// SendQuestSync sends q and waits for the outcome.
	SendQuestSync(ctx context.Context, q *quest.Quest, timeout time.Duration) (*quest.Answer, error)

	Close()
	Endpoint() string

	SetConnectedCallback(callback func(peer string, connected bool))

	// SetWillCloseCallback registers the close notification. It must
	// run after the transport has failed its pending quests.
	SetWillCloseCallback(callback func(peer string, causedByError bool))

	SetQuestProcessor(processor quest.QuestProcessor)
}

// TransportFactory creates an unconnected transport for endpoint.
type TransportFactory func(endpoint string) Transport

// QuestTransport returns a factory producing *quest.Client transports
// with options.
func QuestTransport(options quest.ClientOptions) TransportFactory {
	return func(endpoint string) Transport {
		return quest.NewClient(endpoint, options)
	}
}

var _ Transport = (*quest.Client)(nil)

// Resolver maps a logical service name to a concrete endpoint.
type Resolver interface {
	Resolve(ctx context.Context, service string) (string, error)
}

// gatewayService is the dispatcher's name for the gateway fleet.
const gatewayService = "rtmGated"

// DispatchResolver asks a dispatcher which gateway to use with the
// "which" quest: {what: service} answered by {endpoint}.
type DispatchResolver struct {
	transport Transport
	timeout   time.Duration
}

// NewDispatchResolver returns a resolver querying the dispatcher
// reached through transport. A zero timeout uses the transport
// default.
func NewDispatchResolver(transport Transport, timeout time.Duration) *DispatchResolver {
	return &DispatchResolver{transport: transport, timeout: timeout}
}

// Resolve connects to the dispatcher if needed and asks for service.
func (r *DispatchResolver) Resolve(ctx context.Context, service string) (string, error) {
	if err := r.transport.Connect(ctx); err != nil {
		return "", fmt.Errorf("connecting to dispatcher: %w", err)
	}
	answer, err := r.transport.SendQuestSync(ctx, quest.NewQuest("which").Param("what", service), r.timeout)
	if err != nil {
		return "", fmt.Errorf("which %s: %w", service, err)
	}
	endpoint, err := answer.Params.WantString("endpoint")
	if err != nil {
		return "", fmt.Errorf("which %s: %w", service, err)
	}
	if endpoint == "" {
		return "", fmt.Errorf("which %s: dispatcher returned an empty endpoint", service)
	}
	return endpoint, nil
}
