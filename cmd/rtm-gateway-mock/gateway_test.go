// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/bureau-foundation/rtm/lib/compress"
	"github.com/bureau-foundation/rtm/lib/logging"
	"github.com/bureau-foundation/rtm/lib/testutil"
	"github.com/bureau-foundation/rtm/quest"
	"github.com/bureau-foundation/rtm/rtm"
)

const testTimeout = 5 * time.Second

// startGateway runs a mock gateway on a loopback port until the test
// ends. A non-nil privateKey enables encryption.
func startGateway(t *testing.T, duplicate int, privateKey []byte) *gateway {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	mock := newGateway(listener.Addr().String(), "secret", duplicate, logging.Discard())
	server := quest.NewServer(quest.ServerOptions{
		PrivateKey: privateKey,
		OnClose:    mock.disconnected,
	})
	mock.register(server)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		server.Serve(ctx, listener)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, served, testTimeout, "gateway shutdown")
	})
	return mock
}

func connectSession(t *testing.T, mock *gateway, publicKey []byte, sink rtm.EventSink) *rtm.Session {
	t.Helper()
	clientOptions := quest.ClientOptions{ServerPublicKey: publicKey}
	auxiliaryOptions := clientOptions
	auxiliaryOptions.AutoConnect = true
	scheduler := rtm.NewScheduler(rtm.SchedulerOptions{Dial: rtm.QuestTransport(auxiliaryOptions)})
	t.Cleanup(scheduler.Stop)

	session, err := rtm.NewSession(rtm.Options{
		Endpoint:     mock.address,
		Scheduler:    scheduler,
		NewTransport: rtm.QuestTransport(clientOptions),
		EventSink:    sink,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(session.Close)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	ok, err := session.ConnectSync(ctx, rtm.Credentials{PID: 1, UID: 42, Token: "secret"})
	if !ok {
		t.Fatalf("ConnectSync: %v", err)
	}
	return session
}

func TestGatewayEchoIsDeduplicatedByClient(t *testing.T) {
	t.Parallel()

	mock := startGateway(t, 3, nil)
	events := make(chan rtm.Event, 8)
	session := connectSession(t, mock, nil, rtm.EventSinkFunc(func(event rtm.Event) { events <- event }))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	messageID, err := session.SendGroupMessageSync(ctx, 9, rtm.Message{Type: 30, Text: "standup"}, 0)
	if err != nil {
		t.Fatalf("SendGroupMessageSync: %v", err)
	}

	event := testutil.RequireReceive(t, events, testTimeout, "echoed message").(rtm.MessageEvent)
	if event.Class != rtm.ClassGroup || event.Scope != 9 || event.MessageID != messageID || event.From != 42 {
		t.Errorf("event = %+v, want group 9 mid %d from 42", event, messageID)
	}
	testutil.RequireNoReceive(t, events, 100*time.Millisecond, "duplicate echo delivered")
}

func TestGatewayVerifiesCompressedFile(t *testing.T) {
	t.Parallel()

	privateKey, publicKey, err := quest.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	mock := startGateway(t, 1, privateKey)
	session := connectSession(t, mock, publicKey, nil)

	content := bytes.Repeat([]byte("line of a log file\n"), 500)
	file := rtm.File{Name: "app.log", Content: content, Type: 50, Compression: compress.MethodLZ4}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if _, err := session.SendFileSync(ctx, rtm.ClassRoom, 5, file, 0); err != nil {
		t.Fatalf("SendFileSync: %v", err)
	}

	files := mock.receivedFiles()
	if len(files) != 1 {
		t.Fatalf("gateway received %d files, want 1", len(files))
	}
	received := files[0]
	if received.Name != "app.log" || !bytes.Equal(received.Content, content) {
		t.Errorf("received %q with %d bytes, want app.log with %d", received.Name, len(received.Content), len(content))
	}
	if received.Grant.command != "sendroomfile" || received.Grant.target != 5 || received.Grant.uid != 42 {
		t.Errorf("grant = %+v, want sendroomfile to room 5 from 42", received.Grant)
	}
}

func TestGatewayRejectsWrongToken(t *testing.T) {
	t.Parallel()

	mock := startGateway(t, 1, nil)
	scheduler := rtm.NewScheduler(rtm.SchedulerOptions{})
	t.Cleanup(scheduler.Stop)
	session, err := rtm.NewSession(rtm.Options{Endpoint: mock.address, Scheduler: scheduler})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(session.Close)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	ok, err := session.ConnectSync(ctx, rtm.Credentials{PID: 1, UID: 42, Token: "guess"})
	if ok || quest.Code(err) != rtm.CodeAuthRejected {
		t.Errorf("ConnectSync = %v, %v; want rejection", ok, err)
	}
}

func TestGatewayRequiresAuthAndValidFileToken(t *testing.T) {
	t.Parallel()

	mock := startGateway(t, 1, nil)
	client := quest.NewClient(mock.address, quest.ClientOptions{})
	t.Cleanup(client.Close)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err := client.SendQuestSync(ctx, quest.NewQuest("filetoken").Param("cmd", "sendfile").Param("to", int64(1)), 0)
	if quest.Code(err) != codeNotAuthenticated {
		t.Errorf("filetoken before auth = %v, want code %d", err, codeNotAuthenticated)
	}

	upload := quest.NewQuest("sendfile").
		Param("token", "forged").
		Param("file", []byte("x")).
		Param("attrs", `{"sign":"00"}`)
	_, err = client.SendQuestSync(ctx, upload, 0)
	if quest.Code(err) != codeInvalidToken {
		t.Errorf("upload with forged token = %v, want code %d", err, codeInvalidToken)
	}

	answer, err := client.SendQuestSync(ctx, quest.NewQuest("which").Param("what", "rtmGated"), 0)
	if err != nil {
		t.Fatalf("which: %v", err)
	}
	if endpoint, _ := answer.Params.WantString("endpoint"); endpoint != mock.address {
		t.Errorf("which endpoint = %q, want %q", endpoint, mock.address)
	}
}

func TestGatewayRejectsBadSignature(t *testing.T) {
	t.Parallel()

	mock := startGateway(t, 1, nil)
	mock.mu.Lock()
	mock.grants["tok"] = fileGrant{command: "sendfile", target: 1, uid: 42}
	mock.mu.Unlock()

	client := quest.NewClient(mock.address, quest.ClientOptions{})
	t.Cleanup(client.Close)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	upload := quest.NewQuest("sendfile").
		Param("token", "tok").
		Param("file", []byte("real content")).
		Param("attrs", `{"sign":"`+rtm.FileSignature("tok", []byte("other content"))+`"}`)
	_, err := client.SendQuestSync(ctx, upload, 0)
	if quest.Code(err) != codeBadSignature {
		t.Errorf("upload with wrong signature = %v, want code %d", err, codeBadSignature)
	}
	if got := len(mock.receivedFiles()); got != 0 {
		t.Errorf("gateway kept %d files, want 0", got)
	}
}
