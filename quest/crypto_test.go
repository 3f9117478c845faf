// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package quest

import (
	"bytes"
	"encoding/base64"
	"net"
	"testing"
)

func handshakePair(t *testing.T) (client, server *cipherState) {
	t.Helper()
	privateKey, publicKey, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	type result struct {
		state *cipherState
		err   error
	}
	serverResult := make(chan result, 1)
	go func() {
		state, err := serverHandshake(serverConn, privateKey)
		serverResult <- result{state, err}
	}()

	client, err = clientHandshake(clientConn, publicKey)
	if err != nil {
		t.Fatalf("clientHandshake: %v", err)
	}
	got := <-serverResult
	if got.err != nil {
		t.Fatalf("serverHandshake: %v", got.err)
	}
	return client, got.state
}

func TestHandshakeDerivesMatchingKeys(t *testing.T) {
	client, server := handshakePair(t)

	for _, body := range [][]byte{[]byte("first"), []byte("second")} {
		sealed := client.seal(frame{kind: kindQuest, seq: 1, body: body})
		if bytes.Contains(sealed.body, body) {
			t.Fatal("sealed body contains plaintext")
		}
		opened, err := server.open(sealed)
		if err != nil {
			t.Fatalf("server open: %v", err)
		}
		if !bytes.Equal(opened.body, body) || opened.flags&flagSealed != 0 {
			t.Errorf("got body %q flags %x", opened.body, opened.flags)
		}
	}

	reply := server.seal(frame{kind: kindAnswer, seq: 1, body: []byte("ok")})
	if _, err := client.open(reply); err != nil {
		t.Fatalf("client open: %v", err)
	}
}

func TestOpenRejectsTamperedHeader(t *testing.T) {
	client, server := handshakePair(t)
	sealed := client.seal(frame{kind: kindQuest, seq: 1, body: []byte("x")})
	sealed.seq = 2
	if _, err := server.open(sealed); err == nil {
		t.Fatal("expected authentication failure for modified seq")
	}
}

func TestHandshakeWrongServerKey(t *testing.T) {
	privateKey, _, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	_, otherPublic, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go serverHandshake(serverConn, privateKey)
	if _, err := clientHandshake(clientConn, otherPublic); err == nil {
		t.Fatal("expected handshake against the wrong key to fail")
	}
}

func TestParseKey(t *testing.T) {
	_, publicKey, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	encoded := base64.StdEncoding.EncodeToString(publicKey) + "\n"

	parsed, err := ParseKey([]byte(encoded))
	if err != nil || !bytes.Equal(parsed, publicKey) {
		t.Errorf("ParseKey(base64) = %x, %v", parsed, err)
	}
	parsed, err = ParseKey(publicKey)
	if err != nil || !bytes.Equal(parsed, publicKey) {
		t.Errorf("ParseKey(raw) = %x, %v", parsed, err)
	}
	if _, err := ParseKey([]byte("c2hvcnQ=")); err == nil {
		t.Error("ParseKey accepted a short key")
	}
}
