// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package quest

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of X25519 private and public keys.
const KeySize = curve25519.ScalarSize

// Key schedule labels. The salt binds both public keys so a key
// derived for one gateway is useless against another.
var (
	hkdfInfoClientToServer = []byte("rtm.quest.v1 c2s")
	hkdfInfoServerToClient = []byte("rtm.quest.v1 s2c")
)

// GenerateKey returns a new X25519 key pair.
func GenerateKey() (privateKey, publicKey []byte, err error) {
	privateKey = make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, privateKey); err != nil {
		return nil, nil, fmt.Errorf("generating private key: %w", err)
	}
	publicKey, err = PublicKey(privateKey)
	if err != nil {
		return nil, nil, err
	}
	return privateKey, publicKey, nil
}

// PublicKey derives the public key for privateKey.
func PublicKey(privateKey []byte) ([]byte, error) {
	publicKey, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}
	return publicKey, nil
}

// ParseKey accepts a key file's contents: either KeySize raw bytes or
// the standard base64 encoding of them, surrounding whitespace
// ignored.
func ParseKey(data []byte) ([]byte, error) {
	if len(data) == KeySize {
		return data, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("key is neither %d raw bytes nor base64: %w", KeySize, err)
	}
	if len(decoded) != KeySize {
		return nil, fmt.Errorf("key is %d bytes, want %d", len(decoded), KeySize)
	}
	return decoded, nil
}

// cipherState seals outgoing and opens incoming frame bodies. Nonces
// are per-direction counters, so a key is never reused with the same
// nonce. The send side is guarded by the link's write mutex; the
// receive side is only touched by the read loop.
type cipherState struct {
	send         cipher.AEAD
	receive      cipher.AEAD
	sendCount    uint64
	receiveCount uint64
}

func newCipherState(sendKey, receiveKey []byte) (*cipherState, error) {
	send, err := chacha20poly1305.New(sendKey)
	if err != nil {
		return nil, fmt.Errorf("creating send cipher: %w", err)
	}
	receive, err := chacha20poly1305.New(receiveKey)
	if err != nil {
		return nil, fmt.Errorf("creating receive cipher: %w", err)
	}
	return &cipherState{send: send, receive: receive}, nil
}

func counterNonce(counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[chacha20poly1305.NonceSize-8:], counter)
	return nonce
}

// seal encrypts f.body in place of the plaintext and sets flagSealed.
// The header's kind, flags, and seq are authenticated.
func (c *cipherState) seal(f frame) frame {
	f.flags |= flagSealed
	header := f.header(len(f.body) + c.send.Overhead())
	nonce := counterNonce(c.sendCount)
	c.sendCount++
	f.body = c.send.Seal(nil, nonce, f.body, header[:6])
	return f
}

func (c *cipherState) open(f frame) (frame, error) {
	if f.flags&flagSealed == 0 {
		return frame{}, errors.New("unsealed frame on encrypted connection")
	}
	header := f.header(len(f.body))
	nonce := counterNonce(c.receiveCount)
	plaintext, err := c.receive.Open(nil, nonce, f.body, header[:6])
	if err != nil {
		return frame{}, fmt.Errorf("opening frame: %w", err)
	}
	c.receiveCount++
	f.flags &^= flagSealed
	f.body = plaintext
	return f, nil
}

// deriveKeys runs the key schedule shared by both ends.
func deriveKeys(privateKey, peerPublicKey, clientPublicKey, serverPublicKey []byte) (clientToServer, serverToClient []byte, err error) {
	shared, err := curve25519.X25519(privateKey, peerPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("key agreement: %w", err)
	}
	salt := make([]byte, 0, 2*KeySize)
	salt = append(salt, clientPublicKey...)
	salt = append(salt, serverPublicKey...)

	clientToServer = make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, hkdfInfoClientToServer), clientToServer); err != nil {
		return nil, nil, fmt.Errorf("deriving client key: %w", err)
	}
	serverToClient = make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, hkdfInfoServerToClient), serverToClient); err != nil {
		return nil, nil, fmt.Errorf("deriving server key: %w", err)
	}
	return clientToServer, serverToClient, nil
}

// clientHandshake sends an ephemeral public key to the server and
// waits for the sealed acknowledgement that proves both sides derived
// the same keys.
func clientHandshake(rw io.ReadWriter, serverPublicKey []byte) (*cipherState, error) {
	if len(serverPublicKey) != KeySize {
		return nil, fmt.Errorf("server public key is %d bytes, want %d", len(serverPublicKey), KeySize)
	}
	ephemeralPrivate, ephemeralPublic, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	clientToServer, serverToClient, err := deriveKeys(ephemeralPrivate, serverPublicKey, ephemeralPublic, serverPublicKey)
	if err != nil {
		return nil, err
	}
	state, err := newCipherState(clientToServer, serverToClient)
	if err != nil {
		return nil, err
	}

	if err := writeFrame(rw, frame{kind: kindHandshake, body: ephemeralPublic}); err != nil {
		return nil, err
	}
	reply, err := readFrame(rw)
	if err != nil {
		return nil, fmt.Errorf("reading handshake reply: %w", err)
	}
	if reply.kind != kindHandshake {
		return nil, fmt.Errorf("handshake reply has frame kind %d", reply.kind)
	}
	if _, err := state.open(reply); err != nil {
		return nil, fmt.Errorf("handshake rejected: %w", err)
	}
	return state, nil
}

// serverHandshake reads the client's ephemeral key and acknowledges
// it with a sealed empty frame.
func serverHandshake(rw io.ReadWriter, privateKey []byte) (*cipherState, error) {
	publicKey, err := PublicKey(privateKey)
	if err != nil {
		return nil, err
	}
	hello, err := readFrame(rw)
	if err != nil {
		return nil, fmt.Errorf("reading handshake: %w", err)
	}
	if hello.kind != kindHandshake {
		return nil, fmt.Errorf("expected handshake, got frame kind %d", hello.kind)
	}
	if len(hello.body) != KeySize {
		return nil, fmt.Errorf("handshake key is %d bytes, want %d", len(hello.body), KeySize)
	}
	clientToServer, serverToClient, err := deriveKeys(privateKey, hello.body, hello.body, publicKey)
	if err != nil {
		return nil, err
	}
	state, err := newCipherState(serverToClient, clientToServer)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(rw, state.seal(frame{kind: kindHandshake})); err != nil {
		return nil, err
	}
	return state, nil
}
