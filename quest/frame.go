// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package quest

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bureau-foundation/rtm/lib/codec"
)

// Frame kinds. Every frame is a 10-byte header followed by the body:
//
//	[kind: 1] [flags: 1] [seq: 4, big-endian] [body length: 4, big-endian]
const (
	// kindQuest carries a two-way quest. Body: {method, params}.
	kindQuest byte = 0x01

	// kindOneWay carries a quest the peer must not answer.
	kindOneWay byte = 0x02

	// kindAnswer carries the answer to the quest with the same seq.
	// Body: {params} or {error: {code, ex}}.
	kindAnswer byte = 0x03

	// kindHandshake carries the client's ephemeral public key, and in
	// the other direction the server's sealed acknowledgement.
	kindHandshake byte = 0x04
)

// flagSealed marks a body encrypted with the connection's AEAD.
const flagSealed byte = 0x01

const frameHeaderLength = 10

// maxBodyLength bounds a single frame body. File quests are the
// largest legitimate frames.
const maxBodyLength = 16 * 1024 * 1024

type frame struct {
	kind  byte
	flags byte
	seq   uint32
	body  []byte
}

// header returns the encoded header for a body of bodyLength bytes.
func (f frame) header(bodyLength int) [frameHeaderLength]byte {
	var header [frameHeaderLength]byte
	header[0] = f.kind
	header[1] = f.flags
	binary.BigEndian.PutUint32(header[2:6], f.seq)
	binary.BigEndian.PutUint32(header[6:10], uint32(bodyLength))
	return header
}

// writeFrame writes f in a single Write call so concurrent writers
// serialized by a mutex never interleave partial frames.
func writeFrame(w io.Writer, f frame) error {
	if len(f.body) > maxBodyLength {
		return fmt.Errorf("frame body length %d exceeds maximum %d", len(f.body), maxBodyLength)
	}
	header := f.header(len(f.body))
	buffer := make([]byte, 0, frameHeaderLength+len(f.body))
	buffer = append(buffer, header[:]...)
	buffer = append(buffer, f.body...)
	if _, err := w.Write(buffer); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readFrame reads one frame from r.
func readFrame(r io.Reader) (frame, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return frame{}, err
	}
	f := frame{
		kind:  header[0],
		flags: header[1],
		seq:   binary.BigEndian.Uint32(header[2:6]),
	}
	bodyLength := binary.BigEndian.Uint32(header[6:10])
	if bodyLength > maxBodyLength {
		return frame{}, fmt.Errorf("frame body length %d exceeds maximum %d", bodyLength, maxBodyLength)
	}
	f.body = make([]byte, bodyLength)
	if bodyLength > 0 {
		if _, err := io.ReadFull(r, f.body); err != nil {
			return frame{}, fmt.Errorf("read frame body: %w", err)
		}
	}
	return f, nil
}

type questBody struct {
	Method string `cbor:"method"`
	Params Params `cbor:"params,omitempty"`
}

type answerBody struct {
	Params Params `cbor:"params,omitempty"`
	Error  *Error `cbor:"error,omitempty"`
}

func encodeQuest(q *Quest) (frame, error) {
	body, err := codec.Marshal(questBody{Method: q.Method, Params: q.Params})
	if err != nil {
		return frame{}, NewError(CodeEncoding, "encoding quest %q: %v", q.Method, err)
	}
	kind := kindQuest
	if q.OneWay {
		kind = kindOneWay
	}
	return frame{kind: kind, seq: q.seq, body: body}, nil
}

func decodeQuest(f frame) (*Quest, error) {
	var body questBody
	if err := codec.Unmarshal(f.body, &body); err != nil {
		return nil, NewError(CodeDecoding, "decoding quest: %v", err)
	}
	if body.Method == "" {
		return nil, NewError(CodeDecoding, "quest has no method")
	}
	if body.Params == nil {
		body.Params = Params{}
	}
	return &Quest{
		Method: body.Method,
		OneWay: f.kind == kindOneWay,
		Params: body.Params,
		seq:    f.seq,
	}, nil
}

func encodeAnswer(seq uint32, a *Answer) (frame, error) {
	body, err := codec.Marshal(answerBody{Params: a.Params, Error: a.Err})
	if err != nil {
		return frame{}, NewError(CodeEncoding, "encoding answer: %v", err)
	}
	return frame{kind: kindAnswer, seq: seq, body: body}, nil
}

func decodeAnswer(f frame) (*Answer, error) {
	var body answerBody
	if err := codec.Unmarshal(f.body, &body); err != nil {
		return nil, NewError(CodeDecoding, "decoding answer: %v", err)
	}
	if body.Params == nil {
		body.Params = Params{}
	}
	return &Answer{Params: body.Params, Err: body.Error}, nil
}
