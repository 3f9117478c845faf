// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtm

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/rtm/lib/clock"
	"github.com/bureau-foundation/rtm/lib/compress"
	"github.com/bureau-foundation/rtm/quest"
)

// File is a file to send through the file gateway.
type File struct {
	// Name is the file name shown to recipients. Its extension is
	// sent separately as "ext".
	Name    string
	Content []byte

	// Type is the application message type (mtype), encoded the same
	// way as Message.Type.
	Type int64

	// Compression is applied to Content on the wire. Content that does
	// not shrink is sent uncompressed.
	Compression compress.Method
}

// ReadFile loads path into a File named after its base name.
func ReadFile(path string, fileType int64) (File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return File{Name: filepath.Base(path), Content: content, Type: fileType}, nil
}

// FileAttrs is the JSON document carried in a file message's attrs.
type FileAttrs struct {
	Sign     string          `json:"sign"`
	Ext      string          `json:"ext,omitempty"`
	Filename string          `json:"filename,omitempty"`
	Cmp      compress.Method `json:"cmp,omitempty"`
	Size     int             `json:"size,omitempty"`
}

// FileSignature binds content to a file token: the hex BLAKE3 of
// "hex(BLAKE3(content)):token". The file gateway recomputes it to
// reject uploads that do not match the token it issued.
func FileSignature(token string, content []byte) string {
	inner := blake3.Sum256(content)
	outer := blake3.Sum256([]byte(hex.EncodeToString(inner[:]) + ":" + token))
	return hex.EncodeToString(outer[:])
}

// fileExtension returns the extension of name without the dot, or ""
// for names without one (including dotfiles).
func fileExtension(name string) string {
	position := strings.LastIndexByte(name, '.')
	if position <= 0 {
		return ""
	}
	return name[position+1:]
}

// fileVerbs maps a message class to the file command and the
// parameter naming the recipient.
var fileVerbs = map[MessageClass]struct {
	command string
	target  string
}{
	ClassDirect: {"sendfile", "to"},
	ClassGroup:  {"sendgroupfile", "gid"},
	ClassRoom:   {"sendroomfile", "rid"},
}

// SendFile sends file to user to.
func (s *Session) SendFile(to int64, file File, callback func(messageID int64, err error), timeout time.Duration) {
	s.sendFile(ClassDirect, to, file, callback, timeout)
}

// SendGroupFile sends file to group groupID.
func (s *Session) SendGroupFile(groupID int64, file File, callback func(messageID int64, err error), timeout time.Duration) {
	s.sendFile(ClassGroup, groupID, file, callback, timeout)
}

// SendRoomFile sends file to room roomID.
func (s *Session) SendRoomFile(roomID int64, file File, callback func(messageID int64, err error), timeout time.Duration) {
	s.sendFile(ClassRoom, roomID, file, callback, timeout)
}

// SendFileSync sends file to a recipient of class and waits for the
// file gateway's acknowledgement.
func (s *Session) SendFileSync(ctx context.Context, class MessageClass, target int64, file File, timeout time.Duration) (int64, error) {
	type result struct {
		messageID int64
		err       error
	}
	results := make(chan result, 1)
	s.sendFile(class, target, file, func(messageID int64, err error) {
		results <- result{messageID: messageID, err: err}
	}, timeout)
	select {
	case r := <-results:
		return r.messageID, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// sendFile runs the two-step transfer: a filetoken quest on the
// session, then the file itself on an auxiliary connection to the
// endpoint the gateway named. Both steps share one timeout budget.
func (s *Session) sendFile(class MessageClass, target int64, file File, callback func(int64, error), timeout time.Duration) {
	if callback == nil {
		callback = func(int64, error) {}
	}
	verb, ok := fileVerbs[class]
	if !ok {
		callback(0, fmt.Errorf("rtm: cannot send files to %s recipients", class))
		return
	}

	started := s.clock.Now()
	budget := timeout
	if budget == 0 {
		budget = s.QuestTimeout()
	}

	tokenQuest := quest.NewQuest("filetoken").
		Param("cmd", verb.command).
		Param(verb.target, target)
	s.SendQuest(tokenQuest, func(answer *quest.Answer, err error) {
		if err != nil {
			callback(0, fmt.Errorf("requesting file token: %w", err))
			return
		}
		token, err := answer.Params.WantString("token")
		if err != nil {
			callback(0, fmt.Errorf("file token answer: %w", err))
			return
		}
		endpoint, err := answer.Params.WantString("endpoint")
		if err != nil {
			callback(0, fmt.Errorf("file token answer: %w", err))
			return
		}

		remaining := budget - clock.Since(s.clock, started)
		if remaining <= 0 {
			callback(0, quest.NewError(quest.CodeTimeout, "file token received but no budget left to send %s", file.Name))
			return
		}

		payload, method, err := compress.Compress(file.Content, file.Compression)
		if err != nil {
			callback(0, fmt.Errorf("compressing %s: %w", file.Name, err))
			return
		}
		attrs := FileAttrs{
			Sign:     FileSignature(token, file.Content),
			Ext:      fileExtension(file.Name),
			Filename: file.Name,
		}
		if method != compress.MethodNone {
			attrs.Cmp = method
			attrs.Size = len(file.Content)
		}
		encodedAttrs, err := json.Marshal(attrs)
		if err != nil {
			callback(0, fmt.Errorf("encoding file attrs: %w", err))
			return
		}

		messageID := NextMessageID()
		fileQuest := quest.NewQuest(verb.command).
			Param("pid", s.credentialsPID()).
			Param("token", token).
			Param("mtype", file.Type).
			Param("from", s.UID()).
			Param(verb.target, target).
			Param("mid", messageID).
			Param("file", payload).
			Param("attrs", string(encodedAttrs))

		s.logger.Debug("sending file",
			"name", file.Name,
			"endpoint", endpoint,
			"bytes", len(payload),
			"compression", string(method),
		)
		gateway := s.scheduler.AuxiliaryConnection(endpoint, remaining)
		gateway.SendQuest(fileQuest, func(_ *quest.Answer, err error) {
			callback(messageID, err)
		}, remaining)
	}, timeout)
}

func (s *Session) credentialsPID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credentials.PID
}
