// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/rtm/lib/compress"
	"github.com/bureau-foundation/rtm/quest"
	"github.com/bureau-foundation/rtm/rtm"
)

// Gateway error codes, in the gateway's own range.
const (
	codeNotAuthenticated = 200010
	codeInvalidToken     = 200040
	codeBadSignature     = 200041
	codeInvalidFile      = 200042
)

// echoVerbs maps a send verb to the push it is echoed as and the
// parameter carrying the group or room id.
var echoVerbs = map[string]struct {
	push  string
	scope string
}{
	"sendmsg":      {push: "pushmsg"},
	"sendgroupmsg": {push: "pushgroupmsg", scope: "gid"},
	"sendroommsg":  {push: "pushroommsg", scope: "rid"},
}

// fileCommands maps a file command to its target parameter.
var fileCommands = map[string]string{
	"sendfile":      "to",
	"sendgroupfile": "gid",
	"sendroomfile":  "rid",
}

// fileGrant is an issued file token.
type fileGrant struct {
	command string
	target  int64
	uid     int64
}

// receivedFile is a verified upload.
type receivedFile struct {
	Grant   fileGrant
	Name    string
	Content []byte
}

type gateway struct {
	address   string
	token     string
	duplicate int
	logger    *slog.Logger

	mu       sync.Mutex
	sessions int
	grants   map[string]fileGrant
	files    []receivedFile
}

func newGateway(address, token string, duplicate int, logger *slog.Logger) *gateway {
	return &gateway{
		address:   address,
		token:     token,
		duplicate: duplicate,
		logger:    logger,
		grants:    make(map[string]fileGrant),
	}
}

func (g *gateway) register(server *quest.Server) {
	server.Handle("which", g.handleWhich)
	server.Handle("auth", g.handleAuth)
	server.Handle("ping", g.handlePing)
	server.Handle("bye", g.authenticated(g.handleBye))
	for verb := range echoVerbs {
		server.Handle(verb, g.authenticated(g.handleSend))
	}
	server.Handle("filetoken", g.authenticated(g.handleFileToken))
	for command := range fileCommands {
		server.Handle(command, g.handleFile)
	}
}

// authenticated rejects quests on connections that have not passed
// auth.
func (g *gateway) authenticated(handler quest.HandlerFunc) quest.HandlerFunc {
	return func(ctx context.Context, conn *quest.ServerConn, q *quest.Quest) (quest.Params, error) {
		if _, ok := conn.Value("uid"); !ok {
			return nil, quest.NewError(codeNotAuthenticated, "%s requires auth", q.Method)
		}
		return handler(ctx, conn, q)
	}
}

func connectionUID(conn *quest.ServerConn) int64 {
	value, _ := conn.Value("uid")
	uid, _ := value.(int64)
	return uid
}

func (g *gateway) handleWhich(ctx context.Context, conn *quest.ServerConn, q *quest.Quest) (quest.Params, error) {
	what, err := q.Params.WantString("what")
	if err != nil {
		return nil, err
	}
	g.logger.Info("which", "what", what, "remote", conn.RemoteAddr())
	return quest.Params{"endpoint": g.address}, nil
}

func (g *gateway) handleAuth(ctx context.Context, conn *quest.ServerConn, q *quest.Quest) (quest.Params, error) {
	uid, err := q.Params.WantInt64("uid")
	if err != nil {
		return nil, err
	}
	token, err := q.Params.WantString("token")
	if err != nil {
		return nil, err
	}
	if token != g.token {
		g.logger.Warn("auth rejected", "uid", uid, "remote", conn.RemoteAddr())
		return quest.Params{"ok": false}, nil
	}

	conn.SetValue("uid", uid)
	g.mu.Lock()
	g.sessions++
	g.mu.Unlock()
	g.logger.Info("authenticated",
		"uid", uid,
		"pid", q.Params.Int64("pid", 0),
		"version", q.Params.String("version", ""),
		"remote", conn.RemoteAddr(),
	)

	if q.Params.Bool("unread", false) {
		go g.push(conn, quest.NewQuest("pushunread").
			Param("p2p", []int64{}).
			Param("group", []int64{}).
			Param("bc", false))
	}
	return quest.Params{"ok": true}, nil
}

func (g *gateway) handlePing(ctx context.Context, conn *quest.ServerConn, q *quest.Quest) (quest.Params, error) {
	return quest.Params{}, nil
}

func (g *gateway) handleBye(ctx context.Context, conn *quest.ServerConn, q *quest.Quest) (quest.Params, error) {
	g.logger.Info("bye", "uid", connectionUID(conn))
	return quest.Params{}, nil
}

// handleSend echoes a message back to its sender.
func (g *gateway) handleSend(ctx context.Context, conn *quest.ServerConn, q *quest.Quest) (quest.Params, error) {
	verb := echoVerbs[q.Method]
	push := quest.NewQuest(verb.push).
		Param("from", connectionUID(conn)).
		Param("mtype", q.Params.Int64("mtype", 0)).
		Param("ftype", int64(0)).
		Param("mid", q.Params.Int64("mid", 0)).
		Param("msg", q.Params.String("msg", "")).
		Param("attrs", q.Params.String("attrs", ""))
	if verb.scope != "" {
		scope, err := q.Params.WantInt64(verb.scope)
		if err != nil {
			return nil, err
		}
		push.Param(verb.scope, scope)
	}

	go func() {
		for range g.duplicate {
			g.push(conn, push)
		}
	}()
	return quest.Params{}, nil
}

func (g *gateway) push(conn *quest.ServerConn, q *quest.Quest) {
	if _, err := conn.SendQuestSync(context.Background(), q, 0); err != nil {
		g.logger.Warn("push failed", "method", q.Method, "error", err)
	}
}

func (g *gateway) handleFileToken(ctx context.Context, conn *quest.ServerConn, q *quest.Quest) (quest.Params, error) {
	command, err := q.Params.WantString("cmd")
	if err != nil {
		return nil, err
	}
	targetParam, ok := fileCommands[command]
	if !ok {
		return nil, quest.NewError(codeInvalidFile, "unknown file command %q", command)
	}
	target, err := q.Params.WantInt64(targetParam)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	g.mu.Lock()
	g.grants[token] = fileGrant{command: command, target: target, uid: connectionUID(conn)}
	g.mu.Unlock()
	return quest.Params{"token": token, "endpoint": g.address}, nil
}

// handleFile verifies and records an upload. Uploads arrive on
// unauthenticated auxiliary connections; the token authorizes them.
func (g *gateway) handleFile(ctx context.Context, conn *quest.ServerConn, q *quest.Quest) (quest.Params, error) {
	token, err := q.Params.WantString("token")
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	grant, ok := g.grants[token]
	delete(g.grants, token)
	g.mu.Unlock()
	if !ok || grant.command != q.Method {
		return nil, quest.NewError(codeInvalidToken, "invalid file token")
	}

	rawAttrs, err := q.Params.WantString("attrs")
	if err != nil {
		return nil, err
	}
	var attrs rtm.FileAttrs
	if err := json.Unmarshal([]byte(rawAttrs), &attrs); err != nil {
		return nil, quest.NewError(codeInvalidFile, "attrs: %v", err)
	}
	value, ok := q.Params.Get("file")
	payload, isBytes := value.([]byte)
	if !ok || !isBytes {
		return nil, quest.NewError(codeInvalidFile, "missing file content")
	}
	content := payload
	if attrs.Cmp != "" && attrs.Cmp != compress.MethodNone {
		if content, err = compress.Decompress(payload, attrs.Cmp, attrs.Size); err != nil {
			return nil, quest.NewError(codeInvalidFile, "%v", err)
		}
	}
	if rtm.FileSignature(token, content) != attrs.Sign {
		return nil, quest.NewError(codeBadSignature, "file signature mismatch")
	}

	g.mu.Lock()
	g.files = append(g.files, receivedFile{Grant: grant, Name: attrs.Filename, Content: content})
	g.mu.Unlock()
	g.logger.Info("file received",
		"name", attrs.Filename,
		"bytes", len(content),
		"wire_bytes", len(payload),
		"compression", fmt.Sprint(attrs.Cmp),
		"from", grant.uid,
		"target", grant.target,
	)
	return quest.Params{}, nil
}

func (g *gateway) disconnected(conn *quest.ServerConn) {
	if _, ok := conn.Value("uid"); !ok {
		return
	}
	g.mu.Lock()
	g.sessions--
	g.mu.Unlock()
	g.logger.Info("session ended", "uid", connectionUID(conn))
}

// receivedFiles returns a copy of every verified upload.
func (g *gateway) receivedFiles() []receivedFile {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]receivedFile(nil), g.files...)
}
