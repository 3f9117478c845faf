// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/rtm/lib/logging"
	"github.com/bureau-foundation/rtm/lib/process"
	"github.com/bureau-foundation/rtm/lib/version"
	"github.com/bureau-foundation/rtm/quest"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		listen         string
		token          string
		privateKeyFile string
		generateKey    string
		duplicate      int
		logLevel       string
	)
	flagSet := pflag.NewFlagSet("rtm-gateway-mock", pflag.ContinueOnError)
	flagSet.StringVar(&listen, "listen", "127.0.0.1:13321", "listen address")
	flagSet.StringVar(&token, "token", "", "token accepted by auth (required)")
	flagSet.StringVar(&privateKeyFile, "private-key-file", "", "static X25519 private key; enables encryption")
	flagSet.StringVar(&generateKey, "generate-key", "", "write a key pair to FILE and FILE.pub, then exit")
	flagSet.IntVar(&duplicate, "duplicate", 2, "times each echoed message is pushed")
	flagSet.StringVar(&logLevel, "log-level", "info", "debug, info, warn, error")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("rtm-gateway-mock")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if generateKey != "" {
		return writeKeyPair(generateKey)
	}
	if token == "" {
		return errors.New("--token is required")
	}
	if duplicate < 1 {
		return fmt.Errorf("--duplicate must be at least 1, got %d", duplicate)
	}

	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := logging.New(level, logging.FormatAuto)

	var privateKey []byte
	if privateKeyFile != "" {
		data, err := os.ReadFile(privateKeyFile)
		if err != nil {
			return fmt.Errorf("reading private key: %w", err)
		}
		if privateKey, err = quest.ParseKey(data); err != nil {
			return fmt.Errorf("private key %s: %w", privateKeyFile, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	gateway := newGateway(listener.Addr().String(), token, duplicate, logger)
	server := quest.NewServer(quest.ServerOptions{
		Logger:     logger,
		PrivateKey: privateKey,
		OnClose: func(conn *quest.ServerConn) {
			gateway.disconnected(conn)
		},
	})
	gateway.register(server)

	logger.Info("gateway mock running",
		"address", listener.Addr().String(),
		"encrypted", privateKey != nil,
		"duplicate", duplicate,
	)
	err = server.Serve(ctx, listener)
	logger.Info("shutting down")
	return err
}

func writeKeyPair(path string) error {
	privateKey, publicKey, err := quest.GenerateKey()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(privateKey)+"\n"), 0o600); err != nil {
		return err
	}
	return os.WriteFile(path+".pub", []byte(base64.StdEncoding.EncodeToString(publicKey)+"\n"), 0o644)
}
