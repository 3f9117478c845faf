// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the *slog.Logger handed to sessions, the
// scheduler, and the quest transport.
//
// Output goes to stderr. A terminal gets slog.TextHandler for people;
// a pipe or file gets slog.JSONHandler for log collectors. Components
// never log through a package global: they receive a logger and scope
// it with With().
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Format selects the handler.
type Format string

const (
	// FormatAuto picks text for terminals and JSON otherwise.
	FormatAuto Format = ""
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// The empty string means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", name)
	}
}

// ParseFormat validates a configured format name.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(name)) {
	case FormatAuto, "auto":
		return FormatAuto, nil
	case FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q (want text, json or auto)", name)
	}
}

// New returns a logger writing to stderr.
func New(level slog.Level, format Format) *slog.Logger {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	return slog.New(newHandler(os.Stderr, level, format, isTerminal))
}

// Discard returns a logger that drops everything. Components use it
// when the caller passes a nil logger.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDiscard returns logger, or Discard() when logger is nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}

func newHandler(w io.Writer, level slog.Level, format Format, isTerminal bool) slog.Handler {
	options := &slog.HandlerOptions{Level: level}
	switch format {
	case FormatText:
		return slog.NewTextHandler(w, options)
	case FormatJSON:
		return slog.NewJSONHandler(w, options)
	}
	if isTerminal {
		return slog.NewTextHandler(w, options)
	}
	return slog.NewJSONHandler(w, options)
}
