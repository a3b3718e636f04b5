// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides shared scaffolding for the svchub binaries.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger creates the structured logger for a binary. When stderr
// is a terminal, it uses slog.TextHandler for human-readable output;
// when stderr is piped or redirected (scripts, service managers), it
// uses slog.JSONHandler for machine-parseable output.
//
// Callers scope the logger with binary-specific context via With():
//
//	logger := cli.NewLogger(slog.LevelInfo).With("component", "svchubd")
func NewLogger(level slog.Level) *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

// ParseLevel maps a configuration string to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}
