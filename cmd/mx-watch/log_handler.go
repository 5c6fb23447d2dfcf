// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
)

// logLineMsg delivers a slog record to the model for display in the
// status bar.
type logLineMsg struct {
	text  string
	level noticeLevel
}

// statusLogHandler is a slog.Handler that routes log records into the
// bubbletea program as status-bar messages. The alt screen owns the
// terminal while the program runs, so the client's logger cannot write
// to stderr without corrupting the display.
//
// The handler is created before the program exists; call SetProgram
// once the tea.Program is constructed. Records arriving before then
// are dropped. Handlers derived via WithAttrs/WithGroup share the
// same program pointer, so a single SetProgram call covers them all.
type statusLogHandler struct {
	level   slog.Level
	program *atomic.Pointer[tea.Program]
	attrs   []slog.Attr
	groups  []string
}

func newStatusLogHandler(level slog.Level) *statusLogHandler {
	return &statusLogHandler{
		level:   level,
		program: &atomic.Pointer[tea.Program]{},
	}
}

// SetProgram sets the bubbletea program that receives log messages.
// Safe to call from any goroutine.
func (handler *statusLogHandler) SetProgram(program *tea.Program) {
	handler.program.Store(program)
}

func (handler *statusLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level
}

// Handle formats the record as "message (key=value, ...)" and sends it
// to the program. Records arriving before SetProgram are dropped.
func (handler *statusLogHandler) Handle(_ context.Context, record slog.Record) error {
	program := handler.program.Load()
	if program == nil {
		return nil
	}

	var attrParts []string
	for _, attr := range handler.attrs {
		attrParts = append(attrParts, fmt.Sprintf("%s=%s", attr.Key, attr.Value))
	}
	record.Attrs(func(attr slog.Attr) bool {
		attrParts = append(attrParts, fmt.Sprintf("%s=%s", attr.Key, attr.Value))
		return true
	})

	text := record.Message
	if len(attrParts) > 0 {
		text += " (" + strings.Join(attrParts, ", ") + ")"
	}

	level := noticeInfo
	switch {
	case record.Level >= slog.LevelError:
		level = noticeError
	case record.Level >= slog.LevelWarn:
		level = noticeWarn
	}

	program.Send(logLineMsg{text: text, level: level})
	return nil
}

func (handler *statusLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &statusLogHandler{
		level:   handler.level,
		program: handler.program,
		attrs:   append(slices.Clone(handler.attrs), attrs...),
		groups:  slices.Clone(handler.groups),
	}
}

func (handler *statusLogHandler) WithGroup(name string) slog.Handler {
	return &statusLogHandler{
		level:   handler.level,
		program: handler.program,
		attrs:   slices.Clone(handler.attrs),
		groups:  append(slices.Clone(handler.groups), name),
	}
}
