// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"strings"
	"testing"
)

func TestStreamBasic(t *testing.T) {
	t.Parallel()

	input := "event: sync\ndata: {\"next_batch\":\"s1\"}\n\nevent: ping\ndata: {}\n\n"
	stream := NewStream(strings.NewReader(input))

	// First frame.
	if !stream.Next() {
		t.Fatal("expected first frame")
	}
	frame := stream.Frame()
	if frame.Type != "sync" {
		t.Errorf("frame.Type = %q, want sync", frame.Type)
	}
	if frame.Data != `{"next_batch":"s1"}` {
		t.Errorf("frame.Data = %q, want JSON", frame.Data)
	}

	// Second frame.
	if !stream.Next() {
		t.Fatal("expected second frame")
	}
	frame = stream.Frame()
	if frame.Type != "ping" {
		t.Errorf("frame.Type = %q, want ping", frame.Type)
	}

	// No more frames.
	if stream.Next() {
		t.Error("expected no more frames")
	}
	if err := stream.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStreamMultipleDataLines(t *testing.T) {
	t.Parallel()

	// Per the SSE spec, multiple data lines are joined with newlines.
	input := "data: line one\ndata: line two\n\n"
	stream := NewStream(strings.NewReader(input))

	if !stream.Next() {
		t.Fatal("expected frame")
	}
	frame := stream.Frame()
	if frame.Type != "" {
		t.Errorf("frame.Type = %q, want empty", frame.Type)
	}
	if frame.Data != "line one\nline two" {
		t.Errorf("frame.Data = %q", frame.Data)
	}
}

func TestStreamCommentsAndIgnoredFields(t *testing.T) {
	t.Parallel()

	// Comments, id, and retry lines must not affect the frame.
	input := ": keepalive\nid: 42\nretry: 3000\nevent: sync\ndata: {\"next_batch\":\"s2\"}\n\n"
	stream := NewStream(strings.NewReader(input))

	if !stream.Next() {
		t.Fatal("expected frame")
	}
	frame := stream.Frame()
	if frame.Type != "sync" {
		t.Errorf("frame.Type = %q, want sync", frame.Type)
	}
	if frame.Data != `{"next_batch":"s2"}` {
		t.Errorf("frame.Data = %q", frame.Data)
	}
}

func TestStreamNoEventType(t *testing.T) {
	t.Parallel()

	input := "data: just data\n\n"
	stream := NewStream(strings.NewReader(input))

	if !stream.Next() {
		t.Fatal("expected frame")
	}
	frame := stream.Frame()
	if frame.Type != "" {
		t.Errorf("frame.Type = %q, want empty", frame.Type)
	}
	if frame.Data != "just data" {
		t.Errorf("frame.Data = %q", frame.Data)
	}
}

func TestStreamConsecutiveBlanks(t *testing.T) {
	t.Parallel()

	// Blank lines without accumulated data don't produce frames, and
	// the event type resets between blocks.
	input := "\n\nevent: orphan\n\n\ndata: hello\n\n"
	stream := NewStream(strings.NewReader(input))

	if !stream.Next() {
		t.Fatal("expected frame")
	}
	frame := stream.Frame()
	if frame.Type != "" {
		t.Errorf("frame.Type = %q, want empty (orphan type should reset)", frame.Type)
	}
	if frame.Data != "hello" {
		t.Errorf("frame.Data = %q, want hello", frame.Data)
	}

	if stream.Next() {
		t.Error("expected no more frames")
	}
}

func TestStreamNoTrailingNewline(t *testing.T) {
	t.Parallel()

	// A final frame without a trailing blank line is still emitted.
	input := "event: final\ndata: last frame"
	stream := NewStream(strings.NewReader(input))

	if !stream.Next() {
		t.Fatal("expected frame")
	}
	frame := stream.Frame()
	if frame.Type != "final" {
		t.Errorf("frame.Type = %q, want final", frame.Type)
	}
	if frame.Data != "last frame" {
		t.Errorf("frame.Data = %q", frame.Data)
	}

	if stream.Next() {
		t.Error("expected no more frames after EOF")
	}
	if err := stream.Err(); err != nil {
		t.Errorf("clean EOF should not report an error: %v", err)
	}
}

func TestStreamCarriageReturn(t *testing.T) {
	t.Parallel()

	input := "event: sync\r\ndata: hello\r\n\r\n"
	stream := NewStream(strings.NewReader(input))

	if !stream.Next() {
		t.Fatal("expected frame")
	}
	frame := stream.Frame()
	if frame.Type != "sync" {
		t.Errorf("frame.Type = %q, want sync", frame.Type)
	}
	if frame.Data != "hello" {
		t.Errorf("frame.Data = %q, want hello", frame.Data)
	}
}

func TestStreamEmptyDataValue(t *testing.T) {
	t.Parallel()

	// "data:" with no value produces an empty string, which still
	// counts as a frame.
	input := "data:\n\n"
	stream := NewStream(strings.NewReader(input))

	if !stream.Next() {
		t.Fatal("expected frame")
	}
	if stream.Frame().Data != "" {
		t.Errorf("frame.Data = %q, want empty", stream.Frame().Data)
	}
}

func TestStreamCloseWithoutBody(t *testing.T) {
	t.Parallel()

	stream := NewStream(strings.NewReader(""))
	if err := stream.Close(); err != nil {
		t.Errorf("Close on bodyless stream failed: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
