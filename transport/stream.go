// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"io"
	"strings"
)

// Frame is a single event parsed from a server-sent event stream.
type Frame struct {
	// Type is the event type from the "event:" field. Empty string
	// if no event type was specified (the SSE spec calls this the
	// default event type).
	Type string

	// Data is the event payload, assembled from one or more "data:"
	// lines. Multiple data lines are joined with newlines per the
	// SSE specification.
	Data string
}

// Stream reads server-sent event frames from a long-lived response
// body according to the W3C Server-Sent Events specification.
//
// Frames are delimited by blank lines. Within a frame, lines starting
// with "data:" carry the payload, and lines starting with "event:"
// specify the event type. Comment lines (starting with ":") and
// unknown fields are ignored.
//
// Usage:
//
//	stream, err := executor.OpenStream(ctx, request)
//	defer stream.Close()
//	for stream.Next() {
//	    frame := stream.Frame()
//	    // process frame.Type and frame.Data
//	}
//	if err := stream.Err(); err != nil {
//	    // handle error
//	}
type Stream struct {
	reader  *bufio.Reader
	body    io.Closer
	current Frame
	err     error
}

// newStream wraps a response body in a frame scanner. The Stream owns
// the body and closes it in Close.
func newStream(body io.ReadCloser) *Stream {
	return &Stream{
		reader: bufio.NewReaderSize(body, 64*1024),
		body:   body,
	}
}

// NewStream creates a Stream reading from reader. The reader is not
// closed by Close. For tests and non-HTTP frame sources.
func NewStream(reader io.Reader) *Stream {
	return &Stream{
		reader: bufio.NewReaderSize(reader, 64*1024),
	}
}

// Next advances to the next frame. Returns false when the stream ends
// (EOF) or an error occurs. After Next returns false, call [Stream.Err]
// to distinguish EOF from errors.
func (s *Stream) Next() bool {
	s.current = Frame{}

	var dataLines []string
	var frameType string
	hasData := false

	for {
		line, err := s.reader.ReadString('\n')

		// Handle partial last line (no trailing newline before EOF).
		if err != nil && line == "" {
			if err == io.EOF {
				// If we accumulated data, emit the final frame.
				if hasData {
					s.current = Frame{
						Type: frameType,
						Data: strings.Join(dataLines, "\n"),
					}
					// Set EOF so the next call to Next returns false.
					s.err = io.EOF
					return true
				}
				return false
			}
			s.err = err
			return false
		}

		// Strip trailing newline (and optional carriage return).
		line = strings.TrimRight(line, "\r\n")

		// Blank line = frame boundary.
		if line == "" {
			if hasData {
				s.current = Frame{
					Type: frameType,
					Data: strings.Join(dataLines, "\n"),
				}
				return true
			}
			// No data accumulated — skip this empty block and continue.
			frameType = ""
			continue
		}

		// Comment lines start with ":".
		if strings.HasPrefix(line, ":") {
			continue
		}

		// Parse "field: value" or "field:value" (space after colon is
		// optional).
		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			// Lines without a colon are treated as field name with
			// empty value.
			field = line
			value = ""
		} else {
			// Per spec: if value starts with a space, remove exactly
			// one space.
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			frameType = value
		case "id", "retry":
			// Recognized fields we don't need — ignore per spec.
		default:
			// Unknown fields are ignored per the SSE specification.
		}
	}
}

// Frame returns the most recently parsed frame. Only valid after
// [Stream.Next] returns true.
func (s *Stream) Frame() Frame {
	return s.current
}

// Err returns the first error encountered during scanning. Returns
// nil if scanning ended due to a clean EOF.
func (s *Stream) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

// Close releases the underlying response body. Safe to call multiple
// times and concurrently with a blocked Next (closing the body
// unblocks the read).
func (s *Stream) Close() error {
	if s.body == nil {
		return nil
	}
	return s.body.Close()
}
