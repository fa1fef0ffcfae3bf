// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package narrator

import "errors"

var (
	// ErrStreamTimeout ends a stream that outlived its lifetime.
	ErrStreamTimeout = errors.New("narration stream timed out")

	// ErrBackend wraps generation backend failures.
	ErrBackend = errors.New("generation backend failed")
)

// OutcomeKind says how a narration request was answered.
type OutcomeKind int

const (
	// OutcomeGenerated means the backend produced the text.
	OutcomeGenerated OutcomeKind = iota

	// OutcomeUnknownDefect means the name is not a known defect.
	OutcomeUnknownDefect

	// OutcomeNoPaths means the defect exists but has no root-cause chain.
	OutcomeNoPaths
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeGenerated:
		return "generated"
	case OutcomeUnknownDefect:
		return "unknown_defect"
	case OutcomeNoPaths:
		return "no_paths"
	default:
		return "unknown"
	}
}

// Outcome is the result of a synchronous narration.
type Outcome struct {
	Kind   OutcomeKind
	Defect string
	// Text is the narrative, or the notice for informational outcomes.
	Text string
	// Paths is the number of chains handed to the backend.
	Paths int
}

// Informational reports whether Text is a system notice rather than a
// generated narrative.
func (o Outcome) Informational() bool {
	return o.Kind != OutcomeGenerated
}

// EventType identifies a stream event.
type EventType int

const (
	// EventToken carries a generated fragment.
	EventToken EventType = iota + 1

	// EventInfo carries a system notice.
	EventInfo

	// EventDone is the successful terminal event.
	EventDone

	// EventError is the failing terminal event.
	EventError
)

// String returns the wire name used by the SSE and WebSocket transports.
func (t EventType) String() string {
	switch t {
	case EventToken:
		return "token"
	case EventInfo:
		return "info"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one item of a narration stream.
type Event struct {
	Type    EventType
	Content string
	Err     error
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
