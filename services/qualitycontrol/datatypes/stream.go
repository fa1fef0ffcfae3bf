// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// StreamEvent is one frame of a narration stream, sent as an SSE data
// payload or a WebSocket text message.
//
// Id, CreatedAt, PrevHash and Hash are filled in by the writer. Hash is the
// hex SHA-256 over the other fields and PrevHash links each event to the
// one before it, so a client can detect dropped or reordered frames.
type StreamEvent struct {
	Id        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at"`
	PrevHash  string `json:"prev_hash,omitempty"`
	Hash      string `json:"hash"`
	Content   string `json:"content,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Defect    string `json:"defect,omitempty"`
}

// Stream event types.
const (
	StreamEventStatus = "status"
	StreamEventToken  = "token"
	StreamEventInfo   = "info"
	StreamEventDone   = "done"
	StreamEventError  = "error"
)
