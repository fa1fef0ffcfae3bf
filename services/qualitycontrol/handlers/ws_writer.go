// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DylanSoren/QualityControl/services/qualitycontrol/datatypes"
)

const wsWriteWait = 10 * time.Second

// wsWriter sends each event as one JSON text message. Keepalives are
// WebSocket ping control frames.
type wsWriter struct {
	conn  *websocket.Conn
	chain eventChain
	mu    sync.Mutex
}

func newWSWriter(conn *websocket.Conn) *wsWriter {
	return &wsWriter{conn: conn}
}

func (w *wsWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.chain.stamp(&event)
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := w.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (w *wsWriter) WriteStatus(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventStatus, Message: message})
}

func (w *wsWriter) WriteToken(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventToken, Content: content})
}

func (w *wsWriter) WriteInfo(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventInfo, Message: message})
}

func (w *wsWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventError, Error: errMsg})
}

func (w *wsWriter) WriteDone(defect string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventDone, Defect: defect})
}

func (w *wsWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
		return fmt.Errorf("write ping: %w", err)
	}
	return nil
}

// close sends a normal closure frame.
func (w *wsWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}

var _ StreamWriter = (*wsWriter)(nil)
