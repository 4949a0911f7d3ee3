// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package admin

import (
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/resgraph/services/resources/manager"
)

// WatchEvent is the JSON form of a structural event on the watch stream.
type WatchEvent struct {
	Type       string `json:"type"`
	Source     string `json:"source"`
	SourceType string `json:"source_type"`
	Changed    string `json:"changed,omitempty"`
}

// WatchHello is the first message of a watch stream.
type WatchHello struct {
	Action   string `json:"action"`
	Path     string `json:"path"`
	Listener string `json:"listener"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
}

const writeWait = 10 * time.Second

func toWatchEvent(ev manager.StructureEvent) WatchEvent {
	out := WatchEvent{
		Type:       ev.Type.String(),
		SourceType: ev.SourceType,
	}
	if ev.Source != nil {
		out.Source = ev.Source.Path()
	}
	if ev.Changed != nil {
		out.Changed = ev.Changed.Path()
	}
	return out
}

// handleWatch streams structural events under a path until the client
// disconnects. The path need not exist yet.
func (s *Server) handleWatch(c *gin.Context) {
	path := strings.Trim(c.Param("path"), "/")
	h := s.rm.Handle(path)
	if h == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid path " + path})
		return
	}

	events := make(chan WatchEvent, s.cfg.WatchBuffer)
	var dropped atomic.Uint64
	id, err := h.AddStructureListener(manager.StructureListenerFunc(func(ev manager.StructureEvent) {
		select {
		case events <- toWatchEvent(ev):
		default:
			dropped.Add(1)
		}
	}), true)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer func() { _ = s.rm.RemoveListener(id) }()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("watch upgrade failed", slog.String("path", path), slog.Any("error", err))
		return
	}
	defer ws.Close()
	s.logger.Info("watch connected", slog.String("path", path), slog.String("listener", id))

	// The reader only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(WatchHello{Action: "watching", Path: path, Listener: id}); err != nil {
		return
	}
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			s.logger.Info("watch disconnected",
				slog.String("path", path),
				slog.Uint64("dropped", dropped.Load()))
			return
		case ev := <-events:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(ev); err != nil {
				s.logger.Debug("watch write failed", slog.String("path", path), slog.Any("error", err))
				return
			}
		}
	}
}
