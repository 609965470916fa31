// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manipulative

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/manipulative/services/manipulative/location"
	"github.com/AleutianAI/manipulative/services/manipulative/overlay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024
)

// Client message types.
const (
	MsgRegister   = "register"
	MsgUpdate     = "update"
	MsgUnregister = "unregister"
	MsgCommit     = "commit"
)

// Server message types.
const (
	MsgSnapshot = "snapshot"
	MsgMount    = "mount"
	MsgError    = "error"
)

// ClientMessage is sent by the overlay running in the browser.
//
//	{"type":"register","site":{"filePath":"/src/App.tsx","offset":5},"initial":"color: red;"}
//	{"type":"update","key":"/src/App.tsx:5","value":"color: blue;"}
//	{"type":"update","key":"/src/App.tsx:5","hover":true}
//	{"type":"unregister","key":"/src/App.tsx:5"}
//	{"type":"commit"}
type ClientMessage struct {
	Type    string        `json:"type"`
	Key     string        `json:"key,omitempty"`
	Site    *location.Key `json:"site,omitempty"`
	Initial string        `json:"initial,omitempty"`
	Value   *string       `json:"value,omitempty"`
	Hover   *bool         `json:"hover,omitempty"`
}

// ServerMessage is pushed to the overlay.
type ServerMessage struct {
	Type     string            `json:"type"`
	Snapshot *overlay.Snapshot `json:"snapshot,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// HandleSessionSocket handles GET /sessions/:id/ws.
//
// Every change to the session, from this socket or any other attached to
// it, is pushed as a snapshot. A "mount" message is sent once, when the
// first site registers.
func (h *Handlers) HandleSessionSocket(c *gin.Context) {
	sess, ok := h.svc.sessions.Get(c.Param("id"))
	if !ok {
		sessionNotFound(c)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(h.svc.cfg.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.svc.logger.Warn("Websocket upgrade failed", "session_id", sess.ID(), "error", err)
		return
	}

	logger := h.svc.logger.With("session_id", sess.ID(), "request_id", c.GetString(requestIDKey))
	conn := newSocket(ws, logger)
	ctx := context.WithoutCancel(c.Request.Context())

	if h.svc.metrics != nil {
		h.svc.metrics.WebSocketConnections.Add(ctx, 1)
		defer h.svc.metrics.WebSocketConnections.Add(ctx, -1)
	}

	unsubscribe := sess.Subscribe(conn.pushSnapshot)
	defer unsubscribe()

	logger.Info("Overlay socket connected")
	go conn.writeLoop()
	conn.pushSnapshot(sess.Snapshot())

	h.readLoop(ctx, conn, sess)
	conn.close()
	released := conn.releaseSites(sess)
	logger.Info("Overlay socket disconnected", "released_sites", released)
}

func (h *Handlers) readLoop(ctx context.Context, conn *socket, sess *overlay.Session) {
	ws := conn.ws
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				conn.logger.Warn("Overlay socket read failed", "error", err)
			}
			return
		}
		if err := h.dispatch(ctx, conn, sess, msg); err != nil {
			conn.push(ServerMessage{Type: MsgError, Error: err.Error()})
		}
	}
}

func (h *Handlers) dispatch(ctx context.Context, conn *socket, sess *overlay.Session, msg ClientMessage) error {
	switch msg.Type {
	case MsgRegister:
		if msg.Site == nil {
			return &ValidationError{Field: "site", Message: "required"}
		}
		if err := sess.Register(*msg.Site, msg.Initial); err != nil {
			return err
		}
		conn.sites[msg.Site.String()]++
		if sess.Mount() {
			conn.push(ServerMessage{Type: MsgMount})
		}
		return nil

	case MsgUpdate:
		return sess.Update(msg.Key, overlay.Patch{Value: msg.Value, Hover: msg.Hover})

	case MsgUnregister:
		if err := sess.Unregister(msg.Key); err != nil {
			return err
		}
		if conn.sites[msg.Key] > 1 {
			conn.sites[msg.Key]--
		} else {
			delete(conn.sites, msg.Key)
		}
		return nil

	case MsgCommit:
		// Commits run off the read loop so hover and edit messages keep
		// flowing. The outcome reaches the client through the snapshot.
		go func() {
			err := sess.Commit(ctx, h.svc.sessionCommitter())
			if errors.Is(err, overlay.ErrCommitInFlight) {
				conn.push(ServerMessage{Type: MsgError, Error: err.Error()})
			}
		}()
		return nil

	default:
		return &ValidationError{Field: "type", Message: "unsupported message type " + strconv.Quote(msg.Type)}
	}
}

// socket serialises writes to one websocket connection. Snapshots are
// coalesced: only the newest pending one is sent.
type socket struct {
	ws     *websocket.Conn
	logger *slog.Logger

	// sites counts the registrations made through this connection; it is
	// only touched by the read loop.
	sites map[string]int

	mu       sync.Mutex
	pending  []ServerMessage
	latest   *overlay.Snapshot
	lastSeen uint64

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newSocket(ws *websocket.Conn, logger *slog.Logger) *socket {
	return &socket{
		ws:     ws,
		logger: logger,
		sites:  make(map[string]int),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// releaseSites unregisters every site still registered through this
// connection and returns how many were dropped.
func (s *socket) releaseSites(sess *overlay.Session) int {
	released := 0
	for key, n := range s.sites {
		for ; n > 0; n-- {
			if err := sess.Unregister(key); err != nil {
				break
			}
			released++
		}
	}
	s.sites = nil
	return released
}

func (s *socket) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *socket) pushSnapshot(snap overlay.Snapshot) {
	s.mu.Lock()
	if snap.Version < s.lastSeen {
		s.mu.Unlock()
		return
	}
	s.lastSeen = snap.Version
	s.latest = &snap
	s.mu.Unlock()
	s.signal()
}

func (s *socket) push(msg ServerMessage) {
	s.mu.Lock()
	s.pending = append(s.pending, msg)
	s.mu.Unlock()
	s.signal()
}

func (s *socket) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.wake:
			s.mu.Lock()
			msgs := s.pending
			s.pending = nil
			if s.latest != nil {
				msgs = append(msgs, ServerMessage{Type: MsgSnapshot, Snapshot: s.latest})
				s.latest = nil
			}
			s.mu.Unlock()

			for _, m := range msgs {
				_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := s.ws.WriteJSON(m); err != nil {
					s.logger.Warn("Failed to write websocket message", "type", m.Type, "error", err)
					s.close()
					return
				}
			}
		}
	}
}

func (s *socket) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.ws.Close()
	})
}
