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
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/manipulative/services/manipulative/location"
)

func dialSession(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + id + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// readUntil reads server messages until match returns true.
func readUntil(t *testing.T, ws *websocket.Conn, match func(ServerMessage) bool) ServerMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg ServerMessage
		require.NoError(t, ws.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func isSnapshot(pred func(ServerMessage) bool) func(ServerMessage) bool {
	return func(m ServerMessage) bool {
		return m.Type == MsgSnapshot && m.Snapshot != nil && pred(m)
	}
}

func TestSessionSocket_EditAndCommit(t *testing.T) {
	dir, path := writeApp(t)
	router, svc := setupEngineRouter(t, dir)
	srv := httptest.NewServer(router)
	defer srv.Close()

	sess := svc.Sessions().Create()
	ws := dialSession(t, srv, sess.ID())

	// The initial snapshot is empty.
	readUntil(t, ws, isSnapshot(func(m ServerMessage) bool { return len(m.Snapshot.Entries) == 0 }))

	site := location.Key{FilePath: path, Offset: strings.Index(appSource, "css__"), LineNumber: 1}
	require.NoError(t, ws.WriteJSON(ClientMessage{Type: MsgRegister, Site: &site}))
	readUntil(t, ws, func(m ServerMessage) bool { return m.Type == MsgMount })

	value := "color: red;"
	require.NoError(t, ws.WriteJSON(ClientMessage{Type: MsgUpdate, Key: site.String(), Value: &value}))
	msg := readUntil(t, ws, isSnapshot(func(m ServerMessage) bool {
		return len(m.Snapshot.Entries) == 1 && m.Snapshot.Entries[0].Value == value
	}))
	assert.True(t, msg.Snapshot.Entries[0].Dirty())

	require.NoError(t, ws.WriteJSON(ClientMessage{Type: MsgCommit}))
	msg = readUntil(t, ws, isSnapshot(func(m ServerMessage) bool {
		return !m.Snapshot.State.Committing && len(m.Snapshot.Entries) == 1 && !m.Snapshot.Entries[0].Dirty()
	}))
	assert.Empty(t, msg.Snapshot.State.Error)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "css__={css`color: red;`}")
}

func TestSessionSocket_Errors(t *testing.T) {
	dir, _ := writeApp(t)
	router, svc := setupEngineRouter(t, dir)
	srv := httptest.NewServer(router)
	defer srv.Close()

	sess := svc.Sessions().Create()
	ws := dialSession(t, srv, sess.ID())

	value := "x"
	require.NoError(t, ws.WriteJSON(ClientMessage{Type: MsgUpdate, Key: "/nope.jsx:1", Value: &value}))
	msg := readUntil(t, ws, func(m ServerMessage) bool { return m.Type == MsgError })
	assert.Contains(t, msg.Error, "unknown key")

	require.NoError(t, ws.WriteJSON(ClientMessage{Type: "explode"}))
	msg = readUntil(t, ws, func(m ServerMessage) bool { return m.Type == MsgError })
	assert.Contains(t, msg.Error, "unsupported message type")

	require.NoError(t, ws.WriteJSON(ClientMessage{Type: MsgRegister}))
	msg = readUntil(t, ws, func(m ServerMessage) bool { return m.Type == MsgError })
	assert.Contains(t, msg.Error, "site")
}

func TestSessionSocket_SharedSession(t *testing.T) {
	dir, path := writeApp(t)
	router, svc := setupEngineRouter(t, dir)
	srv := httptest.NewServer(router)
	defer srv.Close()

	sess := svc.Sessions().Create()
	a := dialSession(t, srv, sess.ID())
	b := dialSession(t, srv, sess.ID())
	readUntil(t, b, isSnapshot(func(ServerMessage) bool { return true }))

	site := location.Key{FilePath: path, Offset: 0}
	require.NoError(t, a.WriteJSON(ClientMessage{Type: MsgRegister, Site: &site, Initial: "color: blue;"}))

	msg := readUntil(t, b, isSnapshot(func(m ServerMessage) bool { return len(m.Snapshot.Entries) == 1 }))
	assert.Equal(t, "color: blue;", msg.Snapshot.Entries[0].Value)
}

func TestSessionSocket_UnknownSession(t *testing.T) {
	dir, _ := writeApp(t)
	router, _ := setupEngineRouter(t, dir)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionSocket_RejectsForeignOrigin(t *testing.T) {
	dir, _ := writeApp(t)
	router, svc := setupEngineRouter(t, dir)
	srv := httptest.NewServer(router)
	defer srv.Close()

	sess := svc.Sessions().Create()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + sess.ID() + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSessionSocket_DisconnectReleasesSites(t *testing.T) {
	dir, path := writeApp(t)
	router, svc := setupEngineRouter(t, dir)
	srv := httptest.NewServer(router)
	defer srv.Close()

	sess := svc.Sessions().Create()
	a := dialSession(t, srv, sess.ID())
	b := dialSession(t, srv, sess.ID())

	refs := func(n int) func(ServerMessage) bool {
		return isSnapshot(func(m ServerMessage) bool {
			return len(m.Snapshot.Entries) == 1 && m.Snapshot.Entries[0].Refs == n
		})
	}

	site := location.Key{FilePath: path, Offset: strings.Index(appSource, "css__"), LineNumber: 1}
	require.NoError(t, a.WriteJSON(ClientMessage{Type: MsgRegister, Site: &site}))
	require.NoError(t, a.WriteJSON(ClientMessage{Type: MsgRegister, Site: &site}))
	readUntil(t, a, refs(2))
	require.NoError(t, b.WriteJSON(ClientMessage{Type: MsgRegister, Site: &site}))
	readUntil(t, b, refs(3))

	require.NoError(t, a.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = a.Close()
	readUntil(t, b, refs(1))

	require.NoError(t, b.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = b.Close()
	assert.Eventually(t, func() bool { return !sess.Visible() }, 5*time.Second, 10*time.Millisecond)
}
