// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package overlay holds the live values of mounted style sites while a
// developer edits them, and commits them back through a Committer.
//
// A Session is one running application. Sites register by Location Key;
// several mounted components may share a key, in which case they share one
// entry and the entry is removed when the last of them unregisters.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/AleutianAI/manipulative/services/manipulative/location"
	"github.com/AleutianAI/manipulative/services/manipulative/protocol"
)

// HoverOutline is appended to the style of a hovered site.
const HoverOutline = "box-shadow: 0 0 0 1px #ffffff80;"

var (
	// ErrUnknownKey indicates an update or unregister for a key that has
	// no entry.
	ErrUnknownKey = errors.New("overlay: unknown key")

	// ErrCommitInFlight indicates a commit was requested while another one
	// is running.
	ErrCommitInFlight = errors.New("overlay: commit already in flight")
)

// Entry is the live state of one Location Key.
type Entry struct {
	Key   string       `json:"key"`
	Site  location.Key `json:"site"`
	Value string       `json:"value"`
	Hover bool         `json:"hover"`

	// Initial is the value last known to be on disk.
	Initial string `json:"initial"`

	// Refs counts the mounted sites sharing the key.
	Refs int `json:"refs"`
}

// Dirty reports whether the value differs from what is on disk.
func (e Entry) Dirty() bool {
	return e.Value != e.Initial
}

// State is the session-wide status shown next to the entries.
type State struct {
	Visible    bool   `json:"visible"`
	Committing bool   `json:"committing"`
	Error      string `json:"error,omitempty"`
}

// Snapshot is a consistent copy of a session.
type Snapshot struct {
	SessionID string    `json:"sessionId"`
	Entries   []Entry   `json:"entries"`
	State     State     `json:"state"`
	Version   uint64    `json:"version"`
	At        time.Time `json:"at"`
}

// Patch changes the value and/or hover flag of an entry. Nil fields are
// left as they are.
type Patch struct {
	Value *string `json:"value,omitempty"`
	Hover *bool   `json:"hover,omitempty"`
}

// Listener receives a snapshot after every change.
type Listener func(Snapshot)

// Committer sends a batch of updates to the patch engine.
type Committer interface {
	Commit(ctx context.Context, updates []protocol.Update) error
}

// CommitterFunc adapts a function to Committer.
type CommitterFunc func(ctx context.Context, updates []protocol.Update) error

// Commit implements Committer.
func (f CommitterFunc) Commit(ctx context.Context, updates []protocol.Update) error {
	return f(ctx, updates)
}

// Session is the overlay store of one running application.
//
// Thread Safety: Session is safe for concurrent use. Listeners run
// synchronously on the goroutine that made the change, after the session
// lock is released, so they may call back into the session.
type Session struct {
	id     string
	logger *slog.Logger

	mu         sync.Mutex
	entries    map[string]*Entry
	order      []string
	listeners  map[uint64]Listener
	nextListen uint64
	mounted    bool
	committing bool
	lastErr    string
	version    uint64
}

// NewSession creates an empty session. A nil logger uses slog.Default().
func NewSession(id string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:        id,
		logger:    logger.With(slog.String("session_id", id)),
		entries:   make(map[string]*Entry),
		listeners: make(map[uint64]Listener),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Register adds a mounted site. The first registration of a key creates
// its entry with initial as value; later ones share the entry and refresh
// its display fields.
func (s *Session) Register(key location.Key, initial string) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	k := key.String()

	s.mu.Lock()
	if e, ok := s.entries[k]; ok {
		e.Refs++
		e.Site.LineNumber = key.LineNumber
		e.Site.SourceSnippet = key.SourceSnippet
	} else {
		s.entries[k] = &Entry{Key: k, Site: key, Value: initial, Initial: initial, Refs: 1}
		s.order = append(s.order, k)
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// Update applies p to the entry of key.
func (s *Session) Update(key string, p Patch) error {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if p.Value != nil {
		e.Value = *p.Value
	}
	if p.Hover != nil {
		e.Hover = *p.Hover
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// Unregister drops one mounted site of key and removes the entry when no
// site is left.
func (s *Session) Unregister(key string) error {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	e.Refs--
	if e.Refs <= 0 {
		delete(s.entries, key)
		for i, k := range s.order {
			if k == key {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Session) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Snapshot returns the entries in registration order and the state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	entries := make([]Entry, 0, len(s.order))
	for _, k := range s.order {
		entries = append(entries, *s.entries[k])
	}
	return Snapshot{
		SessionID: s.id,
		Entries:   entries,
		State: State{
			Visible:    len(entries) > 0,
			Committing: s.committing,
			Error:      s.lastErr,
		},
		Version: s.version,
		At:      time.Now(),
	}
}

// Visible reports whether any site is registered.
func (s *Session) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries) > 0
}

// Mount reports whether the caller should mount the editing pane: true
// exactly once per session, and only while something is registered.
func (s *Session) Mount() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mounted || len(s.entries) == 0 {
		return false
	}
	s.mounted = true
	return true
}

// StyleFor returns the style a mounted site should render: the entry's
// value, followed by the hover outline while hovered.
func (s *Session) StyleFor(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", false
	}
	if !e.Hover {
		return e.Value, true
	}
	v := strings.TrimRightFunc(e.Value, unicode.IsSpace)
	if v != "" && !strings.HasSuffix(v, ";") {
		v += ";"
	}
	if v != "" {
		v += " "
	}
	return v + HoverOutline, true
}

// PendingUpdates returns the dirty entries as a commit batch in
// registration order.
func (s *Session) PendingUpdates() []protocol.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

func (s *Session) pendingLocked() []protocol.Update {
	var updates []protocol.Update
	for _, k := range s.order {
		e := s.entries[k]
		if e.Dirty() {
			updates = append(updates, protocol.Update{
				FileName: e.Site.FilePath,
				Position: e.Site.Offset,
				Value:    e.Value,
			})
		}
	}
	return updates
}

// Commit sends the dirty entries through c.
//
// While the commit runs State.Committing is set and further commits fail
// with ErrCommitInFlight. On failure the error text is kept in State.Error
// and committing is enabled again; on success the committed values become
// the new on-disk baseline. A session with nothing dirty commits nothing.
func (s *Session) Commit(ctx context.Context, c Committer) error {
	s.mu.Lock()
	if s.committing {
		s.mu.Unlock()
		return ErrCommitInFlight
	}
	updates := s.pendingLocked()
	if len(updates) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.committing = true
	s.lastErr = ""
	s.mu.Unlock()
	s.notify()

	start := time.Now()
	err := c.Commit(ctx, updates)

	s.mu.Lock()
	s.committing = false
	if err != nil {
		s.lastErr = err.Error()
	} else {
		for _, u := range updates {
			if e, ok := s.entries[u.Key().String()]; ok {
				e.Initial = u.Value
			}
		}
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		s.logger.Warn("commit failed",
			slog.Int("updates", len(updates)),
			slog.String("error", err.Error()))
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("commit succeeded",
		slog.Int("updates", len(updates)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// notify delivers a fresh snapshot to every listener. It must be called
// without holding mu.
func (s *Session) notify() {
	s.mu.Lock()
	s.version++
	snap := s.snapshotLocked()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		s.safeInvoke(l, snap)
	}
}

// safeInvoke runs a listener, recovering from panics so one bad listener
// cannot break the others.
func (s *Session) safeInvoke(l Listener, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("overlay listener panicked", slog.Any("panic", r))
		}
	}()
	l(snap)
}
