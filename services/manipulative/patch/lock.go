// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"context"
	"sync"
)

// fileLocks serializes pipelines per file path.
//
// Each lock is a one-slot channel: acquiring sends, releasing receives.
// Blocked senders are woken in arrival order, which gives FIFO fairness,
// and the send can be abandoned when the waiter's context ends.
type fileLocks struct {
	mu    sync.Mutex
	locks map[string]*fileLock
}

type fileLock struct {
	slot  chan struct{}
	users int
}

func newFileLocks() *fileLocks {
	return &fileLocks{locks: make(map[string]*fileLock)}
}

// acquire blocks until the lock for path is held or ctx ends. The returned
// release func must be called exactly once.
func (l *fileLocks) acquire(ctx context.Context, path string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[path]
	if !ok {
		lock = &fileLock{slot: make(chan struct{}, 1)}
		l.locks[path] = lock
	}
	lock.users++
	l.mu.Unlock()

	select {
	case lock.slot <- struct{}{}:
	case <-ctx.Done():
		l.done(path, lock)
		return nil, ctx.Err()
	}

	return func() {
		<-lock.slot
		l.done(path, lock)
	}, nil
}

// done drops the map entry once nobody holds or waits for it.
func (l *fileLocks) done(path string, lock *fileLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.users--
	if lock.users == 0 {
		delete(l.locks, path)
	}
}

// size returns the number of paths with holders or waiters.
func (l *fileLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
