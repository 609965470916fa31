// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/minio/highwayhash"

	"github.com/AleutianAI/manipulative/services/manipulative/jsx"
)

// defaultDebounce is how long the watcher waits for a burst of editor
// writes to settle.
const defaultDebounce = 100 * time.Millisecond

// fingerprintKey keys the content hash; it must be 32 bytes.
var fingerprintKey = []byte("manipulative-instrument-watch-01")

// fingerprints remembers the content hash last processed per file so
// touches and saves without edits are not reprocessed.
type fingerprints struct {
	mu   sync.Mutex
	seen map[string]uint64
}

func newFingerprints() *fingerprints {
	return &fingerprints{seen: make(map[string]uint64)}
}

func fingerprint(data []byte) (uint64, error) {
	h, err := highwayhash.New64(fingerprintKey)
	if err != nil {
		return 0, err
	}
	if _, err := h.Write(data); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// changed records data for path and reports whether it differs from the
// previous record.
func (f *fingerprints) changed(path string, data []byte) bool {
	sum, err := fingerprint(data)
	if err != nil {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, ok := f.seen[path]
	f.seen[path] = sum
	return !ok || prev != sum
}

func (f *fingerprints) forget(path string) {
	f.mu.Lock()
	delete(f.seen, path)
	f.mu.Unlock()
}

// sourceWatcher re-runs handle for supported files under dirs after their
// content changes. Paths under exclude (the output tree) are ignored.
type sourceWatcher struct {
	dirs     []string
	exclude  string
	debounce time.Duration
	prints   *fingerprints
	handle   func(path string, data []byte)
	logger   *slog.Logger

	// parents are watched without descending, for files given directly.
	parents []string
}

// Run watches until ctx is done.
func (w *sourceWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	for _, dir := range w.dirs {
		if err := w.addRecursive(fsw, dir); err != nil {
			return err
		}
	}
	for _, dir := range w.parents {
		if err := fsw.Add(dir); err != nil {
			return err
		}
	}

	pending := make(map[string]struct{})
	var timerC <-chan time.Time
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.excluded(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(fsw, event.Name); err != nil {
						w.logger.Warn("watch directory", slog.String("dir", event.Name), slog.String("error", err.Error()))
					}
					continue
				}
			}
			if !jsx.Supported(event.Name) {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.prints.forget(event.Name)
				continue
			}
			pending[event.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-timerC:
			timer, timerC = nil, nil
			w.flush(pending)
			clear(pending)
		}
	}
}

func (w *sourceWatcher) flush(pending map[string]struct{}) {
	for path := range pending {
		data, err := os.ReadFile(path)
		if err != nil {
			// Editors that save by rename leave a short gap.
			w.logger.Debug("read changed file", slog.String("file", path), slog.String("error", err.Error()))
			continue
		}
		if !w.prints.changed(path, data) {
			continue
		}
		w.handle(path, data)
	}
}

func (w *sourceWatcher) excluded(path string) bool {
	if w.exclude == "" {
		return false
	}
	return path == w.exclude || strings.HasPrefix(path, w.exclude+string(filepath.Separator))
}

func (w *sourceWatcher) addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if w.excluded(path) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
