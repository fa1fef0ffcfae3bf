// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrNotWatchable is returned when the loader's source is not a local file.
var ErrNotWatchable = errors.New("seed source is not a local file")

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the graph whenever the seed file changes.
//
// The parent directory is watched rather than the file, so editors that
// save by writing a temporary file and renaming it over the original are
// seen as well.
type Watcher struct {
	loader     *Loader
	path       string
	debounce   time.Duration
	clearFirst bool
	logger     *slog.Logger

	// onReload observes every reload; used by tests.
	onReload func(Result, error)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period after the last event before reloading.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithClearFirst controls whether each reload clears the graph first.
// The default is true, so deletions in the file are reflected.
func WithClearFirst(clear bool) WatcherOption {
	return func(w *Watcher) { w.clearFirst = clear }
}

// WithReloadHook calls fn after every reload attempt.
func WithReloadHook(fn func(Result, error)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher creates a Watcher for loader's file source.
func NewWatcher(loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	fs, ok := loader.Source().(*FileSource)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotWatchable, loader.Source().Name())
	}
	abs, err := filepath.Abs(fs.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve seed path: %w", err)
	}
	w := &Watcher{
		loader:     loader,
		path:       filepath.Clean(abs),
		debounce:   DefaultDebounce,
		clearFirst: true,
		logger:     loader.logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches until ctx is cancelled. Reload failures are logged and
// watching continues; only watcher setup errors are returned.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("Watching seed file for changes", "path", w.path)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("Seed file changed", "op", event.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Seed file watcher error", "error", err)

		case <-timer.C:
			res, err := w.loader.Load(ctx, w.clearFirst)
			if err != nil {
				w.logger.Error("Seed reload failed", "path", w.path, "error", err)
			}
			if w.onReload != nil {
				w.onReload(res, err)
			}
		}
	}
}
