// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

const (
	// DefaultDebounce is how long the watcher waits after the last
	// filesystem event before re-walking the directory, so editor save
	// bursts collapse into one reload.
	DefaultDebounce = 500 * time.Millisecond

	// DefaultMaxReloadsPerMinute bounds how often watch events may
	// trigger a re-walk.
	DefaultMaxReloadsPerMinute = 12
)

// WatcherConfig tunes the hot-reload watcher.
type WatcherConfig struct {
	Debounce            time.Duration
	MaxReloadsPerMinute int

	// Include globs select the files whose changes trigger a reload.
	// Defaults to the manifest file anywhere under the directory.
	Include []string

	// Exclude globs suppress noisy paths. Defaults cover editor
	// temporaries and system files.
	Exclude []string
}

func (c *WatcherConfig) withDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.MaxReloadsPerMinute <= 0 {
		c.MaxReloadsPerMinute = DefaultMaxReloadsPerMinute
	}
	if len(c.Include) == 0 {
		c.Include = []string{"**/" + ManifestFileName}
	}
	if c.Exclude == nil {
		c.Exclude = defaultExcludePatterns()
	}
}

// defaultExcludePatterns covers editor temporary files and system noise
// that should never trigger a reload.
func defaultExcludePatterns() []string {
	return []string{
		"*.swp",
		"*.swo",
		"*~",
		"#*#",
		".#*",
		".DS_Store",
		"*.tmp",
		"*.temp",
	}
}

// Watcher re-walks a connectors directory when manifests change.
// Reloads are additive: new manifests register factories and instances,
// changed manifests register instances with new ids, and existing
// instances are never mutated or removed.
type Watcher struct {
	loader  *Loader
	dir     string
	cfg     WatcherConfig
	fsw     *fsnotify.Watcher
	limiter *rate.Limiter
	log     *slog.Logger

	mu      sync.Mutex
	pending *time.Timer
	stopped bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher creates a watcher over the connectors directory. Start must
// be called to begin watching.
func NewWatcher(l *Loader, dir string, cfg WatcherConfig) (*Watcher, error) {
	cfg.withDefaults()

	for _, pattern := range append(append([]string{}, cfg.Include...), cfg.Exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid watch pattern %q", pattern)
		}
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve connectors directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	perSecond := float64(cfg.MaxReloadsPerMinute) / 60.0
	return &Watcher{
		loader:  l,
		dir:     absDir,
		cfg:     cfg,
		fsw:     fsw,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		log:     l.log.With(slog.String("dir", absDir)),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start watches the connectors directory and its immediate
// subdirectories. fsnotify does not recurse, and manifests live exactly
// one level down, so new subdirectories are added to the watch as they
// appear.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsw.Add(w.dir); err != nil {
		w.fsw.Close()
		return fmt.Errorf("watch connectors directory: %w", err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.fsw.Close()
		return fmt.Errorf("read connectors directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := w.fsw.Add(filepath.Join(w.dir, entry.Name())); err != nil {
				w.log.Warn("failed to watch connector subdirectory",
					"subdir", entry.Name(),
					"error", err)
			}
		}
	}

	go w.eventLoop(ctx)
	w.log.Info("manifest watcher started")
	return nil
}

// Stop stops watching and waits for the event loop to exit. Pending
// debounced reloads are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.fsw.Close()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("manifest watcher stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.log.Info("manifest watcher stopped")
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				w.log.Warn("manifest watcher event channel closed")
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.log.Warn("manifest watcher error channel closed")
				return
			}
			w.log.Error("manifest watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	// New subdirectories join the watch so their manifest.json is seen.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if filepath.Dir(event.Name) == w.dir {
				if err := w.fsw.Add(event.Name); err != nil {
					w.log.Warn("failed to watch new connector subdirectory",
						"subdir", event.Name,
						"error", err)
				}
			}
			// A just-created directory may already hold a manifest
			// (rename into place), so fall through to scheduling.
		}
	}

	if !w.matches(event.Name) {
		return
	}
	w.scheduleReload(ctx)
}

// matches applies the include/exclude globs to a changed path. Directory
// events pass the include filter so renames of whole connector dirs
// still trigger a rescan.
func (w *Watcher) matches(path string) bool {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(path)

	for _, pattern := range w.cfg.Exclude {
		if match, _ := doublestar.Match(pattern, rel); match {
			return false
		}
		if match, _ := doublestar.Match(pattern, base); match {
			return false
		}
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return true
	}
	for _, pattern := range w.cfg.Include {
		if match, _ := doublestar.Match(pattern, rel); match {
			return true
		}
		if match, _ := doublestar.Match(pattern, base); match {
			return true
		}
	}
	return false
}

// scheduleReload arms (or re-arms) the debounce timer.
func (w *Watcher) scheduleReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.cfg.Debounce, func() {
		w.reload(ctx)
	})
}

func (w *Watcher) reload(ctx context.Context) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.pending = nil
	w.mu.Unlock()

	if !w.limiter.Allow() {
		recordRateLimited()
		w.log.Warn("manifest reload rate limit exceeded, dropping reload")
		return
	}

	result, err := w.loader.loadDir(ctx, w.dir, "watch")
	if err != nil {
		w.log.Error("manifest reload failed", "error", err)
		return
	}
	w.log.Info("manifest reload complete",
		"manifests", result.Loaded,
		"skipped", result.Skipped,
		"instances", result.Instances,
		"failed", result.Failed)
}
