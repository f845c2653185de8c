package server

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Paths are the directories and files to watch.
	Paths []string

	// Ignore patterns to skip (globs or path segments).
	Ignore []string

	// Debounce is the poll interval.
	Debounce time.Duration
}

// DefaultIgnore contains default patterns to ignore.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	"dist",
	".kiln",
	"*.tmp",
	"*.swp",
	"*~",
}

// Watcher polls the watched paths for modifications and reports changed
// file paths. Polling keeps behavior predictable on network filesystems.
type Watcher struct {
	config      WatcherConfig
	onChange    func(path string)
	mu          sync.Mutex
	running     bool
	initialized bool
	stopCh      chan struct{}
	timestamps  map[string]time.Time
}

// NewWatcher creates a new file watcher.
func NewWatcher(config WatcherConfig) *Watcher {
	if config.Debounce == 0 {
		config.Debounce = 100 * time.Millisecond
	}
	if len(config.Ignore) == 0 {
		config.Ignore = DefaultIgnore
	}

	return &Watcher{
		config:     config,
		timestamps: make(map[string]time.Time),
	}
}

// OnChange sets the callback for file changes.
func (w *Watcher) OnChange(fn func(path string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// AddPath adds a path to the watch set while running.
func (w *Watcher) AddPath(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.config.Paths {
		if p == path {
			return
		}
	}
	w.config.Paths = append(w.config.Paths, path)
}

// Start begins watching. Blocks until the context is done or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.scanInitial()

	ticker := time.NewTicker(w.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			w.checkForChanges()
		}
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stopCh)
		w.running = false
	}
}

// IsRunning returns whether the watcher is running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// scanInitial builds the initial timestamp map.
func (w *Watcher) scanInitial() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, path := range w.config.Paths {
		w.walkLocked(path, func(p string, modTime time.Time) {
			w.timestamps[p] = modTime
		})
	}
	w.initialized = true
}

func (w *Watcher) walkLocked(root string, visit func(path string, modTime time.Time)) {
	filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if w.shouldIgnore(p) {
				return filepath.SkipDir
			}
			return nil
		}
		if !w.shouldIgnore(p) {
			visit(p, info.ModTime())
		}
		return nil
	})
}

// checkForChanges scans for modified, new and deleted files.
func (w *Watcher) checkForChanges() {
	w.mu.Lock()
	callback := w.onChange
	initialized := w.initialized
	paths := append([]string(nil), w.config.Paths...)
	w.mu.Unlock()

	if callback == nil {
		return
	}

	var changed []string

	for _, path := range paths {
		w.walkLocked(path, func(p string, modTime time.Time) {
			w.mu.Lock()
			lastMod, exists := w.timestamps[p]
			if !exists || modTime.After(lastMod) {
				w.timestamps[p] = modTime
				if exists || initialized {
					changed = append(changed, p)
				}
			}
			w.mu.Unlock()
		})
	}

	w.mu.Lock()
	for p := range w.timestamps {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			delete(w.timestamps, p)
			changed = append(changed, p)
		}
	}
	w.mu.Unlock()

	for _, p := range changed {
		callback(p)
	}
}

// shouldIgnore checks if a path matches an ignore pattern, either by base
// name glob or by path segment.
func (w *Watcher) shouldIgnore(fullPath string) bool {
	name := filepath.Base(fullPath)
	normalized := filepath.ToSlash(fullPath)

	for _, pattern := range w.config.Ignore {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if name == pattern {
			return true
		}
		if strings.ContainsAny(pattern, "*?[") {
			if matched, _ := filepath.Match(pattern, name); matched {
				return true
			}
			continue
		}
		if pathHasSegment(normalized, pattern) {
			return true
		}
	}
	return false
}

func pathHasSegment(path, segment string) bool {
	if segment == "" {
		return false
	}
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
