package server

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func collectChanges(w *Watcher) func() []string {
	var mu sync.Mutex
	var changes []string
	w.OnChange(func(path string) {
		mu.Lock()
		changes = append(changes, path)
		mu.Unlock()
	})
	get := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), changes...)
	}
	return get
}

func waitForChange(t *testing.T, get func() []string, match string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, c := range get() {
			if filepath.Base(c) == match {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no change reported for %s, got %v", match, get())
}

func TestWatcherDetectsModification(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "main.ts")
	if err := os.WriteFile(file, []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(WatcherConfig{Paths: []string{dir}, Debounce: 20 * time.Millisecond})
	get := collectChanges(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)
	defer w.Stop()

	time.Sleep(100 * time.Millisecond) // let the initial scan settle

	// mtime granularity on some filesystems is one second
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(file, future, future); err != nil {
		t.Fatal(err)
	}

	waitForChange(t, get, "main.ts")
}

func TestWatcherDetectsNewFile(t *testing.T) {
	dir := t.TempDir()

	w := NewWatcher(WatcherConfig{Paths: []string{dir}, Debounce: 20 * time.Millisecond})
	get := collectChanges(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "new.ts"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	waitForChange(t, get, "new.ts")
}

func TestWatcherDetectsDeletion(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "gone.ts")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(WatcherConfig{Paths: []string{dir}, Debounce: 20 * time.Millisecond})
	get := collectChanges(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)

	if err := os.Remove(file); err != nil {
		t.Fatal(err)
	}

	waitForChange(t, get, "gone.ts")
}

func TestWatcherStop(t *testing.T) {
	w := NewWatcher(WatcherConfig{Paths: []string{t.TempDir()}, Debounce: 20 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !w.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	w.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
	if w.IsRunning() {
		t.Fatal("IsRunning true after Stop")
	}
}

func TestShouldIgnore(t *testing.T) {
	w := NewWatcher(WatcherConfig{Paths: []string{"."}})

	tests := []struct {
		path string
		want bool
	}{
		{"project/node_modules/pkg/index.js", true},
		{"project/.git/HEAD", true},
		{"project/dist/out.js", true},
		{"project/src/main.ts", false},
		{"project/src/notes.tmp", true},
		{"project/src/edit.swp", true},
		{"project/src/backup~", true},
	}
	for _, tt := range tests {
		if got := w.shouldIgnore(tt.path); got != tt.want {
			t.Errorf("shouldIgnore(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestWatcherAddPath(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()

	w := NewWatcher(WatcherConfig{Paths: []string{first}, Debounce: 20 * time.Millisecond})
	get := collectChanges(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)

	w.AddPath(second)
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(second, "late.ts"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	waitForChange(t, get, "late.ts")
}
