package server

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kiln-build/kiln/internal/compiler"
)

func newTestEngine(t *testing.T, comp *fakeCompiler) (*HmrEngine, func() HmrMessage) {
	t.Helper()
	ch := NewHmrChannel(zerolog.Nop(), 0)
	srv := httptest.NewServer(ch)
	t.Cleanup(srv.Close)

	conn := dialTestChannel(t, srv)
	readMessage(t, conn) // connected
	waitForClients(t, ch, 1)

	engine := NewHmrEngine(ch, comp, zerolog.Nop())
	return engine, func() HmrMessage { return readMessage(t, conn) }
}

func TestEngineBroadcastsUpdate(t *testing.T) {
	comp := &fakeCompiler{
		updateResult: &compiler.UpdateResult{
			Changed:    []string{"src/dep.js"},
			Boundaries: map[string][]string{"src/dep.js": {"src/entry.js"}},
		},
	}
	engine, next := newTestEngine(t, comp)

	engine.Handle(context.Background(), []string{"src/dep.js"})

	msg := next()
	if msg.Type != HmrUpdate {
		t.Fatalf("type = %q, want update", msg.Type)
	}
	want := []string{"src/dep.js", "src/entry.js"}
	if len(msg.ModuleIDs) != len(want) || msg.ModuleIDs[0] != want[0] || msg.ModuleIDs[1] != want[1] {
		t.Fatalf("ModuleIDs = %v, want %v", msg.ModuleIDs, want)
	}
	if msg.Timestamp == 0 {
		t.Fatal("update message lacks timestamp")
	}
}

func TestEngineStructuralChangeForcesFullReload(t *testing.T) {
	comp := &fakeCompiler{
		updateResult: &compiler.UpdateResult{
			Added:   []string{"src/new.js"},
			Changed: []string{"src/entry.js"},
		},
	}
	engine, next := newTestEngine(t, comp)

	engine.Handle(context.Background(), []string{"src/new.js"})

	if msg := next(); msg.Type != HmrFullReload {
		t.Fatalf("type = %q, want full-reload", msg.Type)
	}
}

func TestEngineUnknownModuleForcesFullReload(t *testing.T) {
	comp := &fakeCompiler{updateResult: &compiler.UpdateResult{}}
	engine, next := newTestEngine(t, comp)

	engine.Handle(context.Background(), []string{"README.md"})

	if msg := next(); msg.Type != HmrFullReload {
		t.Fatalf("type = %q, want full-reload for unmapped change", msg.Type)
	}
}

func TestEngineRelaysCompileError(t *testing.T) {
	comp := &fakeCompiler{updateErr: context.DeadlineExceeded}
	engine, next := newTestEngine(t, comp)

	engine.Handle(context.Background(), []string{"src/broken.js"})

	msg := next()
	if msg.Type != HmrError {
		t.Fatalf("type = %q, want error", msg.Type)
	}
	if msg.Payload == "" {
		t.Fatal("error message lacks payload")
	}
}
