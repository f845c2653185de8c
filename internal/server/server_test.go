package server

import (
	"context"
	"sync"
	"time"

	"github.com/kiln-build/kiln/internal/compiler"
	"github.com/kiln-build/kiln/internal/config"
)

// fakeCompiler is a scriptable stand-in for the real engine.
type fakeCompiler struct {
	mu sync.Mutex

	compileErr   error
	compileCalls int
	syncCalls    int
	flushCalls   []string
	flushErr     error

	updateResult *compiler.UpdateResult
	updateErr    error
	updated      [][]string

	resources map[string][]byte
	extras    []string
}

func (f *fakeCompiler) Compile(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compileCalls++
	return f.compileErr
}

func (f *fakeCompiler) CompileSync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	return f.compileErr
}

func (f *fakeCompiler) Update(ctx context.Context, paths []string) (*compiler.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, append([]string(nil), paths...))
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.updateResult != nil {
		return f.updateResult, nil
	}
	return &compiler.UpdateResult{Changed: paths}, nil
}

func (f *fakeCompiler) WriteResourcesToDisk(base string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCalls = append(f.flushCalls, base)
	return f.flushErr
}

func (f *fakeCompiler) AddExtraWatchFile(root string, paths []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extras = append(f.extras, paths...)
}

func (f *fakeCompiler) ExtraWatchFiles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.extras...)
}

func (f *fakeCompiler) Resources() map[string][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]byte, len(f.resources))
	for k, v := range f.resources {
		out[k] = v
	}
	return out
}

func (f *fakeCompiler) Resource(name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.resources[name]
	return data, ok
}

func (f *fakeCompiler) updateBatches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.updated...)
}

// testConfig returns a canonical config with hot reload enabled.
func testConfig() *config.ServerConfig {
	return &config.ServerConfig{
		Port:       9000,
		Host:       "localhost",
		Protocol:   "http",
		Hostname:   "localhost",
		PublicPath: "/",
		HMR: &config.HMRConfig{
			Path:    config.DefaultHMRPath,
			Port:    config.DefaultHMRPort,
			Timeout: time.Second,
			Overlay: true,
		},
	}
}
