// Package compiler defines the contract the dev server consumes from the
// artifact-producing engine, and a default esbuild-backed implementation.
package compiler

import (
	"context"
)

// UpdateResult describes the outcome of an incremental update pass.
type UpdateResult struct {
	// Added lists module ids that appeared in this pass.
	Added []string

	// Changed lists module ids whose content changed.
	Changed []string

	// Removed lists module ids that disappeared in this pass.
	Removed []string

	// Boundaries maps a module id to the module ids that depend on it.
	Boundaries map[string][]string
}

// Structural reports whether the update changed the module graph shape,
// in which case an incremental hot update is not possible.
func (r *UpdateResult) Structural() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// Compiler is the collaborator contract consumed by the serving core.
// The core never inspects the engine beyond these calls.
type Compiler interface {
	// Compile runs a full compilation. Blocks until the build resolves.
	Compile(ctx context.Context) error

	// CompileSync runs a full compilation synchronously, used under the
	// profiling switch for deterministic timing.
	CompileSync() error

	// Update recompiles for the given changed file paths and reports the
	// affected module ids.
	Update(ctx context.Context, paths []string) (*UpdateResult, error)

	// WriteResourcesToDisk flushes compiled resources under the given
	// base path. An absolute public URL contributes an empty base.
	WriteResourcesToDisk(base string) error

	// AddExtraWatchFile registers dependency paths of a root file so the
	// watch feed covers files outside the module graph.
	AddExtraWatchFile(root string, paths []string)

	// ExtraWatchFiles returns all registered extra watch paths.
	ExtraWatchFiles() []string

	// Resources returns the compiled output as an in-memory name -> bytes map.
	Resources() map[string][]byte

	// Resource returns a single compiled resource by name.
	Resource(name string) ([]byte, bool)
}
