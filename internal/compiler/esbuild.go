package compiler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/kiln-build/kiln/internal/errors"
)

// ESBuildConfig configures the esbuild-backed compiler.
type ESBuildConfig struct {
	// Root is the project root directory. Module ids are slash-separated
	// paths relative to it.
	Root string

	// EntryPointGlob matches the entry points, relative to Root.
	EntryPointGlob string

	// OutDir is the output directory used by WriteResourcesToDisk,
	// relative to Root.
	OutDir string

	// SourceMap enables linked source maps.
	SourceMap bool

	// Minify enables minification.
	Minify bool
}

// ESBuild compiles entry points with esbuild and keeps the output in memory.
type ESBuild struct {
	config ESBuildConfig

	mu         sync.RWMutex
	resources  map[string][]byte
	inputs     map[string][]string // module id -> imported module ids
	extraWatch map[string][]string // root file -> dependency paths
}

// NewESBuild creates an esbuild-backed compiler.
func NewESBuild(config ESBuildConfig) *ESBuild {
	if config.EntryPointGlob == "" {
		config.EntryPointGlob = "src/*.ts"
	}
	if config.OutDir == "" {
		config.OutDir = "dist"
	}
	return &ESBuild{
		config:     config,
		resources:  make(map[string][]byte),
		inputs:     make(map[string][]string),
		extraWatch: make(map[string][]string),
	}
}

// metafile is the subset of the esbuild metafile this compiler reads.
type metafile struct {
	Inputs map[string]struct {
		Imports []struct {
			Path     string `json:"path"`
			External bool   `json:"external"`
		} `json:"imports"`
	} `json:"inputs"`
}

// Compile runs a full compilation.
func (c *ESBuild) Compile(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.build()
}

// CompileSync runs a full compilation synchronously.
func (c *ESBuild) CompileSync() error {
	return c.build()
}

func (c *ESBuild) build() error {
	entryPoints, err := filepath.Glob(filepath.Join(c.config.Root, c.config.EntryPointGlob))
	if err != nil {
		return errors.New("E301").Wrap(err)
	}
	if len(entryPoints) == 0 {
		return errors.New("E301").WithDetailf("no entry points match %q", c.config.EntryPointGlob)
	}

	absRoot, err := filepath.Abs(c.config.Root)
	if err != nil {
		return errors.New("E301").Wrap(err)
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:       entryPoints,
		AbsWorkingDir:     absRoot,
		Bundle:            true,
		Write:             false,
		Outdir:            filepath.Join(absRoot, c.config.OutDir),
		Format:            api.FormatESModule,
		MinifyWhitespace:  c.config.Minify,
		MinifyIdentifiers: c.config.Minify,
		MinifySyntax:      c.config.Minify,
		Sourcemap:         sourcemapMode(c.config.SourceMap),
		Metafile:          true,
	})

	if len(result.Errors) > 0 {
		return errors.New("E301").WithDetail(joinMessages(result.Errors))
	}

	var meta metafile
	if err := json.Unmarshal([]byte(result.Metafile), &meta); err != nil {
		return errors.New("E301").Wrap(err)
	}

	resources := make(map[string][]byte, len(result.OutputFiles))
	outDir := filepath.Join(absRoot, c.config.OutDir)
	for _, file := range result.OutputFiles {
		name, err := filepath.Rel(outDir, file.Path)
		if err != nil {
			name = filepath.Base(file.Path)
		}
		resources[filepath.ToSlash(name)] = file.Contents
	}

	inputs := make(map[string][]string, len(meta.Inputs))
	for id, in := range meta.Inputs {
		var deps []string
		for _, imp := range in.Imports {
			if imp.External {
				continue
			}
			deps = append(deps, imp.Path)
		}
		inputs[id] = deps
	}

	c.mu.Lock()
	c.resources = resources
	c.inputs = inputs
	c.mu.Unlock()
	return nil
}

// Update recompiles and diffs the module graph against the previous pass.
func (c *ESBuild) Update(ctx context.Context, paths []string) (*UpdateResult, error) {
	c.mu.RLock()
	before := make(map[string]bool, len(c.inputs))
	for id := range c.inputs {
		before[id] = true
	}
	c.mu.RUnlock()

	if err := c.Compile(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	res := &UpdateResult{Boundaries: c.dependentsLocked()}
	for id := range c.inputs {
		if !before[id] {
			res.Added = append(res.Added, id)
		}
	}
	for id := range before {
		if _, ok := c.inputs[id]; !ok {
			res.Removed = append(res.Removed, id)
		}
	}
	for _, p := range paths {
		id := c.moduleID(p)
		if _, ok := c.inputs[id]; ok {
			res.Changed = append(res.Changed, id)
		}
	}

	sort.Strings(res.Added)
	sort.Strings(res.Changed)
	sort.Strings(res.Removed)
	return res, nil
}

// dependentsLocked inverts the import graph: module id -> dependent ids.
func (c *ESBuild) dependentsLocked() map[string][]string {
	dependents := make(map[string][]string)
	for id, deps := range c.inputs {
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], id)
		}
	}
	for _, ids := range dependents {
		sort.Strings(ids)
	}
	return dependents
}

// moduleID converts a filesystem path to a slash-separated id relative
// to the project root.
func (c *ESBuild) moduleID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	absRoot, err := filepath.Abs(c.config.Root)
	if err != nil {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// WriteResourcesToDisk flushes compiled resources under OutDir joined with
// the given base path.
func (c *ESBuild) WriteResourcesToDisk(base string) error {
	c.mu.RLock()
	resources := make(map[string][]byte, len(c.resources))
	for name, data := range c.resources {
		resources[name] = data
	}
	c.mu.RUnlock()

	base = strings.Trim(base, "/")
	dir := filepath.Join(c.config.Root, c.config.OutDir, filepath.FromSlash(base))

	for name, data := range resources {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return errors.New("E302").Wrap(err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return errors.New("E302").WithDetail(path).Wrap(err)
		}
	}
	return nil
}

// AddExtraWatchFile registers dependency paths of a root file.
func (c *ESBuild) AddExtraWatchFile(root string, paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extraWatch[root] = append(c.extraWatch[root], paths...)
}

// ExtraWatchFiles returns all registered extra watch paths.
func (c *ESBuild) ExtraWatchFiles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var all []string
	for _, paths := range c.extraWatch {
		all = append(all, paths...)
	}
	sort.Strings(all)
	return all
}

// Resources returns a copy of the in-memory compiled output.
func (c *ESBuild) Resources() map[string][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]byte, len(c.resources))
	for name, data := range c.resources {
		out[name] = data
	}
	return out
}

// Resource returns a single compiled resource by name.
func (c *ESBuild) Resource(name string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.resources[name]
	return data, ok
}

func sourcemapMode(enabled bool) api.SourceMap {
	if enabled {
		return api.SourceMapLinked
	}
	return api.SourceMapNone
}

func joinMessages(msgs []api.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Location != nil {
			parts = append(parts, msg.Location.File+": "+msg.Text)
			continue
		}
		parts = append(parts, msg.Text)
	}
	return strings.Join(parts, "\n")
}
