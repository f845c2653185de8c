package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kiln-build/kiln/internal/compiler"
	"github.com/kiln-build/kiln/internal/config"
)

// Context is the shared registry threaded through plugin installation and
// request handling. It is created exactly once per server instance; plugins
// receive it sequentially during installation and may only add handlers,
// never remove or reorder previously installed ones.
type Context struct {
	// Config is the canonical server configuration, immutable by now.
	Config *config.ServerConfig

	// Mux is the request-handling application.
	Mux *chi.Mux

	// Compiler is the artifact-producing collaborator.
	Compiler compiler.Compiler

	// Logger is the single logging sink shared by all subsystems.
	Logger zerolog.Logger

	// HMR is the hot-reload channel, nil when disabled.
	HMR *HmrChannel

	middlewares []func(http.Handler) http.Handler
	installed   []string
	fallback    http.Handler
}

// Use appends a middleware to the dispatch chain. Middlewares run in
// install order; each either answers the request or delegates to the next.
func (c *Context) Use(name string, mw func(http.Handler) http.Handler) {
	c.middlewares = append(c.middlewares, mw)
	c.installed = append(c.installed, name)
}

// Handle mounts a route on the request application.
func (c *Context) Handle(name, pattern string, h http.Handler) {
	c.Mux.Handle(pattern, h)
	c.installed = append(c.installed, name)
}

// Fallback sets the terminal handler that answers anything no earlier
// handler claimed.
func (c *Context) Fallback(name string, h http.Handler) {
	c.fallback = h
	c.installed = append(c.installed, name)
}

// InstallOrder returns the names of installed plugins in order. The order
// is part of the pipeline contract, not incidental.
func (c *Context) InstallOrder() []string {
	out := make([]string, len(c.installed))
	copy(out, c.installed)
	return out
}

// buildHandler composes the installed middlewares, routes and fallback
// into the final request handler. First match wins: middlewares in install
// order, then mounted routes, then the fallback.
func (c *Context) buildHandler() http.Handler {
	if c.fallback != nil {
		c.Mux.NotFound(c.fallback.ServeHTTP)
	}

	var handler http.Handler = c.Mux
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}
	return handler
}

// Plugin is a unit of request-handling capability installed into the
// context. Install is invoked exactly once, synchronously, in pipeline
// order.
type Plugin interface {
	// Name identifies the plugin in the install-order contract.
	Name() string

	// Install adds the plugin's handlers to the context.
	Install(ctx *Context)
}

// infraPlugins returns the fixed infrastructure sequence installed after
// all user plugins. The order is a contract: headers before any response
// producer, lazy compilation before the hot-reload and asset plugins see
// the result, cors before bodies, resources and records before the proxy
// fallback.
func infraPlugins() []Plugin {
	return []Plugin{
		&headersPlugin{},
		&lazyPlugin{},
		&hmrPlugin{},
		&corsPlugin{},
		&resourcesPlugin{},
		&recordsPlugin{},
		&proxyPlugin{},
	}
}

// installPlugins runs user plugins in caller order, then the fixed
// infrastructure sequence.
func installPlugins(ctx *Context, user []Plugin) {
	for _, p := range user {
		p.Install(ctx)
	}
	for _, p := range infraPlugins() {
		p.Install(ctx)
	}
}
