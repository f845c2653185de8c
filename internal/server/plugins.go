package server

import (
	"net/http"
	"strings"

	"github.com/rs/cors"

	"github.com/kiln-build/kiln/internal/config"
)

// headersPlugin establishes dev-mode response headers before any
// response-producing plugin runs. Compiled output must never be cached by
// the browser between rebuilds.
type headersPlugin struct{}

func (p *headersPlugin) Name() string { return "headers" }

func (p *headersPlugin) Install(ctx *Context) {
	ctx.Use(p.Name(), func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("X-Kiln-Dev", "1")
			next.ServeHTTP(w, r)
		})
	})
}

// lazyPlugin triggers a rebuild for modules requested with the lazy query
// marker, before the hot-reload and asset-serving plugins act on the
// result.
type lazyPlugin struct{}

func (p *lazyPlugin) Name() string { return "lazy-compilation" }

func (p *lazyPlugin) Install(ctx *Context) {
	comp := ctx.Compiler
	logger := ctx.Logger
	base := config.NormalizePublicPath(ctx.Config.PublicPath)

	ctx.Use(p.Name(), func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !r.URL.Query().Has("lazy") {
				next.ServeHTTP(w, r)
				return
			}

			id := strings.TrimPrefix(r.URL.Path, base)
			id = strings.TrimPrefix(id, "/")
			if _, err := comp.Update(r.Context(), []string{id}); err != nil {
				logger.Error().Err(err).Str("module", id).Msg("lazy compilation failed")
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}

// hmrPlugin mounts the hot-reload channel at its dedicated upgrade path.
type hmrPlugin struct{}

func (p *hmrPlugin) Name() string { return "hmr" }

func (p *hmrPlugin) Install(ctx *Context) {
	if ctx.Config.HMR == nil || ctx.HMR == nil {
		return
	}
	ctx.Handle(p.Name(), ctx.Config.HMR.Path, ctx.HMR)
}

// corsPlugin decorates responses with a permissive dev CORS policy,
// before any plugin writes a body.
type corsPlugin struct{}

func (p *corsPlugin) Name() string { return "cors" }

func (p *corsPlugin) Install(ctx *Context) {
	middleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	ctx.Use(p.Name(), middleware.Handler)
}
