package server

import (
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/kiln-build/kiln/internal/config"
)

// resourcesPlugin serves compiled output from the compiler's in-memory
// resource map under the public base path, delegating to the next handler
// on a miss. HTML resources get the hot-reload client script injected.
type resourcesPlugin struct{}

func (p *resourcesPlugin) Name() string { return "resources" }

func (p *resourcesPlugin) Install(ctx *Context) {
	comp := ctx.Compiler
	cfg := ctx.Config
	base := config.NormalizePublicPath(cfg.PublicPath)

	ctx.Use(p.Name(), func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			if !strings.HasPrefix(r.URL.Path, base) {
				next.ServeHTTP(w, r)
				return
			}

			name := resourceName(r.URL.Path, base)
			data, ok := comp.Resource(name)
			if !ok {
				// directory-style request falls back to its index page
				if !strings.Contains(path.Base(name), ".") {
					data, ok = comp.Resource(path.Join(name, "index.html"))
					if ok {
						name = path.Join(name, "index.html")
					}
				}
				if !ok {
					next.ServeHTTP(w, r)
					return
				}
			}

			if cfg.HMR != nil && strings.HasSuffix(name, ".html") {
				data = InjectClientScript(data, cfg.HMR.Path)
			}

			ctype := mime.TypeByExtension(path.Ext(name))
			if ctype == "" {
				ctype = "application/octet-stream"
			}
			w.Header().Set("Content-Type", ctype)
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			if r.Method == http.MethodHead {
				return
			}
			w.Write(data)
		})
	})
}

// resourceName maps a request path under the base path to a resource map
// key. The bare base path resolves to the index page.
func resourceName(urlPath, base string) string {
	name := strings.TrimPrefix(urlPath, base)
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return "index.html"
	}
	return name
}
