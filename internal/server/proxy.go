package server

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
)

// proxyPlugin is the last-resort fallback for unmatched requests: prefix
// rules pass through to external targets, everything else gets the dev
// 404 page.
type proxyPlugin struct{}

func (p *proxyPlugin) Name() string { return "proxy" }

func (p *proxyPlugin) Install(ctx *Context) {
	logger := ctx.Logger
	rules := ctx.Config.Proxy

	ctx.Fallback(p.Name(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for prefix, target := range rules {
			if strings.HasPrefix(r.URL.Path, prefix) {
				targetURL, err := url.Parse(target)
				if err != nil {
					logger.Error().Err(err).Str("target", target).Msg("invalid proxy target")
					http.Error(w, "Invalid proxy target", http.StatusInternalServerError)
					return
				}
				httputil.NewSingleHostReverseProxy(targetURL).ServeHTTP(w, r)
				return
			}
		}
		notFoundPage(w, r)
	}))
}

// notFoundPage renders the dev-mode fallback page.
func notFoundPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Kiln Dev Server</title></head>
<body style="font-family: system-ui; padding: 40px; background: #1a1a1a; color: #fff;">
<h1 style="color: #ff5555;">Not Found</h1>
<p><code>%s</code> matched no compiled resource and no proxy rule.</p>
<p style="color: #888;">Check the public path and proxy configuration.</p>
</body>
</html>`, r.URL.Path)
}
