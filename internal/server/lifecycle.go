package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kiln-build/kiln/internal/compiler"
	"github.com/kiln-build/kiln/internal/config"
	kilnerrors "github.com/kiln-build/kiln/internal/errors"
)

// profileEnv switches the initial compile to the synchronous profiling
// path when set.
const profileEnv = "KILN_PROFILE"

type serverState int

const (
	stateCreated serverState = iota
	stateListening
	stateClosed
)

// Options configures a dev server.
type Options struct {
	Config   *config.ServerConfig
	Compiler compiler.Compiler
	Logger   zerolog.Logger

	// Plugins are user plugins, installed before the infrastructure
	// sequence in the order given.
	Plugins []Plugin

	// WatchPaths are the directories observed for source changes. Empty
	// disables watching.
	WatchPaths []string

	// WatchIgnore overrides the default ignore patterns.
	WatchIgnore []string
}

// Server is the dev server lifecycle controller. Construction installs the
// plugin pipeline; Listen compiles, binds and serves; Close tears down.
// Lifecycle misuse degrades to logged warnings, never panics.
type Server struct {
	cfg      *config.ServerConfig
	comp     compiler.Compiler
	logger   zerolog.Logger
	tracer   trace.Tracer
	ctx      *Context
	handler  http.Handler
	hmr      *HmrChannel
	engine   *HmrEngine
	watcher  *Watcher
	changeCh chan string

	mu         sync.Mutex
	state      serverState
	httpServer *http.Server
	listener   net.Listener
	watchStop  context.CancelFunc

	// exit terminates the process on fatal bind errors. Swappable for
	// tests.
	exit func(int)
}

// NewServer constructs a server and installs the plugin pipeline. The
// returned server is in the created state; nothing is bound yet.
func NewServer(opts Options) *Server {
	s := &Server{
		cfg:    opts.Config,
		comp:   opts.Compiler,
		logger: opts.Logger,
		tracer: otel.Tracer("kiln/server"),
		exit:   os.Exit,
	}

	if s.cfg.HMR != nil {
		s.hmr = NewHmrChannel(s.logger, s.cfg.HMR.Timeout)
		s.engine = NewHmrEngine(s.hmr, s.comp, s.logger)
	}

	s.ctx = &Context{
		Config:   s.cfg,
		Mux:      chi.NewMux(),
		Compiler: s.comp,
		Logger:   s.logger,
		HMR:      s.hmr,
	}
	installPlugins(s.ctx, opts.Plugins)
	s.handler = s.ctx.buildHandler()

	if len(opts.WatchPaths) > 0 {
		s.watcher = NewWatcher(WatcherConfig{
			Paths:  opts.WatchPaths,
			Ignore: opts.WatchIgnore,
		})
		s.changeCh = make(chan string, 64)
		s.watcher.OnChange(func(path string) {
			select {
			case s.changeCh <- path:
			default:
				s.logger.Warn().Str("path", path).Msg("change queue full, dropping event")
			}
		})
	}

	return s
}

// InstallOrder exposes the pipeline's installed plugin names in order.
func (s *Server) InstallOrder() []string {
	if s.ctx == nil {
		return nil
	}
	return s.ctx.InstallOrder()
}

// URL returns the browser-navigable root address.
func (s *Server) URL() string {
	return fmt.Sprintf("%s://%s:%d%s", s.cfg.Protocol, s.cfg.Hostname, s.cfg.Port,
		config.NormalizePublicPath(s.cfg.PublicPath))
}

// Listen compiles the project, binds the socket and starts serving. It
// returns once the server is accepting connections; serving continues in
// the background until Close. Compile failures abort before any bind.
// Fatal bind errors are logged and terminate the process; a strict-port
// conflict is returned to the caller instead.
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		werr := kilnerrors.New("E401")
		s.logWarn(werr, "listen on unconstructed server ignored")
		return nil
	}
	if s.state != stateCreated {
		s.mu.Unlock()
		werr := kilnerrors.New("E401")
		s.logger.Warn().Str("code", werr.Code).Msg("listen ignored, server already started or closed")
		return nil
	}
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "server.listen",
		trace.WithAttributes(attribute.Int("port", s.cfg.Port)))
	defer span.End()

	start := time.Now()

	if err := s.compile(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	if s.cfg.WriteToDisk {
		if err := s.flushToDisk(); err != nil {
			span.RecordError(err)
			return err
		}
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	_, bindSpan := s.tracer.Start(ctx, "server.bind", trace.WithAttributes(attribute.String("addr", addr)))
	ln, err := net.Listen("tcp", addr)
	bindSpan.End()
	if err != nil {
		kerr := translateBindError(err, s.cfg.Host, s.cfg.Port)
		if isAddrInUse(err) && s.cfg.StrictPort {
			return kerr
		}
		s.logger.Error().Str("code", kerr.Code).Err(kerr).Msg("cannot bind dev server")
		s.shutdown()
		s.exit(1)
		return kerr
	}

	srv := &http.Server{Handler: s.handler}
	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.state = stateListening
	s.mu.Unlock()

	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error().Err(serveErr).Msg("dev server stopped unexpectedly")
		}
	}()

	s.startWatching()

	if s.cfg.Banner {
		s.printBanner(time.Since(start))
	}
	if s.cfg.Open {
		go func() {
			if openErr := openBrowser(s.URL()); openErr != nil {
				s.logger.Warn().Err(openErr).Msg("could not open browser")
			}
		}()
	}

	return nil
}

// compile runs the initial build. The profiling switch trades concurrency
// for an attributable trace.
func (s *Server) compile(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "server.compile")
	defer span.End()

	var err error
	if os.Getenv(profileEnv) != "" {
		s.logger.Info().Msg("profiling enabled, compiling synchronously")
		err = s.comp.CompileSync()
	} else {
		err = s.comp.Compile(ctx)
	}
	if err != nil {
		kerr := kilnerrors.FromError(err, "E301")
		s.logger.Error().Str("code", kerr.Code).Err(err).Msg("initial compile failed")
		return kerr
	}
	return nil
}

// flushToDisk writes compiled resources under the output directory. An
// absolute-URL public path contributes no local subdirectory.
func (s *Server) flushToDisk() error {
	base := strings.TrimPrefix(config.NormalizePublicPath(s.cfg.PublicPath), "/")
	if config.IsAbsoluteURL(s.cfg.PublicPath) {
		base = ""
	}
	if err := s.comp.WriteResourcesToDisk(base); err != nil {
		kerr := kilnerrors.FromError(err, "E302")
		s.logger.Error().Str("code", kerr.Code).Err(err).Msg("writing resources to disk failed")
		return kerr
	}
	return nil
}

// startWatching starts the file watcher and the single change-processing
// goroutine. Both stop when the watch context is cancelled.
func (s *Server) startWatching() {
	if s.watcher == nil || s.engine == nil {
		return
	}

	for _, p := range s.comp.ExtraWatchFiles() {
		s.watcher.AddPath(p)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.watchStop = cancel
	s.mu.Unlock()

	go func() {
		if err := s.watcher.Start(watchCtx); err != nil && err != context.Canceled {
			s.logger.Warn().Err(err).Msg("watcher stopped")
		}
	}()
	go s.processChanges(watchCtx)
}

// processChanges coalesces bursts of change events into batches before
// handing them to the engine. A single goroutine does all handling, so
// broadcast order matches observation order.
func (s *Server) processChanges(ctx context.Context) {
	const window = 50 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case first := <-s.changeCh:
			batch := []string{first}
			timer := time.NewTimer(window)
		coalesce:
			for {
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case p := <-s.changeCh:
					batch = append(batch, p)
				case <-timer.C:
					break coalesce
				}
			}
			s.engine.Handle(ctx, dedupe(batch))
		}
	}
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Close stops serving and releases the socket. Closing a server that was
// never listening is a logged no-op; the zero value is safe.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.state != stateListening {
		s.mu.Unlock()
		werr := kilnerrors.New("E402")
		s.logWarn(werr, "close on non-listening server ignored")
		return nil
	}
	s.state = stateClosed
	s.mu.Unlock()

	s.shutdown()
	return nil
}

// shutdown tears down the background machinery. Safe to call with
// partially initialized state.
func (s *Server) shutdown() {
	s.mu.Lock()
	cancel := s.watchStop
	srv := s.httpServer
	ln := s.listener
	s.watchStop = nil
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.hmr != nil {
		s.hmr.Close()
	}
	if srv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("graceful shutdown incomplete")
		}
	}
	if ln != nil {
		// Shutdown only closes listeners Serve has registered; the serve
		// goroutine may not have reached Serve yet, so close directly too.
		ln.Close()
	}
}

// Restart closes the running server and starts it again with the already
// installed pipeline. Configuration changes require a new server.
func (s *Server) Restart(ctx context.Context) error {
	s.mu.Lock()
	listening := s.state == stateListening
	s.mu.Unlock()

	if listening {
		if err := s.Close(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.state = stateCreated
	s.mu.Unlock()

	return s.Listen(ctx)
}

func (s *Server) logWarn(err *kilnerrors.KilnError, msg string) {
	logger := s.logger
	if s.ctx == nil {
		// zero value carries no logger; fall back to a silent one
		logger = zerolog.Nop()
	}
	logger.Warn().Str("code", err.Code).Msg(msg)
}

// printBanner prints the startup notice with the navigable URL.
func (s *Server) printBanner(elapsed time.Duration) {
	s.logger.Info().
		Str("url", s.URL()).
		Dur("ready_in", elapsed).
		Msg("dev server ready")

	fmt.Printf("\n  kiln dev server ready in %s\n\n  ➜  Local: %s\n\n", elapsed.Round(time.Millisecond), s.URL())
	if s.hmr != nil {
		fmt.Printf("  ➜  HMR:   %s\n\n", s.cfg.HMR.Path)
	}
}
