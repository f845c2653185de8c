package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kiln-build/kiln/internal/compiler"
	"github.com/kiln-build/kiln/internal/config"
	"github.com/kiln-build/kiln/internal/logger"
	"github.com/kiln-build/kiln/internal/server"
)

func devCmd() *cobra.Command {
	var (
		port        int
		host        string
		open        bool
		strictPort  bool
		writeToDisk bool
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Start the development server",
		Long: `Start the development server with hot reload.

The dev server watches for file changes, recompiles, and
automatically refreshes connected browsers.

Examples:
  kiln dev
  kiln dev --port=8080
  kiln dev --host=0.0.0.0 --open`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(devFlags{
				port:        port,
				host:        host,
				open:        open,
				strictPort:  strictPort,
				writeToDisk: writeToDisk,
				debug:       debug,
			})
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to serve on (default from kiln.json)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (default from kiln.json)")
	cmd.Flags().BoolVarP(&open, "open", "o", false, "Open browser on start")
	cmd.Flags().BoolVar(&strictPort, "strict-port", false, "Fail instead of trying the next port")
	cmd.Flags().BoolVar(&writeToDisk, "write-to-disk", false, "Also write compiled resources to the output directory")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

type devFlags struct {
	port        int
	host        string
	open        bool
	strictPort  bool
	writeToDisk bool
	debug       bool
}

func runDev(flags devFlags) error {
	log := logger.Setup(flags.debug)

	file, err := config.LoadFromWorkingDir()
	if err != nil {
		return err
	}

	opts := file.Server
	if flags.port > 0 {
		opts.Port = flags.port
	}
	if flags.host != "" {
		opts.Host = flags.host
	}
	if flags.open {
		opts.Open = true
	}
	if flags.strictPort {
		opts.StrictPort = true
	}
	if flags.writeToDisk {
		opts.WriteToDisk = true
	}

	cfg, err := config.Normalize(opts, file.PublicPath)
	if err != nil {
		return err
	}

	if _, err := server.ResolvePorts(cfg); err != nil {
		return err
	}

	comp := compiler.NewESBuild(compiler.ESBuildConfig{
		Root:           file.Dir(),
		EntryPointGlob: file.Build.Entry,
		OutDir:         file.Build.OutDir,
		SourceMap:      file.Build.SourceMap,
		Minify:         file.Build.Minify,
	})

	if cfg.Banner {
		printBanner()
	}

	srv := server.NewServer(server.Options{
		Config:     cfg,
		Compiler:   comp,
		Logger:     log,
		WatchPaths: []string{file.Dir()},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := srv.Listen(ctx); err != nil {
		return err
	}
	info("Press Ctrl+C to stop")

	<-sigCh
	fmt.Println("\n\n  Shutting down...")
	cancel()
	return srv.Close()
}
