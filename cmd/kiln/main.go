package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┬┌─┬┬  ┌┐┌
  ├┴┐││  │││
  ┴ ┴┴┴─┘┘└┘
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "kiln",
		Short: "The development server for modern web builds",
		Long: `Kiln is a fast development server for web projects.

It compiles your sources with esbuild, serves them from memory,
and hot-reloads connected browsers on change. Features include:

  • Instant rebuilds on file change
  • Hot reload over WebSocket with error overlay
  • Automatic port conflict resolution
  • Proxy support for external APIs
  • Lazy compilation of on-demand modules`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		devCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// printBanner prints the Kiln ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}
