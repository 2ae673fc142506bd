// Command anthropic-proxy runs the local reverse proxy that lets
// Anthropic-API clients talk to either a real Anthropic endpoint or an
// OpenAI-compatible upstream.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kingoliang/anthropic-proxy/internal/cli"
)

func main() {
	root := &cobra.Command{
		Use:   "anthropic-proxy",
		Short: "Local reverse proxy between Anthropic and OpenAI-compatible APIs",
	}
	root.AddCommand(cli.ServeCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
