// Command llmserver runs the LLM query routing server: it loads the tool
// catalog from the configured MCP tool server and serves the dispatch API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/FISA5th-AI-Final-Team4/LLMServer/internal/app"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "llmserver:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWithCLI(os.Args[1:])
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := app.New(ctx, cfg, configPath(os.Args[1:]))
	if err != nil {
		return err
	}
	return server.Run(ctx)
}

// configPath extracts the --config value so the watcher can observe the
// same file the loader read.
func configPath(args []string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--config" {
			return args[i+1]
		}
	}
	return ""
}
