// Command gostoryd is a thin demonstration entry point for the core: it
// wires a Node to the real filesystem and a zap logger and runs its event
// loop until interrupted. The interactive CLI, story-creation prompts, and
// SQLite-backed storage a full host would bring are explicitly out of scope
// here (§1) — this binary exists only to exercise the public command API,
// generalizing the teacher's cmd/main.go flag-parsing entry point
// (port, relay address) into the unified config document §6 defines.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/baderanaas/gostoryd/pkg/core/config"
	"github.com/baderanaas/gostoryd/pkg/node"
)

func main() {
	var port int
	var dir string
	var configPath string
	flag.IntVar(&port, "port", 0, "listen port (random if not specified)")
	flag.StringVar(&dir, "dir", ".gostoryd", "directory for persisted identity and state")
	flag.StringVar(&configPath, "config", "", "path to the unified network configuration document")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			logger.Fatal("failed to load configuration", zap.Error(err))
		}
		cfg = loaded
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	n, err := node.New(ctx, port, dir, cfg, node.Deps{Logger: logger})
	if err != nil {
		logger.Fatal("failed to create node", zap.Error(err))
	}

	go n.Run()

	<-ctx.Done()
	if err := n.Close(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
}
