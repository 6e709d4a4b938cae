package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ohmynofan/paws-community-bot/internal/app"
	"github.com/ohmynofan/paws-community-bot/internal/config"
	"github.com/ohmynofan/paws-community-bot/internal/platform/logger"
	"github.com/ohmynofan/paws-community-bot/internal/platform/ui"
)

func main() {
	os.Exit(run())
}

// run returns the exit code so deferred cleanup happens before os.Exit.
func run() int {
	_ = config.LoadEnv()
	logPath := config.LogPath()
	if err := logger.Init(logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warning: file logging disabled, cannot open %s: %v\n", logPath, err)
	}
	defer logger.Close()

	ui.StartUISystem("PAWS Community Bot")
	defer ui.StopUISystem()

	log := logger.NewNamed("Main", nil)

	cfg, err := config.Load()
	if err != nil {
		log.Error(err.Error())
		return 1
	}
	if err := cfg.EnsureSolverKey(ui.PromptSecret); err != nil {
		log.Error(err.Error())
		return 1
	}
	if err := cfg.Validate(); err != nil {
		log.Error(err.Error())
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg).Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("Interrupted, in-flight accounts were stopped")
			return 0
		}
		log.Error(err.Error())
		return 1
	}
	log.Success("All accounts processed")
	return 0
}
