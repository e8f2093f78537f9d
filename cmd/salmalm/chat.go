package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/salmalm/salmalm/internal/application"
	"github.com/salmalm/salmalm/internal/infrastructure/config"
	"github.com/salmalm/salmalm/internal/infrastructure/logger"
	"github.com/salmalm/salmalm/internal/interfaces/cli"
)

// runChat boots the gateway in-process, without the network listeners, and
// hands it to the terminal UI.
func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// The alternate screen owns the terminal; keep logs out of it.
	log, err := logger.New(logger.Config{
		Level:      "error",
		Format:     "console",
		OutputPath: "/dev/null",
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	app, err := application.New(cfg, log)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer app.Shutdown()

	return cli.Run(app)
}
