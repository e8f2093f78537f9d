package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/salmalm/salmalm/internal/application"
	"github.com/salmalm/salmalm/internal/infrastructure/config"
	"github.com/salmalm/salmalm/internal/infrastructure/logger"
)

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
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

	fmt.Printf("salmalm doctor (%s)\n\n", version)
	allOK := true
	for _, check := range app.Doctor(context.Background()) {
		mark := "\033[92m✓\033[0m"
		if !check.OK {
			mark = "\033[91m✗\033[0m"
			allOK = false
		}
		fmt.Printf("  %s %-12s %s\n", mark, check.Name, check.Detail)
	}
	fmt.Println()
	if !allOK {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("all checks passed")
	return nil
}
