package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/salmalm/salmalm/internal/application"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

func main() {
	application.Version = version

	rootCmd := &cobra.Command{
		Use:   "salmalm",
		Short: "SalmAlm — personal AI gateway",
		Long: "SalmAlm runs a personal AI gateway: HTTP API, WebSocket, Telegram,\n" +
			"scheduled jobs, and remote tool nodes, all behind one agent loop.",
		RunE: runServe,
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("salmalm %s\n", version)
			},
		},
		&cobra.Command{
			Use:   "chat",
			Short: "Chat in the terminal against the local gateway",
			RunE:  runChat,
		},
		&cobra.Command{
			Use:   "doctor",
			Short: "Check the environment and configuration",
			RunE:  runDoctor,
		},
		&cobra.Command{
			Use:   "update",
			Short: "Check for a newer release",
			RunE:  runUpdate,
		},
		nodeCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
