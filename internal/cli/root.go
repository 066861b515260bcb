// Package cli implements the iopet command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/iopet/internal/config"
)

// Version is reported in telemetry and by --version. Set at build time with
// -ldflags "-X github.com/MrWong99/iopet/internal/cli.Version=...".
var Version = "dev"

// NewRootCmd returns the iopet command tree. Without a subcommand it runs
// the pet.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "iopet",
		Short:         "A desktop pet that chats, listens and runs agent actions",
		Long:          "iopet talks to a local agent server, falls back to a local chat model when the agent is down, and speaks its replies.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPet(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file (missing file means built-in defaults)")

	root.AddCommand(
		newRunCmd(&configPath),
		newHistoryCmd(&configPath),
		newProvidersCmd(),
	)
	return root
}

// Execute runs the root command until it finishes or the process is
// interrupted, and returns the exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "iopet: %v\n", err)
		return 1
	}
	return 0
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the pet (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPet(cmd.Context(), *configPath)
		},
	}
}

// loadConfig reads path, falling back to the built-in defaults when the
// file does not exist.
func loadConfig(path string) (*config.Config, error) {
	return config.LoadOrDefault(path)
}

// newLogger returns a text logger writing to w at the level held by lvl.
func newLogger(w io.Writer, lvl *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
