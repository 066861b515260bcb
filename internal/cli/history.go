package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/iopet/internal/ui"
	"github.com/MrWong99/iopet/pkg/history"
	"github.com/MrWong99/iopet/pkg/history/postgres"
)

func newHistoryCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the conversation history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withHistory(cmd.Context(), *configPath, func(log *history.Log) error {
				turns := log.Recent()
				if limit > 0 && len(turns) > limit {
					turns = turns[:limit]
				}
				_, err := fmt.Fprint(cmd.OutOrStdout(), ui.FormatHistory(turns))
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n turns (0 shows all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every stored turn",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withHistory(cmd.Context(), *configPath, func(log *history.Log) error {
				n := log.Len()
				if err := log.Clear(cmd.Context()); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d turns.\n", n)
				return err
			})
		},
	})
	return cmd
}

// withHistory opens the configured conversation log, calls fn and closes
// the store.
func withHistory(ctx context.Context, configPath string, fn func(*history.Log) error) error {
	slog.SetDefault(newLogger(os.Stderr, warnLevel()))

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	var store history.Store
	if dsn := cfg.History.PostgresDSN; dsn != "" {
		pg, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
	} else {
		store = history.NewFileStore(cfg.History.Path)
	}

	log := history.NewLog(store, history.WithMaxTurns(cfg.History.MaxTurns))
	log.Load(ctx)
	return fn(log)
}

func warnLevel() *slog.LevelVar {
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	return lvl
}
