package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/iopet/internal/app"
	"github.com/MrWong99/iopet/internal/config"
)

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the built-in provider names usable in the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printProviders(cmd.OutOrStdout())
		},
	}
}

// printProviders writes one line per provider kind, e.g.
// "stt: openai, whisper, whisper-native".
func printProviders(w io.Writer) error {
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	names := reg.Names()
	kinds := make([]string, 0, len(names))
	for kind := range names {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)

	for _, kind := range kinds {
		if len(names[kind]) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s: %s\n", kind, strings.Join(names[kind], ", ")); err != nil {
			return err
		}
	}
	return nil
}
