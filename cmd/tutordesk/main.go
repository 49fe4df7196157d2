// Command tutordesk serves the tutoring back office API and mints
// development session tokens.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"tutordesk/internal/config"
)

var exitFunc = os.Exit

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitFunc(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "tutordesk",
		Short:         "Tutoring back office: students, groups, sessions and payments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file read before the environment")

	load := func() (config.Config, error) { return config.Load(envFile) }
	root.AddCommand(newServeCommand(load), newTokenCommand(load))
	return root
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
