// Command csvsplit filters the columns of a ;-separated table, or of a
// table inside a zip, and writes a ,-separated copy, split into parts when
// it is too large.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvsplit/internal/config"
	"github.com/JonMunkholm/csvsplit/internal/core"
	"github.com/JonMunkholm/csvsplit/internal/logging"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		if core.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, core.FormatUserError(err))
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs.
type app struct {
	cfg       *config.Config
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "csvsplit",
		Short: "Filter table columns and split large outputs",
		Long: `csvsplit reads a ;-separated table, or a zip containing one, keeps the
chosen columns and writes a ,-separated file. Outputs over the size threshold
are split into parts of a fixed number of rows and bundled in a zip.

Defaults come from the same SPLIT_* environment variables as the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			level := a.logLevel
			if level == "" {
				level = cfg.Logging.Level
			}
			logging.SetupWriter(cmd.ErrOrStderr(), level, a.logFormat)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to LOG_LEVEL")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(newMembersCmd(a), newColumnsCmd(a), newSplitCmd(a))
	return root
}
