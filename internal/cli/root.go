// Package cli implements the offline ledger commands: verification of the
// live store or an exported snapshot, and CSV export.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/davidahmann/riskledger/internal/config"
	"github.com/davidahmann/riskledger/internal/ledger/ledgerdb"
	"github.com/davidahmann/riskledger/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DBDriver   string
	DBDSN      string
	LogLevel   string

	log zerolog.Logger
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "riskledger",
		Short: "Verify and export the credit decision ledger",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.log = logging.New(logging.Options{
				Service: "riskledger-cli",
				Level:   opts.LogLevel,
				Format:  "console",
				Output:  cmd.ErrOrStderr(),
			})
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to riskledger config file")
	cmd.PersistentFlags().StringVar(&opts.DBDriver, "db-driver", "", "ledger driver (sqlite|postgres), overrides config")
	cmd.PersistentFlags().StringVar(&opts.DBDSN, "db-dsn", "", "ledger DSN, overrides config")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level")

	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err != nil && !alreadyReported(err) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return ExitCode(err)
}

// openStore resolves the ledger location from config and flags and opens it.
func (o *RootOptions) openStore(ctx context.Context) (ledgerdb.Handle, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	driver := firstNonEmpty(o.DBDriver, cfg.DB.Driver)
	dsn := firstNonEmpty(o.DBDSN, cfg.DB.DSN)

	o.log.Debug().Str("driver", driver).Msg("opening ledger")
	store, err := ledgerdb.Open(ctx, driver, dsn)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	return store, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
