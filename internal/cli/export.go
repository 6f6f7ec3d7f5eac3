package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidahmann/riskledger/internal/decision"
	"github.com/davidahmann/riskledger/internal/ledger"
)

const dateLayout = "2006-01-02"

type ExportOptions struct {
	*RootOptions
	Out  string
	From string
	To   string
}

func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export ledger records as CSV with a SHA256 footer",
		Long: `Write ledger records in sequence order as CSV, followed by a
"# SHA256=<hex>" line covering every preceding byte.

--from and --to bound ts_utc inclusively and accept either a UTC timestamp
(2025-01-02T03:04:05Z) or a date (2025-01-02). A date in --to covers the
whole day.

Examples:
  riskledger export --out ledger.csv
  riskledger export --out january.csv --from 2025-01-01 --to 2025-01-31`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Out, "out", "", "output CSV path (required)")
	_ = cmd.MarkFlagRequired("out")
	cmd.Flags().StringVar(&opts.From, "from", "", "earliest ts_utc to include")
	cmd.Flags().StringVar(&opts.To, "to", "", "latest ts_utc to include")

	return cmd
}

func runExport(ctx context.Context, opts *ExportOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	from, err := rangeBound(opts.From, false)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --from", err)
	}
	to, err := rangeBound(opts.To, true)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --to", err)
	}
	if from != "" && to != "" && from > to {
		return NewExitError(ExitCommandError, "--from is after --to")
	}

	store, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListRecords(ctx, ledger.ListFilter{From: from, To: to})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read ledger", err)
	}

	sum, err := writeExport(opts.Out, records)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to write export", err)
	}
	opts.log.Debug().Str("path", opts.Out).Int("rows", len(records)).Msg("ledger exported")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Exported %d rows to %s\n", len(records), opts.Out)
	fmt.Fprintf(out, "SHA256=%s\n", sum)
	return nil
}

func writeExport(path string, records []ledger.Record) (string, error) {
	// #nosec G304 -- path is operator-provided.
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	sum, err := ledger.WriteCSV(f, records)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return sum, nil
}

// rangeBound normalizes a --from/--to value to the ledger timestamp layout.
func rangeBound(value string, endOfDay bool) (string, error) {
	if value == "" {
		return "", nil
	}
	if t, err := time.Parse(decision.TimestampLayout, value); err == nil {
		return decision.FormatTimestamp(t), nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return "", fmt.Errorf("%q is neither %s nor %s", value, decision.TimestampLayout, dateLayout)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return decision.FormatTimestamp(t), nil
}
