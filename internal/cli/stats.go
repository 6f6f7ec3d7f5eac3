package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidahmann/riskledger/internal/ledger"
	"github.com/davidahmann/riskledger/internal/stats"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

type StatsOptions struct {
	*RootOptions
	From   string
	To     string
	Format string
}

func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize decisions and overrides on the ledger",
		Long: `Report the verdict distribution, override and four-eyes shares, record
completeness, replay determinism, threshold coherence and the share of scores
near the lower review bound.

--from and --to take the same values as export.

Examples:
  riskledger stats
  riskledger stats --from 2025-01-01 --to 2025-01-31 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "earliest ts_utc to include")
	cmd.Flags().StringVar(&opts.To, "to", "", "latest ts_utc to include")
	cmd.Flags().StringVar(&opts.Format, "format", FormatText, "output format (text|json)")

	return cmd
}

func runStats(ctx context.Context, opts *StatsOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Format != FormatText && opts.Format != FormatJSON {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be %s or %s", opts.Format, FormatText, FormatJSON))
	}
	from, err := rangeBound(opts.From, false)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --from", err)
	}
	to, err := rangeBound(opts.To, true)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --to", err)
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

	summary := stats.Compute(records)
	if opts.Format == FormatJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	writeSummary(cmd.OutOrStdout(), summary)
	return nil
}

func writeSummary(w io.Writer, s stats.Summary) {
	fmt.Fprintf(w, "decisions:          %d\n", s.Total)
	fmt.Fprintf(w, "  ALLOW:            %d (%.2f%%)\n", s.Allow, s.AllowPct)
	fmt.Fprintf(w, "  REVIEW:           %d (%.2f%%)\n", s.Review, s.ReviewPct)
	fmt.Fprintf(w, "  BLOCK:            %d (%.2f%%)\n", s.Block, s.BlockPct)
	fmt.Fprintf(w, "overrides:          %d (%.2f%%)\n", s.OverrideTotal, s.OverridePct)
	fmt.Fprintf(w, "second approval:    %.2f%%\n", s.SecondApprovalPct)
	fmt.Fprintf(w, "log completeness:   %.2f%%\n", s.LogCompletenessPct)
	fmt.Fprintf(w, "determinism:        %.2f%% (%d replayed)\n", s.DeterminismConsistencyPct, s.DeterminismChecked)
	fmt.Fprintf(w, "coherence failures: %d\n", s.ThresholdCoherenceViolations)
	fmt.Fprintf(w, "edge band:          %.2f%%\n", s.EdgeBandPct)
	fmt.Fprintf(w, "notes:              %s\n", strings.Join(s.Notes, ","))
}
