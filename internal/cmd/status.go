package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/llmgate/llmgate/internal/core"
	"github.com/llmgate/llmgate/internal/core/store"
	"github.com/llmgate/llmgate/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Inspect persisted provider status and throttle history",
}

var statusProvidersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show the latest provider status snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		reports, err := db.LatestSnapshots(cmd.Context())
		if err != nil {
			return err
		}

		sink, err := openCommandSink(cmd, format, "status.providers")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if len(reports) == 0 && format == output.FormatTable {
			_, _ = fmt.Fprint(sink.writer, ascii.DrawBox("Providers\n\n(no snapshots recorded; is serve running with a store?)", 0))
			return nil
		}
		rendered, err := output.NewFormatter(format).FormatProviders(reports)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

var (
	throttleProvider string
	throttleAction   string
	throttleSince    time.Duration
	throttleLimit    int
	throttleResetYes bool
	throttleDryRun   bool
)

var statusThrottlesCmd = &cobra.Command{
	Use:   "throttles",
	Short: "List auto-throttler adjustments",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		query, err := throttleQuery(time.Now())
		if err != nil {
			return err
		}
		query.Limit = throttleLimit

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		events, err := db.ListThrottleEvents(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := openCommandSink(cmd, format, "status.throttles")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		rendered, err := output.NewFormatter(format).FormatThrottleEvents(events)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

var statusThrottlesResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete recorded throttle adjustments",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return fmt.Errorf("unsupported output format: %s", format)
		}
		query, err := throttleQuery(time.Now())
		if err != nil {
			return err
		}
		unfiltered := query.Provider == "" && query.Action == "" && query.Since.IsZero()
		if unfiltered && !throttleResetYes && !throttleDryRun {
			return errors.New("resetting every event requires --yes (or use --dry-run)")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountThrottleEvents(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := openCommandSink(cmd, format, "status.throttles.reset")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if throttleDryRun {
			return writeThrottleResetResult(format, sink.writer, matched, 0, true)
		}
		deleted, err := db.ResetThrottleEvents(cmd.Context(), query)
		if err != nil {
			return err
		}
		return writeThrottleResetResult(format, sink.writer, matched, deleted, false)
	},
}

// throttleQuery builds the store filter from the shared throttle flags.
func throttleQuery(now time.Time) (store.ThrottleEventQuery, error) {
	query := store.ThrottleEventQuery{Provider: strings.TrimSpace(throttleProvider)}
	switch action := core.ThrottleAction(strings.ToLower(strings.TrimSpace(throttleAction))); action {
	case "":
	case core.ThrottleReduce, core.ThrottleRecover:
		query.Action = action
	default:
		return query, fmt.Errorf("unknown throttle action %q (want reduce or recover)", throttleAction)
	}
	if throttleSince < 0 {
		return query, fmt.Errorf("--since must not be negative")
	}
	if throttleSince > 0 {
		query.Since = now.Add(-throttleSince)
	}
	return query, nil
}

func writeThrottleResetResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	result := map[string]any{
		"matched": matched,
		"deleted": deleted,
		"dry_run": dryRun,
	}

	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d throttle event(s)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d throttle event(s)\n", deleted, matched)
	return err
}

func init() {
	addOutputFlags(statusProvidersCmd, "table|json|markdown")
	addOutputFlags(statusThrottlesCmd, "table|json|markdown")
	addOutputFlags(statusThrottlesResetCmd, "table|json")

	for _, c := range []*cobra.Command{statusThrottlesCmd, statusThrottlesResetCmd} {
		c.Flags().StringVar(&throttleProvider, "provider", "", "Only events for this provider")
		c.Flags().StringVar(&throttleAction, "action", "", "Only events with this action: reduce|recover")
		c.Flags().DurationVar(&throttleSince, "since", 0, "Only events newer than this duration (e.g. 1h)")
	}
	statusThrottlesCmd.Flags().IntVar(&throttleLimit, "limit", 50, "Maximum events to list (0 for all)")
	statusThrottlesResetCmd.Flags().BoolVar(&throttleResetYes, "yes", false, "Confirm deleting every event")
	statusThrottlesResetCmd.Flags().BoolVar(&throttleDryRun, "dry-run", false, "Show what would be deleted")

	statusThrottlesCmd.AddCommand(statusThrottlesResetCmd)
	statusCmd.AddCommand(statusProvidersCmd)
	statusCmd.AddCommand(statusThrottlesCmd)
	rootCmd.AddCommand(statusCmd)
}
