package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/profile-service/internal/model"
	"github.com/sells-group/profile-service/internal/scheduler"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Profile refresh operations",
}

var refreshRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one gated refresh cycle",
	Long:  "Consults the upstream freshness gates, refreshes every profile with expired source slots, and records the checkpoint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Scheduler.RunScheduledRefresh(ctx)
		if err != nil {
			return eris.Wrap(err, "refresh run")
		}

		printRunResult(os.Stdout, result)
		return nil
	},
}

var (
	forceEntities []string
	forceSources  []string
	forceMax      int
)

var refreshForceCmd = &cobra.Command{
	Use:   "force",
	Short: "Force a refresh, bypassing the freshness gates",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opts := scheduler.ForceOptions{EntityKeys: forceEntities, MaxProfiles: forceMax}
		for _, raw := range forceSources {
			kind := model.SourceKind(raw)
			if !kind.Valid() {
				return eris.Errorf("unknown source kind %q", raw)
			}
			opts.Sources = append(opts.Sources, kind)
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Scheduler.ForceRefresh(ctx, opts)
		if err != nil {
			return eris.Wrap(err, "refresh force")
		}

		printRunResult(os.Stdout, result)
		return nil
	},
}

var refreshStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show upstream freshness and refresh posture",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		upstream := env.Tracker.GetUpstreamFreshness(ctx)
		fmt.Printf("Upstream data age: %.1fh (stale: %v)\n", upstream.DataAgeHours, upstream.IsStale)
		if upstream.Degraded {
			fmt.Println("Warning: freshness probe degraded, conservative defaults in effect")
		}

		cadence, err := env.Tracker.InferRefreshCadence(ctx)
		if err != nil {
			zap.L().Warn("cadence inference failed", zap.Error(err))
		} else {
			fmt.Printf("Upstream cadence: %s (avg gap %.1fd, confidence %.2f)\n",
				cadence.Pattern, cadence.AvgGapDays, cadence.Confidence)
			if cadence.NextExpectedRefresh != nil {
				fmt.Printf("Next expected upstream batch: %s\n",
					cadence.NextExpectedRefresh.Format("2006-01-02 15:04"))
			}
		}

		decision, err := env.Tracker.ShouldTriggerRefresh(ctx)
		if err != nil {
			return eris.Wrap(err, "refresh status")
		}
		fmt.Printf("Would refresh: %v (%s, priority %s)\n",
			decision.ShouldRefresh, decision.Reason, decision.Priority)

		stats, err := env.Profiles.Stats(ctx, time.Now().UTC())
		if err != nil {
			return eris.Wrap(err, "refresh status")
		}
		fmt.Printf("Profiles: %d total, %d stale\n", stats.TotalProfiles, stats.StaleProfiles)
		if stats.OldestUpdatedAt != nil {
			fmt.Printf("Oldest profile update: %s\n", stats.OldestUpdatedAt.Format("2006-01-02 15:04"))
		}

		return nil
	},
}

func init() {
	refreshForceCmd.Flags().StringSliceVar(&forceEntities, "entity", nil, "entity keys to refresh (repeatable; default all expired)")
	refreshForceCmd.Flags().StringSliceVar(&forceSources, "source", nil, "source kinds to refresh (repeatable; default all)")
	refreshForceCmd.Flags().IntVar(&forceMax, "max", 0, "cap the number of profiles refreshed (default batch limit)")
	refreshCmd.AddCommand(refreshRunCmd)
	refreshCmd.AddCommand(refreshForceCmd)
	refreshCmd.AddCommand(refreshStatusCmd)
	rootCmd.AddCommand(refreshCmd)
}

// printRunResult writes a cycle summary plus a table of failures, if any.
func printRunResult(out io.Writer, r *scheduler.RunResult) {
	if r.Skipped {
		fmt.Fprintln(out, "Refresh cycle skipped: a previous cycle is still running")
		return
	}
	fmt.Fprintf(out, "Refresh cycle complete in %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "Candidates: %d  Succeeded: %d  Failed: %d\n",
		r.Candidates, r.Succeeded, len(r.Failed))
	if r.Decision != nil {
		fmt.Fprintf(out, "Gate decision: %v (%s)\n", r.Decision.ShouldRefresh, r.Decision.Reason)
	}

	if len(r.Failed) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ENTITY\tSOURCE\tERROR")
	for _, f := range r.Failed {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", f.EntityKey, f.Source, f.Error)
	}
	_ = w.Flush()
}
