package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/profile-service/internal/model"
	"github.com/sells-group/profile-service/internal/profilestore"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect consolidated profiles",
}

var (
	profileIncludeStale bool
	profileOutput       string
)

var profileGetCmd = &cobra.Command{
	Use:   "get <entity-key>",
	Short: "Print one consolidated profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		profile, err := env.Profiles.GetProfile(ctx, args[0], profileIncludeStale)
		if err != nil {
			return eris.Wrap(err, "profile get")
		}
		if profile == nil {
			return eris.Errorf("no profile for entity %q", args[0])
		}

		switch profileOutput {
		case "yaml":
			return yaml.NewEncoder(os.Stdout).Encode(profile)
		case "json", "":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(profile)
		default:
			return eris.Errorf("unknown output format %q", profileOutput)
		}
	},
}

var (
	searchIndustries []string
	searchMinPerf    float64
	searchLimit      int
)

var profileSearchCmd = &cobra.Command{
	Use:   "search [text]",
	Short: "Search profiles by name",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		filter := profilestore.Filter{Industries: searchIndustries}
		if searchMinPerf > 0 {
			filter.MinPerformance = &searchMinPerf
		}
		page := profilestore.Page{Limit: searchLimit}

		var result *profilestore.QueryResult
		if len(args) > 0 {
			result, err = env.Profiles.Search(ctx, args[0], filter, page)
		} else {
			result, err = env.Profiles.Query(ctx, filter, page)
		}
		if err != nil {
			return eris.Wrap(err, "profile search")
		}

		if result.TotalCount == 0 {
			fmt.Println("No profiles matched")
			return nil
		}
		formatProfiles(os.Stdout, result.Items)
		fmt.Printf("%d of %d profiles\n", len(result.Items), result.TotalCount)
		return nil
	},
}

func init() {
	profileGetCmd.Flags().BoolVar(&profileIncludeStale, "include-stale", false, "return the profile even when past the staleness window")
	profileGetCmd.Flags().StringVar(&profileOutput, "output", "json", "output format: json or yaml")
	profileSearchCmd.Flags().StringSliceVar(&searchIndustries, "industry", nil, "filter by industry (repeatable)")
	profileSearchCmd.Flags().Float64Var(&searchMinPerf, "min-performance", 0, "minimum performance rating")
	profileSearchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum results")
	profileCmd.AddCommand(profileGetCmd)
	profileCmd.AddCommand(profileSearchCmd)
	rootCmd.AddCommand(profileCmd)
}

func formatProfiles(out io.Writer, items []model.ConsolidatedProfile) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ENTITY\tNAME\tINDUSTRY\tRATING\tCOMPLETE\tVERSION\tUPDATED")
	for i := range items {
		p := &items[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%d%%\t%d\t%s\n",
			p.EntityKey,
			p.QuickAccess.DisplayName,
			p.QuickAccess.Industry,
			p.QuickAccess.PerformanceRating,
			p.Completeness,
			p.ProfileVersion,
			p.LastUpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
