package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/services/privacy"
)

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list [category...]",
		Aliases: []string{"ls", "scan"},
		Short:   "Read and list autostart items",
		Long: `Read the selected categories (all by default), reconcile them with the
saved snapshot, score them and print the resulting inventory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := parseCategoryArgs(args)
			if err != nil {
				return err
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := c.refresh(cmd.Context(), cmd, a, cats...)
			if err != nil {
				return err
			}
			if len(cats) == 0 {
				cats = a.Engine.Categories()
			}
			var records []model.LaunchRecord
			for _, cat := range cats {
				records = append(records, a.Engine.Store().Records(cat)...)
			}
			if c.masked {
				records = privacy.MaskRecords(records)
			}

			out := cmd.OutOrStdout()
			if c.jsonOutput {
				return c.outputJSON(out, map[string]any{
					"run_id":    rep.RunID,
					"records":   records,
					"aggregate": rep.Aggregate,
					"sources":   rep.Categories,
				})
			}

			for _, cat := range cats {
				printSection(out, string(cat))
				var rows [][]string
				for _, r := range records {
					if r.Category != cat {
						continue
					}
					rows = append(rows, []string{r.DisplayName, enabledText(r.Enabled), orDash(string(r.Impact)), orDash(r.Path)})
				}
				if len(rows) == 0 {
					printEmptyState(out, "No items found")
					continue
				}
				printTable(out, []string{"Name", "Enabled", "Impact", "Path"}, rows)
			}
			fmt.Fprintln(out)
			printLabelValue(out, "Enabled items", fmt.Sprintf("%d", rep.Aggregate.EnabledCount))
			printLabelValue(out, "Estimated startup", fmt.Sprintf("%.2fs", rep.Aggregate.EstimatedSeconds))
			return nil
		},
	}
}

func (c *cli) impactCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "impact",
		Short: "Rank enabled items by estimated startup impact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := c.refresh(cmd.Context(), cmd, a)
			if err != nil {
				return err
			}
			var ranked []model.LaunchRecord
			for _, r := range a.Engine.Store().All() {
				if r.Enabled && r.Metrics != nil && r.Category != model.CategoryBackgroundItems {
					ranked = append(ranked, r)
				}
			}
			sort.SliceStable(ranked, func(i, j int) bool {
				return ranked[i].Metrics.OverallScore > ranked[j].Metrics.OverallScore
			})
			if top > 0 && len(ranked) > top {
				ranked = ranked[:top]
			}
			if c.masked {
				ranked = privacy.MaskRecords(ranked)
			}

			out := cmd.OutOrStdout()
			if c.jsonOutput {
				return c.outputJSON(out, map[string]any{"records": ranked, "aggregate": rep.Aggregate})
			}

			printSection(out, "Startup Impact")
			if len(ranked) == 0 {
				printEmptyState(out, "No enabled items")
			}
			for _, r := range ranked {
				m := r.Metrics
				fmt.Fprintf(out, "  %s %-40s %5.2fs  %4dMB  cpu=%s  score=%.2f\n",
					impactText(m.OverallImpact, 6), r.DisplayName, m.EstimatedStartupSeconds, m.MemoryImpactMB, m.CPUImpact, m.OverallScore)
			}
			fmt.Fprintln(out)
			agg := rep.Aggregate
			printLabelValue(out, "Estimated startup", fmt.Sprintf("%.2fs (longest %.2fs, total %.2fs)", agg.EstimatedSeconds, agg.MaxSeconds, agg.SumSeconds))
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 0, "show only the N highest-impact items")
	return cmd
}

func (c *cli) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect or clear saved login item snapshots",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			infos, err := a.Store.ListSnapshots(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.jsonOutput {
				return c.outputJSON(out, infos)
			}
			printSection(out, "Snapshots")
			if len(infos) == 0 {
				printEmptyState(out, "No snapshots saved")
				return nil
			}
			rows := make([][]string, 0, len(infos))
			for _, in := range infos {
				rows = append(rows, []string{in.Namespace, fmt.Sprintf("%d", in.EntryCount), humanize.Time(time.Unix(in.UpdatedAt, 0))})
			}
			printTable(out, []string{"Namespace", "Entries", "Updated"}, rows)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <category>",
		Short: "Print the saved snapshot of a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := parseCategoryArg(args[0])
			if err != nil {
				return err
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			entries, err := a.Store.LoadSnapshot(cmd.Context(), a.Engine.SnapshotNamespace(cat))
			if err != nil {
				return err
			}
			if c.masked {
				for i := range entries {
					entries[i].Path = privacy.MaskHomePath(entries[i].Path)
				}
			}
			out := cmd.OutOrStdout()
			if c.jsonOutput {
				return c.outputJSON(out, entries)
			}
			printSection(out, "Snapshot "+string(cat))
			if entries == nil {
				printEmptyState(out, "No snapshot saved")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.DisplayName, enabledText(e.Enabled), orDash(e.Path)})
			}
			printTable(out, []string{"Name", "Enabled", "Path"}, rows)
			return nil
		},
	})
	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear <category>",
		Short: "Delete the saved snapshot of a category and re-read it",
		Long: `Forget the remembered enabled state of every item in the category. Items
whose state cannot be read live (hidden login items) come back as enabled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := parseCategoryArg(args[0])
			if err != nil {
				return err
			}
			if !yes {
				confirmed := false
				form := huh.NewForm(huh.NewGroup(
					huh.NewConfirm().Title(fmt.Sprintf("Clear the saved %s snapshot?", cat)).Value(&confirmed),
				))
				if err := form.Run(); err != nil {
					return err
				}
				if !confirmed {
					printEmptyState(cmd.OutOrStdout(), "Cancelled")
					return nil
				}
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Engine.ClearSnapshot(cmd.Context(), cat); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Snapshot cleared for "+string(cat))
			return nil
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.AddCommand(clearCmd)
	return cmd
}

func (c *cli) runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent refresh runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			runs, err := a.Store.ListRefreshRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.jsonOutput {
				return c.outputJSON(out, runs)
			}
			printSection(out, "Refresh Runs")
			if len(runs) == 0 {
				printEmptyState(out, "No refresh runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				committed := "yes"
				if !r.Committed {
					committed = "discarded"
				}
				rows = append(rows, []string{
					humanize.Time(time.Unix(r.FinishedAt, 0)), string(r.Category), string(r.Status),
					orDash(r.Method), fmt.Sprintf("%d", r.RecordCount), committed,
				})
			}
			printTable(out, []string{"Finished", "Category", "Status", "Method", "Records", "Committed"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}
