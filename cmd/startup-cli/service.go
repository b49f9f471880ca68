package main

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"startup-inspector/internal/app"
	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/hash"
	"startup-inspector/internal/services/auditverify"
	"startup-inspector/internal/services/backup"
	"startup-inspector/internal/services/doctor"
	"startup-inspector/internal/services/watch"
	"startup-inspector/internal/services/webapp"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the local database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			version, err := a.Store.GetSchemaMetaValue(cmd.Context(), "schema_version")
			if err != nil {
				return err
			}
			applied, err := a.Store.AppliedMigrations(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.jsonOutput {
				return c.outputJSON(out, map[string]any{
					"db_path":        a.Config.DBPath,
					"schema_version": version,
					"migrations":     applied,
				})
			}
			printSuccess(out, "Database ready")
			printLabelValue(out, "Path", a.Config.DBPath)
			printLabelValue(out, "Schema version", version)
			rows := make([][]string, 0, len(applied))
			for _, m := range applied {
				rows = append(rows, []string{m.Name, m.SHA256[:12], humanize.Time(time.Unix(m.AppliedAt, 0))})
			}
			printTable(out, []string{"MIGRATION", "SHA256", "APPLIED"}, rows)
			return nil
		},
	}
}

func (c *cli) verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit chain or registered export files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "audits",
		Short: "Recompute the audit hash chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := auditverify.Verify(cmd.Context(), a.Store, a.Config.Namespace)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.jsonOutput {
				if err := c.outputJSON(out, res); err != nil {
					return err
				}
			} else {
				printSection(out, "Audit Chain")
				printLabelValue(out, "Namespace", res.Namespace)
				printLabelValue(out, "Events", fmt.Sprintf("%d", res.Total))
				printLabelValue(out, "Last hash", orDash(res.LastChainHash))
				for _, f := range res.Failures {
					printError(out, fmt.Sprintf("#%d %s %s/%s: %s", f.Index, f.EventID, f.EventType, f.Action, f.Message))
				}
			}
			if !res.OK {
				return fmt.Errorf("audit chain verify failed: %d of %d events (prev_hash=%d chain_hash=%d)",
					res.Failed, res.Total, res.PrevHashFailed, res.ChainHashFailed)
			}
			if !c.jsonOutput {
				printSuccess(out, "Audit chain intact")
			}
			return nil
		},
	})

	var exportType string
	exports := &cobra.Command{
		Use:   "exports",
		Short: "Re-hash registered backups and reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			rows, err := a.Store.ListExports(cmd.Context(), exportType)
			if err != nil {
				return err
			}

			type item struct {
				model.ExportRecord
				Actual string `json:"actual_sha256,omitempty"`
				Result string `json:"result"`
			}
			items := make([]item, 0, len(rows))
			failed := 0
			for _, r := range rows {
				it := item{ExportRecord: r, Result: "ok"}
				sum, _, err := hash.File(r.FilePath)
				switch {
				case errors.Is(err, fs.ErrNotExist):
					it.Result = "missing"
				case err != nil:
					it.Result = "error"
				case sum != r.SHA256:
					it.Actual = sum
					it.Result = "mismatch"
				}
				if it.Result != "ok" {
					failed++
				}
				items = append(items, it)
			}

			out := cmd.OutOrStdout()
			if c.jsonOutput {
				if err := c.outputJSON(out, items); err != nil {
					return err
				}
			} else {
				printSection(out, "Exports")
				if len(items) == 0 {
					printEmptyState(out, "No exports registered")
				}
				table := make([][]string, 0, len(items))
				for _, it := range items {
					table = append(table, []string{it.ExportType, it.Result, it.FilePath})
				}
				printTable(out, []string{"Type", "Result", "Path"}, table)
			}
			if failed > 0 {
				return fmt.Errorf("export verify failed: %s missing or modified", plural(failed, "file", "files"))
			}
			return nil
		},
	}
	exports.Flags().StringVar(&exportType, "type", "", "only check one export type ("+backup.ExportType+" or report_pdf)")
	cmd.AddCommand(exports)
	return cmd
}

func (c *cli) watchDirs(cfg app.Config) []watch.Dir {
	var dirs []watch.Dir
	for _, d := range c.doctorDirs(cfg) {
		dirs = append(dirs, watch.Dir{Path: d.Path, Category: d.Category})
	}
	return dirs
}

func (c *cli) newWatcher(a *app.App) (*watch.Watcher, error) {
	return watch.New(a.Engine, watch.Config{
		Dirs:     c.watchDirs(a.Config),
		Debounce: a.Config.Watch.Debounce,
		Interval: a.Config.Watch.Interval,
	}, a.Logger)
}

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Refresh automatically when launchd declarations change",
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
			w, err := c.newWatcher(a)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printSuccess(out, fmt.Sprintf("Watching for changes (%d enabled items); press Ctrl+C to stop", rep.Aggregate.EnabledCount))
			if err := w.Run(cmd.Context()); err != nil {
				return err
			}
			printEmptyState(out, "Stopped")
			return nil
		},
	}
}

func (c *cli) serveCmd() *cobra.Command {
	var (
		addr      string
		withWatch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API on the loopback interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.Config.ListenAddr
			}
			ctx := cmd.Context()

			srv := webapp.NewServer(webapp.Deps{
				Engine:   a.Engine,
				Store:    a.Store,
				Backups:  backup.NewManager(a.Config.BackupDir, c.deps.Clock),
				Registry: a.Registry,
			}, webapp.Options{
				ListenAddr: addr,
				DBPath:     a.Config.DBPath,
				Masked:     c.masked,
				Logger:     a.Logger,
			})
			// 首次刷新在后台进行，接口立即可用。
			a.Engine.StartRefresh(ctx)

			var w *watch.Watcher
			if withWatch {
				if w, err = c.newWatcher(a); err != nil {
					return err
				}
			}

			printSuccess(cmd.OutOrStdout(), "Serving on http://"+addr)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			if w != nil {
				g.Go(func() error { return w.Run(gctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to listen_addr)")
	cmd.Flags().BoolVar(&withWatch, "watch", false, "also refresh when launchd declarations change")
	return cmd
}

func (c *cli) doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check tools, directory access and Full Disk Access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			results := doctor.Run(doctor.Options{
				Dirs:     c.doctorDirs(cfg),
				BTMPaths: cfg.BTMPaths,
				Clock:    c.deps.Clock,
			})
			failed := doctor.Failed(results)

			out := cmd.OutOrStdout()
			if c.jsonOutput {
				if err := c.outputJSON(out, results); err != nil {
					return err
				}
			} else {
				printSection(out, "Environment")
				for _, r := range results {
					line := r.CheckName
					if r.Path != "" && r.Path != r.CheckName {
						line += " (" + r.Path + ")"
					}
					if r.Message != "" {
						line += ": " + r.Message
					}
					switch r.Status {
					case model.PrecheckPassed:
						printSuccess(out, line)
					case model.PrecheckSkipped:
						printEmptyState(out, "- "+line)
					default:
						if r.Required {
							printError(out, line)
						} else {
							printWarning(out, line)
						}
					}
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("%s failed", plural(len(failed), "required check", "required checks"))
			}
			return nil
		},
	}
}
