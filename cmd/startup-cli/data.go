package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"startup-inspector/internal/app"
	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/services/backup"
	"startup-inspector/internal/services/doctor"
	"startup-inspector/internal/services/inventory"
	"startup-inspector/internal/services/report"
)

func (c *cli) backupManager(a *app.App) *backup.Manager {
	return backup.NewManager(a.Config.BackupDir, c.deps.Clock)
}

func (c *cli) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write the current configuration to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := c.refresh(cmd.Context(), cmd, a); err != nil {
				return err
			}
			path := args[0]
			if err := backup.Export(path, a.Engine.Store().All(), c.clockNow(), backup.Options{Masked: c.masked}); err != nil {
				return err
			}
			exportID, err := backup.Register(cmd.Context(), a.Store, path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.jsonOutput {
				return c.outputJSON(out, map[string]string{"export_id": exportID, "path": path})
			}
			printSuccess(out, "Configuration exported to "+path)
			return nil
		},
	}
}

func (c *cli) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Compare an exported configuration with the current state",
		Long: `Read an exported configuration or backup and list how it differs from the
current inventory. Nothing is changed; apply differences with enable,
disable or remove.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := backup.Import(args[0])
			if err != nil {
				return err
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return c.printDiff(cmd, a, cfg)
		},
	}
}

func (c *cli) printDiff(cmd *cobra.Command, a *app.App, cfg backup.Configuration) error {
	if _, err := c.refresh(cmd.Context(), cmd, a); err != nil {
		return err
	}
	changes := backup.Diff(cfg, a.Engine.Store().All())
	out := cmd.OutOrStdout()
	if c.jsonOutput {
		if changes == nil {
			changes = []backup.Change{}
		}
		return c.outputJSON(out, map[string]any{"timestamp": cfg.Timestamp, "changes": changes})
	}

	printSection(out, "Differences from "+cfg.Timestamp.Time().Local().Format("2006-01-02 15:04:05"))
	if len(changes) == 0 {
		printSuccess(out, "Current state matches the configuration")
		return nil
	}
	rows := make([][]string, 0, len(changes))
	for _, ch := range changes {
		detail := ""
		switch ch.Kind {
		case backup.ChangeMissing:
			detail = "not installed"
		case backup.ChangeExtra:
			detail = "not in configuration"
		case backup.ChangeEnabled:
			detail = fmt.Sprintf("want enabled=%s, is %s", enabledText(ch.WantEnable), enabledText(ch.HasEnable))
		}
		rows = append(rows, []string{string(ch.Category), string(ch.Kind), ch.Path, detail})
	}
	printTable(out, []string{"Category", "Change", "Path", "Detail"}, rows)
	fmt.Fprintln(out)
	printLabelValue(out, "Total", plural(len(changes), "difference", "differences"))
	return nil
}

func (c *cli) backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, inspect or delete backups",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Back up the current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if _, err := c.refresh(cmd.Context(), cmd, a); err != nil {
				return err
			}
			path, err := c.backupManager(a).Create(a.Engine.Store().All(), backup.Options{Masked: c.masked})
			if err != nil {
				return err
			}
			exportID, err := backup.Register(cmd.Context(), a.Store, path)
			if err != nil {
				return err
			}
			_ = a.Store.AppendAudit(cmd.Context(), a.Config.Namespace, "export", backup.ExportType, "success", c.deps.Actor, "", map[string]any{
				"path":   path,
				"masked": c.masked,
			})
			out := cmd.OutOrStdout()
			if c.jsonOutput {
				return c.outputJSON(out, map[string]string{"export_id": exportID, "path": path})
			}
			printSuccess(out, "Backup created: "+filepath.Base(path))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List backups, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			list, err := backup.NewManager(cfg.BackupDir, c.deps.Clock).List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.jsonOutput {
				if list == nil {
					list = []backup.Info{}
				}
				return c.outputJSON(out, list)
			}
			printSection(out, "Backups")
			if len(list) == 0 {
				printEmptyState(out, "No backups in "+cfg.BackupDir)
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, b := range list {
				rows = append(rows, []string{b.Name, humanize.Bytes(uint64(b.Size)), humanize.Time(b.CreatedAt)})
			}
			printTable(out, []string{"Name", "Size", "Created"}, rows)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Compare a backup with the current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			cfg, err := c.backupManager(a).Load(args[0])
			if err != nil {
				return err
			}
			return c.printDiff(cmd, a, cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a backup",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			if err := backup.NewManager(cfg.BackupDir, c.deps.Clock).Delete(args[0]); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Backup deleted: "+args[0])
			return nil
		},
	})
	return cmd
}

func (c *cli) reportCmd() *cobra.Command {
	var (
		operator string
		note     string
		dir      string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a PDF inventory report",
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
			var states []inventory.CategoryState
			for _, cat := range a.Engine.Categories() {
				if st, ok := a.Engine.Store().Category(cat); ok {
					states = append(states, st)
				}
			}
			prechecks := doctor.Run(doctor.Options{
				Dirs:     c.doctorDirs(a.Config),
				BTMPaths: a.Config.BTMPaths,
				Clock:    c.deps.Clock,
			})
			logs, err := a.Store.ListAuditLogs(cmd.Context(), a.Config.Namespace)
			if err != nil {
				return err
			}
			lastHash := ""
			if len(logs) > 0 {
				lastHash = logs[len(logs)-1].ChainHash
			}
			if strings.TrimSpace(dir) == "" {
				dir = a.Config.ReportDir
			}
			if operator == "" {
				operator = c.deps.Actor
			}

			res, err := report.Generate(cmd.Context(), a.Store, report.Input{
				States:        states,
				Aggregate:     rep.Aggregate,
				Prechecks:     prechecks,
				LastAuditHash: lastHash,
			}, report.Options{
				Namespace: a.Config.Namespace,
				Dir:       dir,
				Operator:  operator,
				Note:      note,
				Masked:    c.masked,
				Now:       c.clockNow(),
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.jsonOutput {
				return c.outputJSON(out, res)
			}
			for _, w := range res.Warnings {
				printWarning(cmd.ErrOrStderr(), w)
			}
			printSuccess(out, "Report written to "+res.PDFPath)
			printLabelValue(out, "SHA-256", res.PDFSHA256)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "name printed as the report operator")
	cmd.Flags().StringVar(&note, "note", "", "free-form note printed in the summary")
	cmd.Flags().StringVar(&dir, "dir", "", "output directory (defaults to report_dir)")
	return cmd
}

// doctorDirs 把配置中的代理/守护进程目录转换为待检查目录。
func (c *cli) doctorDirs(cfg app.Config) []doctor.Dir {
	var dirs []doctor.Dir
	for _, d := range cfg.AgentDirs {
		dirs = append(dirs, doctor.Dir{Path: d.Path, Category: model.CategoryLaunchAgents})
	}
	for _, d := range cfg.DaemonDirs {
		dirs = append(dirs, doctor.Dir{Path: d.Path, Category: model.CategoryLaunchDaemons})
	}
	return dirs
}
