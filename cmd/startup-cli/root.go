package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"startup-inspector/internal/app"
	"startup-inspector/internal/domain/model"
)

// cli 持有全局参数与注入的依赖。
type cli struct {
	deps app.Deps

	configPath string
	verbose    bool
	masked     bool
	jsonOutput bool
}

func newRootCmd(deps app.Deps) *cobra.Command {
	c := &cli{deps: deps}

	root := &cobra.Command{
		Use:     "startup-cli",
		Version: app.Version,
		Short:   "Inspect and manage macOS autostart items",
		Long: `startup-cli lists login items, launch agents, launch daemons and background
items, estimates their startup impact, and enables, disables, removes or
re-prioritises them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&c.masked, "masked", false, "hide user home directories in output")
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "output in JSON format")

	root.AddGroup(
		&cobra.Group{ID: "inventory", Title: "Inventory:"},
		&cobra.Group{ID: "mutation", Title: "Changes:"},
		&cobra.Group{ID: "data", Title: "Backups & Reports:"},
		&cobra.Group{ID: "service", Title: "Services & Maintenance:"},
	)

	add := func(group string, cmds ...*cobra.Command) {
		for _, cmd := range cmds {
			cmd.GroupID = group
			root.AddCommand(cmd)
		}
	}
	add("inventory", c.listCmd(), c.impactCmd(), c.snapshotCmd(), c.runsCmd())
	add("mutation", c.toggleCmd("enable", true), c.toggleCmd("disable", false), c.removeCmd(), c.priorityCmd())
	add("data", c.exportCmd(), c.importCmd(), c.backupCmd(), c.reportCmd())
	add("service", c.migrateCmd(), c.verifyCmd(), c.watchCmd(), c.serveCmd(), c.doctorCmd())
	return root
}

// config 加载配置文件与环境变量。
func (c *cli) config() (app.Config, error) {
	home, _ := os.UserHomeDir()
	return app.Load(c.configPath, home)
}

func (c *cli) logger(cmd *cobra.Command) *slog.Logger {
	if c.deps.Logger != nil {
		return c.deps.Logger
	}
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// open 装配应用，调用方负责 Close。
func (c *cli) open(cmd *cobra.Command) (*app.App, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	deps := c.deps
	deps.Logger = c.logger(cmd)
	return app.New(cmd.Context(), cfg, deps)
}

// refresh 刷新指定类别，并提示未完整读取的类别。
func (c *cli) refresh(ctx context.Context, cmd *cobra.Command, a *app.App, cats ...model.Category) (model.RefreshReport, error) {
	rep, err := a.Engine.Refresh(ctx, cats...)
	if err != nil {
		return rep, err
	}
	if !c.jsonOutput {
		for _, d := range rep.Degraded() {
			msg := fmt.Sprintf("%s: %s", d.Category, d.Status)
			if d.Status == model.SourceAccessDenied {
				msg += " (grant Full Disk Access to read it)"
			}
			if d.Error != "" {
				msg += ": " + d.Error
			}
			printWarning(cmd.ErrOrStderr(), msg)
		}
	}
	return rep, nil
}

func (c *cli) clockNow() time.Time {
	if c.deps.Clock != nil {
		return c.deps.Clock.Now()
	}
	return time.Now()
}

func (c *cli) outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func parseCategoryArg(raw string) (model.Category, error) {
	cat, ok := model.ParseCategory(strings.TrimSpace(raw))
	if !ok {
		return "", fmt.Errorf("unknown category %q (want login_items, launch_agents, launch_daemons or background_items)", raw)
	}
	return cat, nil
}

func parseCategoryArgs(args []string) ([]model.Category, error) {
	var out []model.Category
	for _, a := range args {
		cat, err := parseCategoryArg(a)
		if err != nil {
			return nil, err
		}
		out = append(out, cat)
	}
	return out, nil
}
