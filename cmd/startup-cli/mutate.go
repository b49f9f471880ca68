package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"startup-inspector/internal/app"
	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/fault"
)

// lookupTarget 刷新类别后按身份键查找记录；找不到时按名称（不区分大小写）唯一匹配。
func (c *cli) lookupTarget(cmd *cobra.Command, a *app.App, catArg, ident string) (model.LaunchRecord, error) {
	cat, err := parseCategoryArg(catArg)
	if err != nil {
		return model.LaunchRecord{}, err
	}
	if _, err := c.refresh(cmd.Context(), cmd, a, cat); err != nil {
		return model.LaunchRecord{}, err
	}
	store := a.Engine.Store()
	if rec, ok := store.Lookup(cat, ident); ok {
		return rec, nil
	}
	var matches []model.LaunchRecord
	for _, r := range store.Records(cat) {
		if strings.EqualFold(r.DisplayName, ident) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return model.LaunchRecord{}, fault.New(fault.MutationFailure, "lookup", fmt.Sprintf("no %s item named %q", cat, ident))
	default:
		return model.LaunchRecord{}, fmt.Errorf("%q matches %s; use the identity key instead", ident, plural(len(matches), "item", "items"))
	}
}

func (c *cli) warnAdmin(cmd *cobra.Command, a *app.App, rec model.LaunchRecord) {
	if a.Mutator.RequiresAdmin(rec) {
		printWarning(cmd.ErrOrStderr(), fmt.Sprintf("%s is owned by the system; the change may require administrator rights", rec.DisplayName))
	}
}

func (c *cli) toggleCmd(name string, enabled bool) *cobra.Command {
	verb := "Disable"
	if enabled {
		verb = "Enable"
	}
	return &cobra.Command{
		Use:   name + " <category> <identity>",
		Short: verb + " an autostart item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := c.lookupTarget(cmd, a, args[0], args[1])
			if err != nil {
				return err
			}
			c.warnAdmin(cmd, a, rec)
			updated, err := a.Engine.SetEnabled(cmd.Context(), rec.Category, rec.IdentityKey, enabled)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.jsonOutput {
				return c.outputJSON(out, updated)
			}
			printSuccess(out, fmt.Sprintf("%s %sd", rec.DisplayName, name))
			return nil
		},
	}
}

func (c *cli) removeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "remove <category> <identity>",
		Aliases: []string{"rm"},
		Short:   "Remove an autostart item",
		Long: `Remove a login item, background item registration, or a launch agent or
daemon declaration file. Asks for confirmation unless --yes is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := c.lookupTarget(cmd, a, args[0], args[1])
			if err != nil {
				return err
			}
			if !yes {
				confirmed := false
				title := fmt.Sprintf("Remove %s (%s)?", rec.DisplayName, rec.Category)
				if rec.Path != "" && rec.Category != model.CategoryLoginItems {
					title = fmt.Sprintf("Remove %s? %s will be deleted.", rec.DisplayName, rec.Path)
				}
				form := huh.NewForm(huh.NewGroup(
					huh.NewConfirm().Title(title).Affirmative("Remove").Negative("Cancel").Value(&confirmed),
				))
				if err := form.Run(); err != nil {
					return err
				}
				if !confirmed {
					printEmptyState(cmd.OutOrStdout(), "Cancelled")
					return nil
				}
			}
			c.warnAdmin(cmd, a, rec)
			if err := a.Engine.Remove(cmd.Context(), rec.Category, rec.IdentityKey); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), rec.DisplayName+" removed")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func (c *cli) priorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "priority <category> <identity> <value>",
		Short: "Change launch order or process type",
		Long: `Login items take a launch order: first or last.
Launch agents and daemons take a ProcessType: Background, Standard,
Adaptive or Interactive.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := parseCategoryArg(args[0])
			if err != nil {
				return err
			}
			p, err := priorityFor(cat, args[2])
			if err != nil {
				return err
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := c.lookupTarget(cmd, a, args[0], args[1])
			if err != nil {
				return err
			}
			c.warnAdmin(cmd, a, rec)
			updated, err := a.Engine.SetPriority(cmd.Context(), rec.Category, rec.IdentityKey, p)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.jsonOutput {
				return c.outputJSON(out, updated)
			}
			printSuccess(out, fmt.Sprintf("%s: %s set to %s", rec.DisplayName, p.Kind, p.Value))
			return nil
		},
	}
}

// priorityFor 按类别推断优先级类型，并规范化取值的大小写。
func priorityFor(cat model.Category, value string) (model.Priority, error) {
	value = strings.TrimSpace(value)
	switch cat {
	case model.CategoryLoginItems:
		return model.Priority{Kind: model.PriorityLaunchOrder, Value: strings.ToLower(value)}, nil
	case model.CategoryLaunchAgents, model.CategoryLaunchDaemons:
		for _, v := range []string{model.ProcessTypeBackground, model.ProcessTypeStandard, model.ProcessTypeAdaptive, model.ProcessTypeInteractive} {
			if strings.EqualFold(v, value) {
				return model.Priority{Kind: model.PriorityProcessType, Value: v}, nil
			}
		}
		return model.Priority{Kind: model.PriorityProcessType, Value: value}, nil
	default:
		return model.Priority{}, fmt.Errorf("%s items have no adjustable priority", cat)
	}
}
