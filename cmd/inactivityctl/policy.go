package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/inactivity-agent/internal/commands"
	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/policy"
)

func newPolicyCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Show or change the inactivity policy",
	}
	cmd.AddCommand(
		newPolicyShowCmd(opts),
		newPolicySetCmd(opts),
		newPolicyExcludeCmd(opts),
		newPolicyResetCmd(opts),
	)
	return cmd
}

func newPolicyShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective policy as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, b, err := opts.policyStore(cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s.Current())
		},
	}
}

func newPolicySetCmd(opts *options) *cobra.Command {
	var (
		threshold, batch                         int
		channel, logChannel, schedule, autoNotify string
		messages, reactions, presence            string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change policy fields; unset flags keep their value",
		Example: `  inactivityctl policy set --threshold 7 --channel C0123ABC
  inactivityctl policy set --schedule "0 9 * * 1-5" --auto-notify on`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var u policy.Update
			f := cmd.Flags()
			if f.Changed("threshold") {
				u.ThresholdDays = &threshold
			}
			if f.Changed("batch") {
				u.BatchSize = &batch
			}
			if f.Changed("channel") {
				target := models.DirectTarget()
				if !strings.EqualFold(channel, "dm") {
					id, ok := commands.ParseChannelRef(channel)
					if !ok {
						return fmt.Errorf("--channel: %q is not a channel ID or dm", channel)
					}
					target = models.ChannelTarget(id)
				}
				u.DeliveryTarget = &target
			}
			if f.Changed("log-channel") {
				id := ""
				if !strings.EqualFold(logChannel, "off") {
					var ok bool
					if id, ok = commands.ParseChannelRef(logChannel); !ok {
						return fmt.Errorf("--log-channel: %q is not a channel ID or off", logChannel)
					}
				}
				u.LogChannelID = &id
			}
			if f.Changed("schedule") {
				u.AutoNotifySchedule = &schedule
			}
			for name, dst := range map[string]**bool{
				"auto-notify": &u.AutoNotifyEnabled,
				"messages":    &u.Messages,
				"reactions":   &u.Reactions,
				"presence":    &u.Presence,
			} {
				if !f.Changed(name) {
					continue
				}
				raw, _ := f.GetString(name)
				v, err := commands.ParseBool(raw)
				if err != nil {
					return fmt.Errorf("--%s: %w", name, err)
				}
				*dst = &v
			}
			if u.IsEmpty() {
				return fmt.Errorf("nothing to change, see --help")
			}

			s, b, err := opts.policyStore(cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			_, changes, err := s.Update(cmd.Context(), u)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(changes) == 0 {
				_, _ = fmt.Fprintln(out, "no changes")
				return nil
			}
			for _, c := range changes {
				_, _ = fmt.Fprintln(out, c)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&threshold, "threshold", policy.DefaultThresholdDays, "inactivity threshold in days")
	f.IntVar(&batch, "batch", policy.DefaultBatchSize, "members per report message")
	f.StringVar(&channel, "channel", "", "report channel ID, or dm")
	f.StringVar(&logChannel, "log-channel", "", "log channel ID, or off")
	f.StringVar(&schedule, "schedule", "", "automatic check cron schedule")
	f.StringVar(&autoNotify, "auto-notify", "", "automatic checks on or off")
	f.StringVar(&messages, "messages", "", "record messages on or off")
	f.StringVar(&reactions, "reactions", "", "record reactions on or off")
	f.StringVar(&presence, "presence", "", "record channel joins on or off")
	return cmd
}

func newPolicyExcludeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "exclude add|remove user|role ID",
		Short:     "Add or remove a member or role exclusion",
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{"add", "remove"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action, kind, id := strings.ToLower(args[0]), strings.ToLower(args[1]), args[2]

			s, b, err := opts.policyStore(cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			ctx := cmd.Context()
			var result policy.ExclusionResult
			switch {
			case action == "add" && kind == "user":
				result, err = s.AddExcludedMember(ctx, id)
			case action == "remove" && kind == "user":
				result, err = s.RemoveExcludedMember(ctx, id)
			case action == "add" && kind == "role":
				result, err = s.AddExcludedRole(ctx, id)
			case action == "remove" && kind == "role":
				result, err = s.RemoveExcludedRole(ctx, id)
			default:
				return fmt.Errorf("usage: %s", cmd.Use)
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", kind, id, result)
			return nil
		},
	}
}

func newPolicyResetCmd(opts *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Replace the policy with the defaults",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}
			s, b, err := opts.policyStore(cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			s.ResetToDefaults(cmd.Context())
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "policy reset to defaults")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
