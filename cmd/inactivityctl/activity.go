package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/inactivity-agent/internal/models"
)

type activityRow struct {
	MemberID       string              `json:"member_id"`
	SpaceID        string              `json:"space_id"`
	LastActivityAt time.Time           `json:"last_activity_at"`
	Kind           models.ActivityKind `json:"kind"`
	DaysInactive   int                 `json:"days_inactive"`
}

func newActivityCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Inspect or clear recorded member activity",
	}
	cmd.AddCommand(
		newActivityShowCmd(opts),
		newActivityResetCmd(opts),
	)
	return cmd
}

func newActivityShowCmd(opts *options) *cobra.Command {
	var (
		member  string
		asJSON  bool
		minDays int
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "List recorded activity, least recent first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, err := opts.docs.Location()
			if err != nil {
				return fmt.Errorf("--timezone: %w", err)
			}
			s, b, err := opts.activityStore(cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			now := time.Now().In(loc)
			var rows []activityRow
			s.Snapshot().Each(func(memberID, spaceID string, rec models.ActivityRecord) {
				if member != "" && memberID != member {
					return
				}
				days := models.DaysBetween(rec.LastActivityAt.In(loc), now)
				if days < minDays {
					return
				}
				rows = append(rows, activityRow{
					MemberID:       memberID,
					SpaceID:        spaceID,
					LastActivityAt: rec.LastActivityAt,
					Kind:           rec.Kind,
					DaysInactive:   days,
				})
			})
			sort.Slice(rows, func(i, j int) bool {
				if !rows[i].LastActivityAt.Equal(rows[j].LastActivityAt) {
					return rows[i].LastActivityAt.Before(rows[j].LastActivityAt)
				}
				return rows[i].MemberID < rows[j].MemberID
			})

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if rows == nil {
					rows = []activityRow{}
				}
				return enc.Encode(rows)
			}
			if len(rows) == 0 {
				_, _ = fmt.Fprintln(out, "no activity recorded")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "MEMBER\tSPACE\tLAST ACTIVITY\tKIND\tDAYS")
			for _, r := range rows {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
					r.MemberID, r.SpaceID, r.LastActivityAt.In(loc).Format("2006-01-02 15:04"), r.Kind, r.DaysInactive)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "only show this member ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().IntVar(&minDays, "min-days", 0, "only show members inactive at least this many days")
	return cmd
}

func newActivityResetCmd(opts *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all recorded activity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}
			s, b, err := opts.activityStore(cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			n := s.Len()
			s.ResetAll(cmd.Context())
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cleared %d records\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
