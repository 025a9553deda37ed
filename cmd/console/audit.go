package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xela07ax/mission-control/internal/infra"
)

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Maintain the audit log",
	}
	cmd.AddCommand(newAuditCleanupCmd(a), newAuditClearCmd(a))
	return cmd
}

func newAuditCleanupCmd(a *app) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove audit entries older than the retention period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if days == 0 {
				days = a.cfg.Audit.RetentionDays
			}
			if days < 1 {
				return fmt.Errorf("--days must be positive, got %d", days)
			}

			st, err := a.openStorage(ctx, infra.NewMetrics(nil))
			if err != nil {
				return err
			}
			defer st.Close(ctx)

			removed, err := st.store.Cleanup(ctx, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries older than %d days, %d left\n", removed, days, st.store.Count())
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Retention in days (default: audit.retention_days)")
	return cmd
}

func newAuditClearCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every audit entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the audit log without --yes")
			}
			ctx := cmd.Context()

			st, err := a.openStorage(ctx, infra.NewMetrics(nil))
			if err != nil {
				return err
			}
			defer st.Close(ctx)

			n := st.store.Count()
			if err := st.store.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d entries\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}
