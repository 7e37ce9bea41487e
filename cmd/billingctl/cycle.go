package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func cycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Recurring billing cycle",
	}
	cmd.AddCommand(cycleRunCmd())
	return cmd
}

func cycleRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Charge every due local schedule once",
		Long: `Run one billing cycle in this process.

Every active or overdue schedule billed locally whose next charge is due is
claimed and charged once. Schedules billed by a processor are skipped. Use
--enqueue to hand the run to the worker instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContainer()
			if err != nil {
				return err
			}
			defer c.Close()

			enqueue, _ := cmd.Flags().GetBool("enqueue")
			if enqueue {
				if !c.QueueClient.Enabled() {
					return fmt.Errorf("queue is disabled; run without --enqueue")
				}
				if err := c.QueueClient.EnqueueBillingRun(10 * time.Minute); err != nil {
					return fmt.Errorf("enqueue billing run: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "billing run queued")
				return nil
			}

			report, err := c.BillingService.RunDueCycle(cmd.Context())
			if err != nil {
				return err
			}
			verbose, _ := cmd.Flags().GetBool("json")
			if verbose {
				return printJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			if report.Locked {
				fmt.Fprintln(out, "another cycle holds the lock; nothing done")
				return nil
			}
			fmt.Fprintf(out, "due=%d claimed=%d succeeded=%d failed=%d cancelled=%d skipped=%d expired_redirects=%d\n",
				report.Due, report.Claimed, report.Succeeded, report.Failed, report.Cancelled, report.Skipped, report.ExpiredRedirects)
			for _, attempt := range report.Attempts {
				fmt.Fprintf(out, "  schedule=%d period=%s result=%s %s\n",
					attempt.ScheduleID, attempt.BillingPeriod, attempt.Result, attempt.Reason)
			}
			return nil
		},
	}
	cmd.Flags().Bool("enqueue", false, "queue the run for the worker")
	cmd.Flags().BoolP("json", "j", false, "print the full report as JSON")
	return cmd
}
