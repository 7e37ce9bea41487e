package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and cancel recurring schedules",
	}
	cmd.AddCommand(scheduleShowCmd())
	cmd.AddCommand(scheduleCancelCmd())
	return cmd
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(id), nil
}

func scheduleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Print one schedule as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := openContainer()
			if err != nil {
				return err
			}
			defer c.Close()

			schedule, err := c.PaymentService.GetSchedule(id)
			if err != nil {
				return err
			}
			return printJSON(cmd, schedule)
		},
	}
}

func scheduleCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel a schedule locally, then at the processor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			reason, _ := cmd.Flags().GetString("reason")
			c, err := openContainer()
			if err != nil {
				return err
			}
			defer c.Close()

			schedule, err := c.PaymentService.CancelSchedule(cmd.Context(), id, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schedule %d cancelled (%s)\n", schedule.ID, *schedule.CancellationReason)
			return nil
		},
	}
	cmd.Flags().StringP("reason", "r", "", "cancellation reason (default operator_cancelled)")
	return cmd
}
