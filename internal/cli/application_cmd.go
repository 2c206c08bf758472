package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/twistedwarden/esm-v3-sub005/internal/cli/formatter"
)

func newApplicationCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "application",
		Aliases: []string{"app"},
		Short:   "Inspect applications",
	}
	cmd.AddCommand(newApplicationStatusCmd(opts))
	return cmd
}

func newApplicationStatusCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <application-id>",
		Short: "Show status, history, committee decisions and payments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			id := args[0]
			report := formatter.ApplicationReport{}
			if report.Application, err = a.Workflow.Get(ctx, id); err != nil {
				return fmt.Errorf("application %s: %w", id, err)
			}
			if report.History, err = a.Workflow.History(ctx, id); err != nil {
				return err
			}
			if report.Stages, err = a.Review.Stages(ctx, id); err != nil {
				return err
			}
			if report.Payments, err = a.Disbursement.Payments(ctx, id); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.FormatApplication(report))
			return nil
		},
	}
}
