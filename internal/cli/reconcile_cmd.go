package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/twistedwarden/esm-v3-sub005/internal/cli/formatter"
)

func newReconcileCmd(opts *Options) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Report held reservations older than a threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			threshold := a.Config.Reconcile.OlderThan
			if olderThan > 0 {
				threshold = olderThan
			}
			report, err := a.Disbursement.Reconcile(cmd.Context(), threshold)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.FormatReconcile(report))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age threshold (default from config)")
	return cmd
}
