package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/twistedwarden/esm-v3-sub005/internal/cli/formatter"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/importer"
)

func newBudgetCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Manage budget buckets",
	}
	cmd.AddCommand(
		newBudgetSetCmd(opts),
		newBudgetShowCmd(opts),
		newBudgetSeedCmd(opts),
	)
	return cmd
}

func newBudgetSetCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "set <budget-type> <school-year> <total>",
		Short: "Create a bucket or replace its total (minor units)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid total %q: %w", args[2], err)
			}

			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			b, err := a.Ledger.SetTotal(cmd.Context(), domain.Bucket{BudgetType: args[0], SchoolYear: args[1]}, total)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.FormatBuckets([]*domain.BudgetAllocation{b}))
			return nil
		},
	}
}

func newBudgetShowCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "show [budget-type school-year]",
		Short: "Show one bucket or all of them",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return errors.New("expected no arguments or <budget-type> <school-year>")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			var buckets []*domain.BudgetAllocation
			if len(args) == 2 {
				b, err := a.Ledger.Bucket(cmd.Context(), domain.Bucket{BudgetType: args[0], SchoolYear: args[1]})
				if err != nil {
					return fmt.Errorf("bucket %s/%s: %w", args[0], args[1], err)
				}
				buckets = append(buckets, b)
			} else {
				buckets, err = a.Ledger.ListBuckets(cmd.Context())
				if err != nil {
					return err
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.FormatBuckets(buckets))
			return nil
		},
	}
}

func newBudgetSeedCmd(opts *Options) *cobra.Command {
	var file string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Set bucket totals from a YAML seed file",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := importer.LoadSeedSchema(file)
			if err != nil {
				return err
			}
			if errs := importer.ValidateSeedSchema(schema); len(errs) > 0 {
				return fmt.Errorf("invalid seed file %s: %w", file, errors.Join(errs...))
			}
			totals := importer.Convert(schema)

			out := cmd.OutOrStdout()
			if dryRun {
				for _, t := range totals {
					fmt.Fprintf(out, "would set %s to %s\n", t.Bucket, formatter.Money(t.Total))
				}
				return nil
			}

			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			applied, err := importer.Apply(cmd.Context(), a.Ledger, totals)
			if len(applied) > 0 {
				fmt.Fprint(out, formatter.FormatBuckets(applied))
			}
			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Seed file path")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and print without writing")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
