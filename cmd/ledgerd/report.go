package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"fractional-ledger/internal/reporting"
)

func newReportCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render asset reports and payment statements from storage",
	}
	cmd.PersistentFlags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")

	cmd.AddCommand(&cobra.Command{
		Use:   "asset ASSET_ID",
		Short: "Markdown summary of an asset: holders, payments, pool, proposals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, cleanup, err := a.generator(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := gen.Generate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, reporting.RenderMarkdown(report))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "statement PAYMENT_ID",
		Short: "CSV of the distribution records of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, cleanup, err := a.generator(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			rows, err := gen.Statement(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, reporting.RenderStatementCSV(rows))
		},
	})

	return cmd
}

func (a *app) generator(cmd *cobra.Command) (*reporting.Generator, func(), error) {
	stores, cleanup, err := createStores(cmd.Context(), a.cfg, a.logger)
	if err != nil {
		return nil, nil, err
	}
	gen := reporting.NewGenerator(stores.Assets, stores.Pools, stores.Proposals, stores.Payments, stores.Distributions)
	return gen, cleanup, nil
}

func writeOutput(stdout io.Writer, path, content string) error {
	if path == "" {
		_, err := io.WriteString(stdout, content)
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
