package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCatalogCmd(configPath *string) *cobra.Command {
	var brand string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "summarize the stored catalog.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			if brand != "" {
				n, err := a.store.CheckBrand(brand)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s: %d devices stored, %d tracked\n", brand, n, a.ledger.CountBrand(brand))
				return nil
			}

			summary, err := a.store.BrandSummary()
			if err != nil {
				return err
			}
			renderCatalog(w, summary, a.ledger)
			return nil
		},
	}
	cmd.Flags().StringVar(&brand, "brand", "", "show a single brand")
	return cmd
}
