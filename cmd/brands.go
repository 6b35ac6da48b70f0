package cmd

import (
	"context"
	"fmt"

	"github.com/dreamerjackson/devcat/scanner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBrandsCmd(configPath *string) *cobra.Command {
	var refresh, clearCache bool
	cmd := &cobra.Command{
		Use:   "brands",
		Short: "list brands and the brand cache status.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			if clearCache {
				if err := a.scanner.ClearCache(); err != nil {
					return err
				}
				fmt.Fprintln(w, "brand cache cleared")
				return nil
			}

			res, err := scanBrands(cmd.Context(), a, refresh)
			if err != nil {
				return err
			}
			renderBrands(w, res.Brands)
			renderCacheStatus(w, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch the brand index even if the cache is fresh")
	cmd.Flags().BoolVar(&clearCache, "clear-cache", false, "remove the brand cache")
	return cmd
}

func scanBrands(ctx context.Context, a *app, refresh bool) (scanner.Result, error) {
	var (
		res scanner.Result
		err error
	)
	if refresh {
		res, err = a.scanner.Refresh(ctx)
	} else {
		res, err = a.scanner.Scan(ctx)
	}
	if err != nil {
		return res, fmt.Errorf("scan brands: %w", err)
	}
	a.logger.Info("brands scanned",
		zap.Int("brands", len(res.Brands)),
		zap.Bool("from_cache", res.FromCache))
	return res, nil
}
