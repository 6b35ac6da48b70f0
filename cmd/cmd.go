package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/dreamerjackson/devcat/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version.",
	Long:  "print version.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		version.Printer(cmd.OutOrStdout())
	},
}

func newRootCmd() *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:          "devcat",
		Short:        "incremental GSMArena device catalog crawler.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", "", "config file (default $DEVCAT_CONFIG or config.toml)")

	rootCmd.AddCommand(
		newCrawlCmd(&configPath),
		newBrandsCmd(&configPath),
		newCatalogCmd(&configPath),
		newScheduleCmd(&configPath),
		versionCmd,
	)
	return rootCmd
}

func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
