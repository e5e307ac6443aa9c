package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/museb/internal/bridge"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List data packet categories",
	Long: `List the category names accepted by 'stream --category' and
muse.listen_for_data_packet, in canonical order.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, name := range bridge.Categories() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var sdkVersionCmd = &cobra.Command{
	Use:   "sdk-version",
	Short: "Print the headband SDK version of the selected backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		manager, release, err := backendFactory(cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = release() }()

		fmt.Fprintln(cmd.OutOrStdout(), manager.Version())
		return nil
	},
}
