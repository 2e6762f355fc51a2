package main

import (
	"fmt"

	"github.com/dkeye/Beacon/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfg    *config.Config
	loader *config.Loader
)

var rootCmd = &cobra.Command{
	Use:           "beacon",
	Short:         "Beacon location tracking and team collaboration client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, loader, err = config.Load()
		if err != nil {
			log.Error().Err(err).Msg("failed to load config")
			return err
		}
		config.ApplyLogLevel(cfg.LogLevel)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, loginCmd, logoutCmd, statsCmd)
}

func printJSON(cmd *cobra.Command, v []byte) {
	fmt.Fprintln(cmd.OutOrStdout(), string(v))
}
