package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"delphi/internal/httpapi"
	"delphi/internal/registry"
	"delphi/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API for launching and inspecting runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		st, err := store.Open(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		reg := registry.New(cfg, st, logger)
		srv := httpapi.NewServer(reg, logger)
		logger.Info("http api listening", zap.String("addr", serveAddr))
		return srv.Run(serveAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8420", "listen address")
}
