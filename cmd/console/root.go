package main

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/infra"
)

// app — общее состояние команд, заполняется в PersistentPreRunE.
type app struct {
	configPath string
	cfg        *infra.Config
	logger     *zap.Logger
	fs         afero.Fs
}

func newRootCmd() *cobra.Command {
	a := &app{fs: afero.NewOsFs()}

	root := &cobra.Command{
		Use:   "mission-control",
		Short: "Ops dashboard backend for OpenClaw agents.",
		Long: `Mission Control serves the dashboard API: agent status and control through
the OpenClaw gateway CLI, role-based access and an audit trail streamed over websocket.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := infra.LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			logger, err := infra.NewLogger(cfg.Logger)
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to config file (default: ./config.yaml or ./configs/config.yaml)")

	root.AddCommand(newServeCmd(a), newCreateAdminCmd(a), newCreateAgentKeyCmd(a), newAuditCmd(a))
	return root
}
