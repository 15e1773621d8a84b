package relay

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/xgr-network/xgr-relay/command"
	"github.com/xgr-network/xgr-relay/command/helper"
	"github.com/xgr-network/xgr-relay/server"
)

var params relayParams

func GetCommand() *cobra.Command {
	relayCmd := &cobra.Command{
		Use:     "relay",
		Short:   "Runs the relay: answers consumer contract requests until interrupted",
		PreRunE: runPreRun,
		RunE:    runCommand,
	}

	setFlags(relayCmd)

	return relayCmd
}

func setFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(
		&params.metricsAddr,
		command.MetricsAddrFlag,
		"",
		metricsAddrFlagDesc,
	)
}

func runPreRun(cmd *cobra.Command, _ []string) error {
	if err := params.validateFlags(); err != nil {
		return err
	}

	cfg, err := helper.LoadConfig(cmd)
	if err != nil {
		return err
	}

	params.cfg = cfg
	params.applyOverrides()

	return nil
}

func runCommand(cmd *cobra.Command, _ []string) error {
	logger := helper.NewLogger(cmd, params.cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, params.cfg, logger)
	if err != nil {
		return err
	}

	var result *multierror.Error

	if err := srv.Run(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	if err := srv.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		logger.Error("relay stopped with errors", "err", err)

		return err
	}

	logger.Info("relay stopped")

	return nil
}
