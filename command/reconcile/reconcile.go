package reconcile

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/xgr-network/xgr-relay/chain"
	"github.com/xgr-network/xgr-relay/command"
	"github.com/xgr-network/xgr-relay/command/helper"
	"github.com/xgr-network/xgr-relay/config"
	"github.com/xgr-network/xgr-relay/journal/backend"
	"github.com/xgr-network/xgr-relay/relay"
)

var cfg *config.Config

func GetCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "reconcile",
		Short:   "Resolves journal records whose on-chain outcome is unknown, then exits",
		PreRunE: runPreRun,
		RunE:    runCommand,
	}
}

func runPreRun(cmd *cobra.Command, _ []string) error {
	loaded, err := helper.LoadConfig(cmd)
	if err != nil {
		return err
	}

	cfg = loaded

	return nil
}

func runCommand(cmd *cobra.Command, _ []string) (err error) {
	outputter := command.InitializeOutputter(cmd)
	defer outputter.WriteOutput()

	logger := helper.NewLogger(cmd, cfg.LogLevel)
	ctx := cmd.Context()

	client, err := chain.Dial(ctx, cfg.DialConfig())
	if err != nil {
		return fmt.Errorf("dial chain: %w", err)
	}
	defer client.Close()

	store, err := backend.Open(ctx, cfg.Journal, cfg.JournalParams(logger))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	defer func() {
		if cerr := store.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}()

	report, rerr := relay.NewReconciler(store, client.Backend, logger).Reconcile(ctx)
	if report == nil {
		return rerr
	}

	outputter.SetCommandResult(newReconcileResult(cfg.SubscriptionID, report, rerr))

	return nil
}
