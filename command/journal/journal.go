package journal

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xgr-network/xgr-relay/command"
	"github.com/xgr-network/xgr-relay/command/helper"
	"github.com/xgr-network/xgr-relay/journal"
	"github.com/xgr-network/xgr-relay/journal/backend"
)

var params journalParams

func GetCommand() *cobra.Command {
	journalCmd := &cobra.Command{
		Use:     "journal",
		Short:   "Lists the request journal of the configured subscription",
		PreRunE: runPreRun,
		RunE:    runCommand,
	}

	setFlags(journalCmd)

	return journalCmd
}

func setFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(
		&params.statuses,
		statusFlag,
		nil,
		"only records in these statuses (repeatable)",
	)

	cmd.Flags().StringVar(
		&params.kind,
		kindFlag,
		"",
		"only records of this event kind",
	)

	cmd.Flags().IntVar(
		&params.limit,
		limitFlag,
		50,
		"maximum number of records, 0 for all",
	)

	cmd.Flags().StringVar(
		&params.request,
		requestFlag,
		"",
		"show a single record by request id",
	)

	cmd.Flags().StringVar(
		&params.backend,
		backendFlag,
		"",
		fmt.Sprintf("the journal backend (default %s)", backend.Default),
	)

	cmd.MarkFlagsMutuallyExclusive(requestFlag, statusFlag)
	cmd.MarkFlagsMutuallyExclusive(requestFlag, kindFlag)
}

func runPreRun(cmd *cobra.Command, _ []string) error {
	if err := params.loadEnv(helper.GetLoadOptions(cmd)); err != nil {
		return err
	}

	return params.validateFlags()
}

func runCommand(cmd *cobra.Command, _ []string) error {
	outputter := command.InitializeOutputter(cmd)
	defer outputter.WriteOutput()

	ctx := cmd.Context()

	store, err := backend.Open(ctx, params.backend, journal.Params{
		SubscriptionID: params.env.SubscriptionID,
		DataDir:        params.env.DataDir,
		DSN:            params.env.DBDSN,
		Logger:         helper.NewLogger(cmd, ""),
	})
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	if params.id != nil {
		rec, err := store.Get(ctx, *params.id)
		if errors.Is(err, journal.ErrNotFound) {
			return fmt.Errorf("request %s is not in the journal", params.id)
		} else if err != nil {
			return err
		}

		outputter.SetCommandResult(&journalRecordResult{rec})

		return nil
	}

	records, err := store.List(ctx, params.filter)
	if err != nil {
		return err
	}

	outputter.SetCommandResult(&journalListResult{Records: records})

	return nil
}
