package root

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xgr-network/xgr-relay/command/helper"
	"github.com/xgr-network/xgr-relay/command/journal"
	"github.com/xgr-network/xgr-relay/command/prompt"
	"github.com/xgr-network/xgr-relay/command/reconcile"
	"github.com/xgr-network/xgr-relay/command/relay"
	"github.com/xgr-network/xgr-relay/command/version"
)

type RootCommand struct {
	baseCmd *cobra.Command
}

func NewRootCommand() *RootCommand {
	rootCommand := &RootCommand{
		baseCmd: &cobra.Command{
			Use:           "xgr-relay",
			Short:         "xgr-relay answers on-chain game requests with language model completions",
			SilenceUsage:  true,
			SilenceErrors: true,
		},
	}

	helper.RegisterJSONOutputFlag(rootCommand.baseCmd)
	helper.RegisterConfigFlags(rootCommand.baseCmd)

	rootCommand.registerSubCommands()

	return rootCommand
}

func (rc *RootCommand) registerSubCommands() {
	rc.baseCmd.AddCommand(
		version.GetCommand(),
		relay.GetCommand(),
		reconcile.GetCommand(),
		journal.GetCommand(),
		prompt.GetCommand(),
	)
}

func (rc *RootCommand) Execute() {
	if err := rc.baseCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)

		os.Exit(1)
	}
}
