package prompt

import (
	"github.com/spf13/cobra"

	"github.com/xgr-network/xgr-relay/command"
	"github.com/xgr-network/xgr-relay/prompt"
	"github.com/xgr-network/xgr-relay/types"
)

var params promptParams

func GetCommand() *cobra.Command {
	promptCmd := &cobra.Command{
		Use:       "prompt <FirstRequest|RequestOption|RequestForecast|RandomRequest>",
		Short:     "Renders the prompt sent for an event kind, optionally checking a model reply",
		Args:      cobra.ExactArgs(1),
		ValidArgs: kindNames(),
		PreRunE:   runPreRun,
		RunE:      runCommand,
	}

	setFlags(promptCmd)

	return promptCmd
}

func kindNames() []string {
	names := make([]string, 0, len(types.AllEventKinds))
	for _, k := range types.AllEventKinds {
		names = append(names, k.String())
	}

	return names
}

func setFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&params.players, playersFlag, prompt.DefaultPlayers, "players in the FirstRequest reply")
	cmd.Flags().Int64Var(&params.playerIndex, playerIndexFlag, 0, "player index of the event")
	cmd.Flags().StringVar(&params.topic, topicFlag, "gamefi", "RequestOption player topic")
	cmd.Flags().StringVar(&params.option, optionFlag, "buy the dip", "RequestOption prior option")
	cmd.Flags().StringVar(&params.event, eventFlag, "token launch", "RandomRequest event descriptor")
	cmd.Flags().Int64Var(&params.price, priceFlag, 100, "RandomRequest current price")
	cmd.Flags().Int64SliceVar(&params.tokenPrices, tokenPricesFlag, []int64{100, 200, 300}, "RequestForecast token prices")
	cmd.Flags().Int64SliceVar(&params.investments[0], player1Flag, []int64{1, 2, 3}, "RequestForecast investments of player 1")
	cmd.Flags().Int64SliceVar(&params.investments[1], player2Flag, []int64{4, 5, 6}, "RequestForecast investments of player 2")
	cmd.Flags().Int64SliceVar(&params.investments[2], player3Flag, []int64{7, 8, 9}, "RequestForecast investments of player 3")
	cmd.Flags().StringVar(&params.reply, replyFlag, "", "a model reply to run through the reply check")
}

func runPreRun(_ *cobra.Command, args []string) error {
	return params.validateFlags(args)
}

func runCommand(cmd *cobra.Command, _ []string) error {
	outputter := command.InitializeOutputter(cmd)
	defer outputter.WriteOutput()

	res, err := render(&params)
	if err != nil {
		return err
	}

	outputter.SetCommandResult(res)

	return nil
}

func render(p *promptParams) (*promptResult, error) {
	set, err := prompt.NewSet(p.players)
	if err != nil {
		return nil, err
	}

	tmpl, err := set.Template(p.kind)
	if err != nil {
		return nil, err
	}

	text, err := set.Build(p.kind, p.payload())
	if err != nil {
		return nil, err
	}

	res := &promptResult{
		Kind:   p.kind.String(),
		System: tmpl.System,
		Prompt: text,
		Reply:  p.reply,
	}

	if p.reply != "" {
		normalized, err := set.Normalize(p.kind, p.reply)
		if err != nil {
			res.ReplyError = err.Error()
		} else {
			res.Normalized = normalized
		}
	}

	return res, nil
}
