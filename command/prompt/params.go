package prompt

import (
	"fmt"
	"math/big"

	"github.com/xgr-network/xgr-relay/prompt"
	"github.com/xgr-network/xgr-relay/types"
)

const (
	playersFlag     = "players"
	playerIndexFlag = "player-index"
	topicFlag       = "topic"
	optionFlag      = "option"
	eventFlag       = "event"
	priceFlag       = "price"
	tokenPricesFlag = "token-prices"
	player1Flag     = "player1"
	player2Flag     = "player2"
	player3Flag     = "player3"
	replyFlag       = "reply"
)

type promptParams struct {
	players     int
	playerIndex int64
	topic       string
	option      string
	event       string
	price       int64
	tokenPrices []int64
	investments [types.ForecastPlayers][]int64
	reply       string

	kind types.EventKind
}

func (p *promptParams) validateFlags(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one event kind, got %d arguments", len(args))
	}

	kind, err := types.ParseEventKind(args[0])
	if err != nil {
		return err
	}

	p.kind = kind

	if p.players <= 0 || p.players > prompt.MaxPlayers {
		return fmt.Errorf("players must be in [1,%d]", prompt.MaxPlayers)
	}

	if p.playerIndex < 0 {
		return fmt.Errorf("player index must not be negative")
	}

	if kind != types.RequestForecast {
		return nil
	}

	if len(p.tokenPrices) != types.ForecastTokens {
		return fmt.Errorf("%s takes %d values", tokenPricesFlag, types.ForecastTokens)
	}

	for i, inv := range p.investments {
		if len(inv) != types.ForecastTokens {
			return fmt.Errorf("player%d takes %d values", i+1, types.ForecastTokens)
		}
	}

	return nil
}

func (p *promptParams) payload() types.Payload {
	switch p.kind {
	case types.FirstRequest:
		return types.FirstRequestPayload{PlayerIndex: big.NewInt(p.playerIndex)}
	case types.RequestOption:
		return types.RequestOptionPayload{
			PlayerTopic: p.topic,
			PlayerIndex: big.NewInt(p.playerIndex),
			PriorOption: p.option,
		}
	case types.RequestForecast:
		var f types.RequestForecastPayload

		for j := 0; j < types.ForecastTokens; j++ {
			f.TokenPrices[j] = big.NewInt(p.tokenPrices[j])
		}

		for i := 0; i < types.ForecastPlayers; i++ {
			for j := 0; j < types.ForecastTokens; j++ {
				f.Investments[i][j] = big.NewInt(p.investments[i][j])
			}
		}

		return f
	default:
		return types.RandomRequestPayload{Event: p.event, Price: big.NewInt(p.price)}
	}
}
