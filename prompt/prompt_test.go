package prompt

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/xgr-network/xgr-relay/types"
)

func forecastFixture() types.RequestForecastPayload {
	return types.RequestForecastPayload{
		TokenPrices: [3]*big.Int{big.NewInt(100), big.NewInt(200), big.NewInt(300)},
		Investments: [3][3]*big.Int{
			{big.NewInt(1), big.NewInt(0), big.NewInt(0)},
			{big.NewInt(0), big.NewInt(1), big.NewInt(0)},
			{big.NewInt(0), big.NewInt(0), big.NewInt(1)},
		},
	}
}

func TestSet_BuildIsDeterministic(t *testing.T) {
	t.Parallel()

	set, err := NewSet(DefaultPlayers)
	require.NoError(t, err)

	tests := []struct {
		name    string
		kind    types.EventKind
		payload types.Payload
	}{
		{
			name:    "first request",
			kind:    types.FirstRequest,
			payload: types.FirstRequestPayload{PlayerIndex: big.NewInt(0)},
		},
		{
			name: "request option",
			kind: types.RequestOption,
			payload: types.RequestOptionPayload{
				PlayerTopic: "GameFi",
				PlayerIndex: big.NewInt(2),
				PriorOption: "partner with the studio",
			},
		},
		{
			name:    "forecast",
			kind:    types.RequestForecast,
			payload: forecastFixture(),
		},
		{
			name:    "random",
			kind:    types.RandomRequest,
			payload: types.RandomRequestPayload{Event: "exchange hack", Price: big.NewInt(1500)},
		},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			first, err := set.Build(test.kind, test.payload)
			require.NoError(t, err)
			require.NotEmpty(t, first)

			for i := 0; i < 5; i++ {
				again, err := set.Build(test.kind, test.payload)
				require.NoError(t, err)
				assert.Equal(t, first, again)
			}
		})
	}
}

func TestSet_BuildIsDeterministic_Property(t *testing.T) {
	set, err := NewSet(DefaultPlayers)
	require.NoError(t, err)

	rapid.Check(t, func(rt *rapid.T) {
		topic := rapid.String().Draw(rt, "topic")
		option := rapid.String().Draw(rt, "option")
		price := rapid.Int64Range(0, 1<<50).Draw(rt, "price")
		event := rapid.String().Draw(rt, "event")

		payloads := []types.Payload{
			types.RequestOptionPayload{PlayerTopic: topic, PlayerIndex: big.NewInt(1), PriorOption: option},
			types.RandomRequestPayload{Event: event, Price: big.NewInt(price)},
		}

		for _, p := range payloads {
			a, err := set.Build(p.Kind(), p)
			if err != nil {
				rt.Fatalf("build %s: %v", p.Kind(), err)
			}

			b, err := set.Build(p.Kind(), p)
			if err != nil {
				rt.Fatalf("build %s: %v", p.Kind(), err)
			}

			if a != b {
				rt.Fatalf("%s prompt not deterministic", p.Kind())
			}
		}
	})
}

func TestFirstRequest_SegmentsPerPlayer(t *testing.T) {
	t.Parallel()

	for _, players := range []int{1, 3, 5} {
		set, err := NewSet(players)
		require.NoError(t, err)

		text, err := set.Build(types.FirstRequest, types.FirstRequestPayload{PlayerIndex: big.NewInt(0)})
		require.NoError(t, err)

		assert.Len(t, strings.Split(text, FirstReplySeparator), players)
	}
}

func TestForecast_ContainsAllNumbers(t *testing.T) {
	t.Parallel()

	set, err := NewSet(DefaultPlayers)
	require.NoError(t, err)

	text, err := set.Build(types.RequestForecast, forecastFixture())
	require.NoError(t, err)

	for _, want := range []string{"100", "200", "300", "1, 0, 0", "0, 1, 0", "0, 0, 1"} {
		assert.Contains(t, text, want)
	}

	assert.Contains(t, text, "exactly three integers separated by commas")
}

func TestRandom_UsesNumberSystemMessage(t *testing.T) {
	t.Parallel()

	set, err := NewSet(DefaultPlayers)
	require.NoError(t, err)

	tmpl, err := set.Template(types.RandomRequest)
	require.NoError(t, err)
	assert.Equal(t, "you only reply a new number", tmpl.System)

	text, err := set.Build(types.RandomRequest, types.RandomRequestPayload{Event: " rug pull ", Price: big.NewInt(42)})
	require.NoError(t, err)
	assert.Contains(t, text, "Event: rug pull\n")
	assert.Contains(t, text, "origin price is 42")
}

func TestSet_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewSet(0)
	require.Error(t, err)

	set, err := NewSet(DefaultPlayers)
	require.NoError(t, err)

	_, err = set.Build(types.EventKind(99), types.FirstRequestPayload{})
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = set.Build(types.RequestOption, types.FirstRequestPayload{PlayerIndex: big.NewInt(1)})
	require.ErrorIs(t, err, ErrPayloadMismatch)

	_, err = set.Build(types.FirstRequest, nil)
	require.ErrorIs(t, err, ErrPayloadMismatch)
}

func TestSet_Override(t *testing.T) {
	t.Parallel()

	set, err := NewSet(DefaultPlayers)
	require.NoError(t, err)

	set.Override(types.FirstRequest, Template{
		Build: func(types.Payload) (string, error) { return "custom", nil },
	})

	text, err := set.Build(types.FirstRequest, types.FirstRequestPayload{})
	require.NoError(t, err)
	assert.Equal(t, "custom", text)
	assert.Equal(t, types.AllEventKinds, set.Kinds())
}
