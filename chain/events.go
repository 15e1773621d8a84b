package chain

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/umbracle/ethgo"
	ethabi "github.com/umbracle/ethgo/abi"

	"github.com/xgr-network/xgr-relay/contracts/consumerabi"
	"github.com/xgr-network/xgr-relay/types"
)

var requestEventsABI = ethabi.MustNewABI(consumerabi.RequestEventsABI)

// Decoder maps consumer logs to relay requests.
type Decoder struct {
	events  map[types.EventKind]*ethabi.Event
	byTopic map[ethgo.Hash]types.EventKind
}

func NewDecoder() *Decoder {
	d := &Decoder{
		events:  make(map[types.EventKind]*ethabi.Event, len(types.AllEventKinds)),
		byTopic: make(map[ethgo.Hash]types.EventKind, len(types.AllEventKinds)),
	}

	for _, kind := range types.AllEventKinds {
		ev, ok := requestEventsABI.Events[kind.String()]
		if !ok {
			panic(fmt.Sprintf("consumer abi lacks event %s", kind))
		}

		d.events[kind] = ev
		d.byTopic[ev.ID()] = kind
	}

	return d
}

// Event returns the ABI event of kind.
func (d *Decoder) Event(kind types.EventKind) *ethabi.Event {
	return d.events[kind]
}

// Topic is the topic0 hash of kind.
func (d *Decoder) Topic(kind types.EventKind) common.Hash {
	ev, ok := d.events[kind]
	if !ok {
		return common.Hash{}
	}

	return common.Hash(ev.ID())
}

func (d *Decoder) Topics(kinds []types.EventKind) []common.Hash {
	out := make([]common.Hash, 0, len(kinds))
	for _, k := range kinds {
		if _, ok := d.events[k]; ok {
			out = append(out, d.Topic(k))
		}
	}

	return out
}

// Decode turns one log into a RelayRequest. Failures are *DecodeError.
func (d *Decoder) Decode(l gethtypes.Log) (*types.RelayRequest, error) {
	fail := func(name string, err error) error {
		return &DecodeError{Event: name, BlockNumber: l.BlockNumber, TxHash: l.TxHash, LogIndex: l.Index, Err: err}
	}

	if len(l.Topics) == 0 {
		return nil, fail("unknown", fmt.Errorf("log has no topics"))
	}

	kind, ok := d.byTopic[ethgo.Hash(l.Topics[0])]
	if !ok {
		return nil, fail("unknown", fmt.Errorf("unexpected topic %s", l.Topics[0]))
	}

	vals, err := d.events[kind].ParseLog(toEthgoLog(l))
	if err != nil {
		return nil, fail(kind.String(), err)
	}

	payload, id, err := decodePayload(kind, vals)
	if err != nil {
		return nil, fail(kind.String(), err)
	}

	return &types.RelayRequest{
		RequestID:   id,
		Kind:        kind,
		Payload:     payload,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
	}, nil
}

func decodePayload(kind types.EventKind, vals map[string]interface{}) (types.Payload, types.RequestID, error) {
	id, err := asBytes32(vals["requestId"])
	if err != nil {
		return nil, types.RequestID{}, fmt.Errorf("requestId: %w", err)
	}

	switch kind {
	case types.FirstRequest:
		idx, err := asBig(vals["playerIndex"])
		if err != nil {
			return nil, id, fmt.Errorf("playerIndex: %w", err)
		}

		return types.FirstRequestPayload{PlayerIndex: idx}, id, nil

	case types.RequestOption:
		topic, err := asString(vals["playerTopic"])
		if err != nil {
			return nil, id, fmt.Errorf("playerTopic: %w", err)
		}

		idx, err := asBig(vals["playerIndex"])
		if err != nil {
			return nil, id, fmt.Errorf("playerIndex: %w", err)
		}

		option, err := asString(vals["option"])
		if err != nil {
			return nil, id, fmt.Errorf("option: %w", err)
		}

		return types.RequestOptionPayload{PlayerTopic: topic, PlayerIndex: idx, PriorOption: option}, id, nil

	case types.RequestForecast:
		var p types.RequestForecastPayload

		prices, err := asBigArray(vals["tokenPrices"])
		if err != nil {
			return nil, id, fmt.Errorf("tokenPrices: %w", err)
		}

		p.TokenPrices = prices

		for i, name := range []string{"player1", "player2", "player3"} {
			inv, err := asBigArray(vals[name])
			if err != nil {
				return nil, id, fmt.Errorf("%s: %w", name, err)
			}

			p.Investments[i] = inv
		}

		return p, id, nil

	case types.RandomRequest:
		desc, err := asString(vals["eventDescriptor"])
		if err != nil {
			return nil, id, fmt.Errorf("eventDescriptor: %w", err)
		}

		price, err := asBig(vals["price"])
		if err != nil {
			return nil, id, fmt.Errorf("price: %w", err)
		}

		return types.RandomRequestPayload{Event: desc, Price: price}, id, nil
	}

	return nil, id, fmt.Errorf("unsupported kind %s", kind)
}

func toEthgoLog(l gethtypes.Log) *ethgo.Log {
	topics := make([]ethgo.Hash, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = ethgo.Hash(t)
	}

	return &ethgo.Log{
		Removed:          l.Removed,
		LogIndex:         uint64(l.Index),
		TransactionIndex: uint64(l.TxIndex),
		TransactionHash:  ethgo.Hash(l.TxHash),
		BlockHash:        ethgo.Hash(l.BlockHash),
		BlockNumber:      l.BlockNumber,
		Address:          ethgo.Address(l.Address),
		Topics:           topics,
		Data:             l.Data,
	}
}

func asString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("want string, got %T", v)
	}

	return s, nil
}

func asBig(v interface{}) (*big.Int, error) {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return nil, fmt.Errorf("want uint256, got %T", v)
	}

	return b, nil
}

// ethgo hands out fixed arrays as either Go arrays or slices depending on the type.
func asBigArray(v interface{}) ([types.ForecastTokens]*big.Int, error) {
	var out [types.ForecastTokens]*big.Int

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Array && rv.Kind() != reflect.Slice {
		return out, fmt.Errorf("want uint256[%d], got %T", len(out), v)
	}

	if rv.Len() != len(out) {
		return out, fmt.Errorf("want %d values, got %d", len(out), rv.Len())
	}

	for i := range out {
		b, err := asBig(rv.Index(i).Interface())
		if err != nil {
			return out, fmt.Errorf("index %d: %w", i, err)
		}

		out[i] = b
	}

	return out, nil
}

func asBytes32(v interface{}) (types.RequestID, error) {
	var id types.RequestID

	switch b := v.(type) {
	case [32]byte:
		return types.RequestID(b), nil
	case []byte:
		if len(b) != len(id) {
			return id, fmt.Errorf("want 32 bytes, got %d", len(b))
		}

		copy(id[:], b)

		return id, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Array || rv.Len() != len(id) || rv.Type().Elem().Kind() != reflect.Uint8 {
		return id, fmt.Errorf("want bytes32, got %T", v)
	}

	for i := range id {
		id[i] = byte(rv.Index(i).Uint())
	}

	return id, nil
}
