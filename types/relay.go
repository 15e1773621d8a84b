package types

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// RequestID is the chain-assigned 32 byte request identifier.
type RequestID [32]byte

var ZeroRequestID = RequestID{}

func (r RequestID) String() string {
	return "0x" + hex.EncodeToString(r[:])
}

// Short renders the id without leading zero bytes, e.g. 0x1.
func (r RequestID) Short() string {
	v := new(big.Int).SetBytes(r[:])
	return "0x" + v.Text(16)
}

func (r RequestID) Bytes() []byte {
	return r[:]
}

// ParseRequestID accepts 0x-prefixed hex up to 32 bytes and left-pads it.
func ParseRequestID(s string) (RequestID, error) {
	var id RequestID

	clean := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if clean == "" {
		return id, fmt.Errorf("empty request id")
	}

	if len(clean)%2 == 1 {
		clean = "0" + clean
	}

	b, err := hex.DecodeString(clean)
	if err != nil {
		return id, fmt.Errorf("invalid request id %q: %w", s, err)
	}

	if len(b) > len(id) {
		return id, fmt.Errorf("request id %q longer than 32 bytes", s)
	}

	copy(id[len(id)-len(b):], b)

	return id, nil
}

func (r RequestID) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RequestID) UnmarshalText(b []byte) error {
	id, err := ParseRequestID(string(b))
	if err != nil {
		return err
	}

	*r = id

	return nil
}

func MustParseRequestID(s string) RequestID {
	id, err := ParseRequestID(s)
	if err != nil {
		panic(err)
	}

	return id
}

// EventKind enumerates the request events emitted by the consumer contract.
type EventKind uint8

const (
	FirstRequest EventKind = iota + 1
	RequestOption
	RequestForecast
	RandomRequest
)

var eventKindNames = map[EventKind]string{
	FirstRequest:    "FirstRequest",
	RequestOption:   "RequestOption",
	RequestForecast: "RequestForecast",
	RandomRequest:   "RandomRequest",
}

// AllEventKinds in declaration order.
var AllEventKinds = []EventKind{FirstRequest, RequestOption, RequestForecast, RandomRequest}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

func (k EventKind) Valid() bool {
	_, ok := eventKindNames[k]

	return ok
}

// ParseEventKind resolves an event name, case-insensitive.
func ParseEventKind(s string) (EventKind, error) {
	for k, name := range eventKindNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return k, nil
		}
	}

	return 0, fmt.Errorf("unknown event kind %q", s)
}

func (k EventKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid event kind %d", uint8(k))
	}

	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(b []byte) error {
	v, err := ParseEventKind(string(b))
	if err != nil {
		return err
	}

	*k = v

	return nil
}

// Payload is the decoded event argument set of one event kind.
type Payload interface {
	Kind() EventKind
}

type FirstRequestPayload struct {
	PlayerIndex *big.Int
}

func (FirstRequestPayload) Kind() EventKind { return FirstRequest }

type RequestOptionPayload struct {
	PlayerTopic string
	PlayerIndex *big.Int
	PriorOption string
}

func (RequestOptionPayload) Kind() EventKind { return RequestOption }

const (
	// ForecastPlayers is the number of players in a forecast round.
	ForecastPlayers = 3
	// ForecastTokens is the number of tokens priced in a forecast round.
	ForecastTokens = 3
)

type RequestForecastPayload struct {
	TokenPrices [ForecastTokens]*big.Int
	// Investments[player][token]
	Investments [ForecastPlayers][ForecastTokens]*big.Int
}

func (RequestForecastPayload) Kind() EventKind { return RequestForecast }

type RandomRequestPayload struct {
	Event string
	Price *big.Int
}

func (RandomRequestPayload) Kind() EventKind { return RandomRequest }

// RelayRequest is one captured request event. It is never mutated after decode.
type RelayRequest struct {
	RequestID   RequestID
	Kind        EventKind
	Payload     Payload
	BlockNumber uint64
	TxHash      [32]byte
	LogIndex    uint
}

// PlayerIndex returns the routing index for kinds that carry one.
func (r *RelayRequest) PlayerIndex() (*big.Int, bool) {
	switch p := r.Payload.(type) {
	case RequestOptionPayload:
		if p.PlayerIndex == nil {
			return nil, false
		}

		return new(big.Int).Set(p.PlayerIndex), true
	default:
		return nil, false
	}
}

func (r *RelayRequest) String() string {
	return fmt.Sprintf("%s(%s)@%d", r.Kind, r.RequestID.Short(), r.BlockNumber)
}
