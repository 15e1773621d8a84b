// Package prompt turns decoded request events into the natural-language
// prompts sent to the completion API. Every template is a pure function of
// its payload so a request can be replayed byte for byte.
package prompt

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/xgr-network/xgr-relay/types"
)

const (
	DefaultPlayers = 3
	MaxPlayers     = 16

	// FirstReplySeparator separates the per-player segments of a FirstRequest reply.
	FirstReplySeparator = "%"

	randomSystemMessage   = "you only reply a new number"
	forecastSystemMessage = "you only reply three integers separated by commas"
)

var (
	ErrUnknownKind     = errors.New("no template for event kind")
	ErrPayloadMismatch = errors.New("payload does not match event kind")
)

// Template renders one event kind.
type Template struct {
	// System is sent as the system message, empty means none.
	System string
	Build  func(types.Payload) (string, error)
	// Normalize validates a model reply, nil forwards the reply verbatim.
	Normalize func(reply string) (string, error)
}

// Set is the event kind to template mapping used by the relay.
type Set struct {
	players   int
	templates map[types.EventKind]Template
}

// NewSet builds the default templates for the given player count.
func NewSet(players int) (*Set, error) {
	if players <= 0 || players > MaxPlayers {
		return nil, fmt.Errorf("player count %d out of range [1,%d]", players, MaxPlayers)
	}

	s := &Set{
		players:   players,
		templates: make(map[types.EventKind]Template, len(types.AllEventKinds)),
	}

	s.templates[types.FirstRequest] = Template{
		Build: func(p types.Payload) (string, error) {
			if _, ok := p.(types.FirstRequestPayload); !ok {
				return "", mismatch(types.FirstRequest, p)
			}

			return firstRequestPrompt(players), nil
		},
	}
	s.templates[types.RequestOption] = Template{
		Build: func(p types.Payload) (string, error) {
			op, ok := p.(types.RequestOptionPayload)
			if !ok {
				return "", mismatch(types.RequestOption, p)
			}

			return requestOptionPrompt(op), nil
		},
	}
	s.templates[types.RequestForecast] = Template{
		System: forecastSystemMessage,
		Build: func(p types.Payload) (string, error) {
			fp, ok := p.(types.RequestForecastPayload)
			if !ok {
				return "", mismatch(types.RequestForecast, p)
			}

			return forecastPrompt(fp), nil
		},
		Normalize: NormalizeForecastReply,
	}
	s.templates[types.RandomRequest] = Template{
		System: randomSystemMessage,
		Build: func(p types.Payload) (string, error) {
			rp, ok := p.(types.RandomRequestPayload)
			if !ok {
				return "", mismatch(types.RandomRequest, p)
			}

			return randomPrompt(rp), nil
		},
		Normalize: NormalizeNumberReply,
	}

	return s, nil
}

// Players returns the configured FirstRequest player count.
func (s *Set) Players() int {
	return s.players
}

// Override replaces the template of one kind.
func (s *Set) Override(kind types.EventKind, t Template) {
	s.templates[kind] = t
}

func (s *Set) Kinds() []types.EventKind {
	kinds := make([]types.EventKind, 0, len(s.templates))
	for k := range s.templates {
		kinds = append(kinds, k)
	}

	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return kinds
}

func (s *Set) Template(kind types.EventKind) (Template, error) {
	t, ok := s.templates[kind]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	return t, nil
}

// Build renders the prompt for kind and payload.
func (s *Set) Build(kind types.EventKind, payload types.Payload) (string, error) {
	t, err := s.Template(kind)
	if err != nil {
		return "", err
	}

	if payload == nil {
		return "", fmt.Errorf("%w: nil payload for %s", ErrPayloadMismatch, kind)
	}

	return t.Build(payload)
}

// Normalize runs the reply check of kind, if any.
func (s *Set) Normalize(kind types.EventKind, reply string) (string, error) {
	t, err := s.Template(kind)
	if err != nil {
		return "", err
	}

	if t.Normalize == nil {
		return reply, nil
	}

	return t.Normalize(reply)
}

func mismatch(want types.EventKind, got types.Payload) error {
	if got == nil {
		return fmt.Errorf("%w: want %s, got nil", ErrPayloadMismatch, want)
	}

	return fmt.Errorf("%w: want %s, got %s", ErrPayloadMismatch, want, got.Kind())
}

var exampleTopics = []string{"gamefi", "defi", "AI", "NFT", "RWA", "layer2", "stablecoin", "DePIN"}

func firstRequestPrompt(players int) string {
	segments := make([]string, players)
	for i := range segments {
		topic := exampleTopics[i%len(exampleTopics)]
		segments[i] = fmt.Sprintf(
			"%s: there is a company that wants to go on-chain with %s and is looking for a partner, should we cooperate with them?",
			topic, topic,
		)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "now there are %d players playing a role as a cryptocurrency provider. ", players)
	b.WriteString("Just randomly pick one topic (AI, GameFi, DeFi, etc.) each of them should work on, ")
	b.WriteString("and create a random opportunity event as a news item that will affect the market for each of them. ")
	b.WriteString("For every player write the topic, the news event and the question of the player's assistant ")
	b.WriteString("whether to cooperate, all on one line. Only reply one topic for each player, ")
	b.WriteString("the lines are separated by the percent sign and by nothing else.\n")
	b.WriteString("reply in this format: ")
	b.WriteString(strings.Join(segments, FirstReplySeparator))

	return b.String()
}

func requestOptionPrompt(p types.RequestOptionPayload) string {
	return fmt.Sprintf(
		"player is a %s cryptocurrency provider, please act like the collaborator of the player "+
			"and tell them one problem you are facing, and give two options for them according to the problem. "+
			"According to the last message %q they chose option 1, what problem will you face next? "+
			"Reply with the new problem followed by option 1 and option 2.",
		p.PlayerTopic, p.PriorOption,
	)
}

func forecastPrompt(p types.RequestForecastPayload) string {
	var b strings.Builder

	b.WriteString("There are three tokens with the current prices ")
	b.WriteString(joinInts(p.TokenPrices[:]))
	b.WriteString(".\n")

	for player, inv := range p.Investments {
		fmt.Fprintf(&b, "Player %d invested %s in token 1, token 2 and token 3.\n", player+1, joinInts(inv[:]))
	}

	b.WriteString("Compute the three new token prices after these investments. ")
	b.WriteString("Reply with exactly three integers separated by commas, in token order, with no other text.")

	return b.String()
}

func randomPrompt(p types.RandomRequestPayload) string {
	return fmt.Sprintf(
		"Event: %s\nThe origin price is %s. Reply with a single number, the new price after this event, and nothing else.",
		strings.TrimSpace(p.Event), intString(p.Price),
	)
}

func joinInts(vs []*big.Int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = intString(v)
	}

	return strings.Join(parts, ", ")
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}

	return v.String()
}
