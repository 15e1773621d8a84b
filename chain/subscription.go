package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/xgr-network/xgr-relay/types"
)

// Subscription defaults, applied to zero SubscriptionConfig fields.
const (
	DefaultBatchSize        = 2000
	DefaultPollEvery        = 4 * time.Second
	DefaultResubscribeDelay = 5 * time.Second
)

// Handler processes one decoded request. It runs on its own goroutine.
type Handler func(ctx context.Context, req *types.RelayRequest)

// AcceptFunc records a request before its block is checkpointed.
type AcceptFunc func(ctx context.Context, req *types.RelayRequest) error

// CheckpointStore persists the last block whose logs were delivered.
type CheckpointStore interface {
	SetCheckpoint(ctx context.Context, block uint64) error
}

// SubscriptionConfig selects the handlers and the delivery range of a
// SubscriptionManager.
type SubscriptionConfig struct {
	Handlers map[types.EventKind]Handler
	// Accept, when set, runs synchronously for every request before the
	// checkpoint may pass its block.
	Accept AcceptFunc
	// StartBlock, when set, is backfilled up to the head once the live
	// subscription is registered.
	StartBlock       *uint64
	BatchSize        uint64
	PollEvery        time.Duration
	ResubscribeDelay time.Duration
	Checkpoints      CheckpointStore
	// OnDecodeError observes dropped logs.
	OnDecodeError func(error)
	Logger        hclog.Logger
}

// SubscriptionManager delivers consumer request events to their handlers.
type SubscriptionManager struct {
	backend  Backend
	decoder  *Decoder
	contract common.Address
	cfg      SubscriptionConfig
	topics   []common.Hash
	logger   hclog.Logger

	lastBlock uint64
	synced    bool
}

// NewSubscriptionManager filters the contract's logs down to the kinds that
// have a handler.
func NewSubscriptionManager(client *Client, decoder *Decoder, cfg SubscriptionConfig) (*SubscriptionManager, error) {
	if len(cfg.Handlers) == 0 {
		return nil, fmt.Errorf("no event handlers registered")
	}

	kinds := make([]types.EventKind, 0, len(cfg.Handlers))
	for k, h := range cfg.Handlers {
		if !k.Valid() || h == nil {
			return nil, fmt.Errorf("invalid handler registration for %s", k)
		}

		kinds = append(kinds, k)
	}

	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	if cfg.PollEvery <= 0 {
		cfg.PollEvery = DefaultPollEvery
	}

	if cfg.ResubscribeDelay <= 0 {
		cfg.ResubscribeDelay = DefaultResubscribeDelay
	}

	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &SubscriptionManager{
		backend:  client.Backend,
		decoder:  decoder,
		contract: client.Contract(),
		cfg:      cfg,
		topics:   decoder.Topics(kinds),
		logger:   cfg.Logger.Named("subscription"),
	}, nil
}

// Run blocks until ctx is cancelled. Handlers are not waited for; they may
// outlive Run and are drained by their owner.
func (m *SubscriptionManager) Run(ctx context.Context) error {
	from := m.cfg.StartBlock

	for {
		err := m.subscribe(ctx, from)
		if ctx.Err() != nil {
			return nil
		}

		if errors.Is(err, rpc.ErrNotificationsUnsupported) {
			if err := m.catchUp(ctx, from); err != nil {
				return err
			}

			m.logger.Info("endpoint has no log subscriptions, polling", "every", m.cfg.PollEvery)

			return m.poll(ctx)
		}

		m.logger.Warn("log subscription ended, resubscribing", "err", err, "delay", m.cfg.ResubscribeDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.cfg.ResubscribeDelay):
		}

		// close the gap the dead subscription left behind
		if m.synced {
			next := m.lastBlock
			from = &next
		}
	}
}

// catchUp backfills [from, head] and marks the manager as synced. A nil
// from starts at the current head.
func (m *SubscriptionManager) catchUp(ctx context.Context, from *uint64) error {
	head, err := m.backend.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("read head: %w", err)
	}

	if from != nil && *from <= head {
		if err := m.backfill(ctx, *from, head); err != nil {
			return err
		}
	}

	if head > m.lastBlock {
		m.lastBlock = head
	}

	m.synced = true

	return nil
}

func (m *SubscriptionManager) query(from, to *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{m.contract},
		Topics:    [][]common.Hash{m.topics},
	}
}

// subscribe registers the live subscription first and backfills from there,
// so nothing mined in between is missed. Logs seen by both are deduplicated
// downstream.
func (m *SubscriptionManager) subscribe(ctx context.Context, from *uint64) error {
	ch := make(chan gethtypes.Log, 256)

	sub, err := m.backend.SubscribeFilterLogs(ctx, m.query(nil, nil), ch)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	m.logger.Info("subscribed to request events", "contract", m.contract, "topics", len(m.topics))

	if err := m.catchUp(ctx, from); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}

			return err
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	g.Go(func() error {
		for {
			select {
			case l := <-ch:
				m.deliver(ctx, l)
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	return g.Wait()
}

func (m *SubscriptionManager) poll(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		head, err := m.backend.BlockNumber(ctx)
		if err != nil {
			m.logger.Warn("read head", "err", err)

			continue
		}

		if head <= m.lastBlock {
			continue
		}

		if err := m.backfill(ctx, m.lastBlock+1, head); err != nil && ctx.Err() == nil {
			m.logger.Warn("poll failed", "err", err)
		}
	}
}

// backfill delivers logs of [from, to] in BatchSize chunks.
func (m *SubscriptionManager) backfill(ctx context.Context, from, to uint64) error {
	for start := from; start <= to; start += m.cfg.BatchSize {
		end := start + m.cfg.BatchSize - 1
		if end > to {
			end = to
		}

		logs, err := m.backend.FilterLogs(ctx, m.query(new(big.Int).SetUint64(start), new(big.Int).SetUint64(end)))
		if err != nil {
			return fmt.Errorf("filter logs [%d,%d]: %w", start, end, err)
		}

		m.logger.Debug("backfill range", "from", start, "to", end, "logs", len(logs))

		for _, l := range logs {
			m.deliver(ctx, l)
		}

		m.advance(ctx, end)
	}

	return nil
}

func (m *SubscriptionManager) deliver(ctx context.Context, l gethtypes.Log) {
	if l.Removed {
		m.logger.Debug("ignoring removed log", "tx", l.TxHash, "index", l.Index)

		return
	}

	req, err := m.decoder.Decode(l)
	if err != nil {
		m.logger.Error("dropping undecodable event", "err", err)

		if m.cfg.OnDecodeError != nil {
			m.cfg.OnDecodeError(err)
		}

		m.reach(ctx, l.BlockNumber)

		return
	}

	h, ok := m.cfg.Handlers[req.Kind]
	if !ok {
		m.reach(ctx, l.BlockNumber)

		return
	}

	m.logger.Debug("event received", "kind", req.Kind, "request", req.RequestID.Short(), "block", req.BlockNumber)

	if m.cfg.Accept != nil {
		if err := m.cfg.Accept(ctx, req); err != nil {
			m.logger.Warn("accept request", "request", req.RequestID.Short(), "err", err)
		}
	}

	m.reach(ctx, l.BlockNumber)

	go h(ctx, req)
}

// reach checkpoints block when it is newer than anything delivered so far.
func (m *SubscriptionManager) reach(ctx context.Context, block uint64) {
	if block > m.lastBlock {
		m.advance(ctx, block)
	}
}

func (m *SubscriptionManager) advance(ctx context.Context, block uint64) {
	if block > m.lastBlock {
		m.lastBlock = block
	}

	if m.cfg.Checkpoints == nil {
		return
	}

	if err := m.cfg.Checkpoints.SetCheckpoint(ctx, block); err != nil {
		m.logger.Warn("write checkpoint", "block", block, "err", err)
	}
}
