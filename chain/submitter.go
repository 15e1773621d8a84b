package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/hashicorp/go-hclog"
	ethabi "github.com/umbracle/ethgo/abi"

	"github.com/xgr-network/xgr-relay/contracts/consumerabi"
	"github.com/xgr-network/xgr-relay/internal/ethrpc"
	"github.com/xgr-network/xgr-relay/types"
)

var fulfillABI = ethabi.MustNewABI(consumerabi.FulfillABI)

// Submitter defaults, applied to zero SubmitterConfig fields.
const (
	DefaultConfirmations  = 1
	DefaultReceiptTimeout = 3 * time.Minute
	DefaultPollInterval   = 2 * time.Second
	DefaultGasMargin      = 20 // percent on top of the estimate
)

// DefaultMethods maps each request kind to its fulfilment function.
func DefaultMethods() map[types.EventKind]string {
	return map[types.EventKind]string{
		types.FirstRequest:    consumerabi.MethodFirstFulfillment,
		types.RequestOption:   consumerabi.MethodFulfillRequest,
		types.RequestForecast: consumerabi.MethodFulfillForecast,
		types.RandomRequest:   consumerabi.MethodFulfillRandom,
	}
}

// Submission is one fulfilment to write on-chain.
type Submission struct {
	RequestID   types.RequestID
	Kind        types.EventKind
	Text        string
	PlayerIndex *big.Int
	// Sent, when set, observes the transaction hash before the mining wait.
	Sent func(txHash common.Hash)
}

// Receipt is a mined fulfilment.
type Receipt struct {
	TxHash        common.Hash
	BlockNumber   uint64
	Confirmations uint64
	GasUsed       uint64
	Status        uint64
}

// SubmitterConfig tunes gas, confirmation and receipt polling. Methods
// overrides entries of DefaultMethods.
type SubmitterConfig struct {
	Confirmations  uint64
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	GasMargin      uint64
	Methods        map[types.EventKind]string
	Logger         hclog.Logger
}

// Submitter signs and sends fulfilment transactions from one key.
type Submitter struct {
	client *Client
	cfg    SubmitterConfig
	logger hclog.Logger

	// nonce is serialised only around sign+send, never around the mining wait
	nonceLock sync.Mutex
	nextNonce uint64
	hasNonce  bool
}

// NewSubmitter fills in defaults and resolves the fulfilment method of
// every request kind.
func NewSubmitter(client *Client, cfg SubmitterConfig) (*Submitter, error) {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = DefaultConfirmations
	}

	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = DefaultReceiptTimeout
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.GasMargin == 0 {
		cfg.GasMargin = DefaultGasMargin
	}

	methods := DefaultMethods()
	for k, m := range cfg.Methods {
		methods[k] = m
	}

	for k, m := range methods {
		if fulfillABI.GetMethod(m) == nil {
			return nil, fmt.Errorf("fulfilment method %q for %s not in consumer abi", m, k)
		}
	}

	cfg.Methods = methods

	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Submitter{
		client: client,
		cfg:    cfg,
		logger: cfg.Logger.Named("submitter"),
	}, nil
}

// Method returns the fulfilment function used for kind.
func (s *Submitter) Method(kind types.EventKind) string {
	return s.cfg.Methods[kind]
}

// Encode builds the calldata of a submission.
func (s *Submitter) Encode(sub Submission) ([]byte, error) {
	name, ok := s.cfg.Methods[sub.Kind]
	if !ok {
		return nil, fmt.Errorf("no fulfilment method for %s", sub.Kind)
	}

	m := fulfillABI.GetMethod(name)
	args := []interface{}{[32]byte(sub.RequestID), sub.Text}

	if len(m.Inputs.TupleElems()) == 3 {
		if sub.PlayerIndex == nil {
			return nil, fmt.Errorf("%s requires a player index", name)
		}

		args = append(args, sub.PlayerIndex)
	}

	data, err := m.Encode(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}

	return data, nil
}

// Submit sends the fulfilment and waits for the configured confirmations.
func (s *Submitter) Submit(ctx context.Context, sub Submission) (*Receipt, error) {
	data, err := s.Encode(sub)
	if err != nil {
		return nil, err
	}

	contract := s.client.Contract()
	msg := ethereum.CallMsg{From: s.client.From(), To: &contract, Data: data}

	gas, err := s.client.Backend.EstimateGas(ctx, msg)
	if err != nil {
		if reason, ok := ethrpc.RevertReason(err); ok {
			return nil, &RevertError{Reason: reason}
		}

		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	gas += gas * s.cfg.GasMargin / 100

	tx, err := s.send(ctx, data, gas)
	if err != nil {
		return nil, err
	}

	s.logger.Info("transaction sent",
		"request", sub.RequestID.Short(),
		"method", s.cfg.Methods[sub.Kind],
		"tx", tx.Hash(),
		"nonce", tx.Nonce(),
	)

	if sub.Sent != nil {
		sub.Sent(tx.Hash())
	}

	receipt, err := s.WaitMined(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}

	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		reason := s.replayRevert(ctx, msg, receipt.BlockNumber)

		return receipt, &RevertError{Reason: reason, TxHash: receipt.TxHash}
	}

	s.logger.Info("transaction mined",
		"request", sub.RequestID.Short(),
		"tx", receipt.TxHash,
		"block", receipt.BlockNumber,
		"confirmations", receipt.Confirmations,
	)

	return receipt, nil
}

func (s *Submitter) send(ctx context.Context, data []byte, gas uint64) (*gethtypes.Transaction, error) {
	s.nonceLock.Lock()
	defer s.nonceLock.Unlock()

	backend := s.client.Backend

	pending, err := backend.PendingNonceAt(ctx, s.client.From())
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	nonce := pending
	if s.hasNonce && s.nextNonce > nonce {
		nonce = s.nextNonce
	}

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	contract := s.client.Contract()

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &contract,
		Value:    new(big.Int),
		Data:     data,
	})

	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(s.client.chainID), s.client.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		// resync from the node on the next send
		s.hasNonce = false

		return nil, fmt.Errorf("send transaction: %w", err)
	}

	s.nextNonce = nonce + 1
	s.hasNonce = true

	return signed, nil
}

// WaitMined polls for the receipt until it has enough confirmations or the
// receipt timeout elapses.
func (s *Submitter) WaitMined(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r, err := s.checkReceipt(ctx, hash)
		if err != nil {
			s.logger.Debug("receipt not available", "tx", hash, "err", err)
		} else if r != nil {
			return r, nil
		}

		select {
		case <-ctx.Done():
			return nil, &TimeoutError{TxHash: hash, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// checkReceipt returns nil, nil while the transaction is pending or under-confirmed.
func (s *Submitter) checkReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	backend := s.client.Backend

	r, err := backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	if r == nil || r.BlockNumber == nil {
		return nil, nil
	}

	head, err := backend.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	block := r.BlockNumber.Uint64()
	if head < block {
		return nil, nil
	}

	confs := head - block + 1
	if confs < s.cfg.Confirmations {
		return nil, nil
	}

	return &Receipt{
		TxHash:        r.TxHash,
		BlockNumber:   block,
		Confirmations: confs,
		GasUsed:       r.GasUsed,
		Status:        r.Status,
	}, nil
}

func (s *Submitter) replayRevert(ctx context.Context, msg ethereum.CallMsg, block uint64) string {
	_, err := s.client.Backend.CallContract(ctx, msg, new(big.Int).SetUint64(block))
	if reason, ok := ethrpc.RevertReason(err); ok {
		return reason
	}

	if err != nil {
		s.logger.Debug("revert replay failed", "block", block, "err", err)
	}

	return ""
}
