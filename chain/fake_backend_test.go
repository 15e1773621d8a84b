package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var testContract = common.HexToAddress("0x00000000000000000000000000000000000c0de1")

// fakeBackend is an in-memory chain: sent transactions are mined into the
// next block when autoMine is set.
type fakeBackend struct {
	mu sync.Mutex

	head          uint64
	headStep      uint64
	chainID       *big.Int
	pendingNonce  uint64
	gasPrice      *big.Int
	estimateGas   uint64
	estimateErr   error
	callErr       error
	sendErr       error
	autoMine      bool
	mineStatus    uint64
	subscribeErr  error
	subscribeLogs []gethtypes.Log
	// onSubscribe runs with mu held before the subscription is registered.
	onSubscribe func(f *fakeBackend)

	sent     []*gethtypes.Transaction
	receipts map[common.Hash]*gethtypes.Receipt
	pending  map[common.Hash]bool
	logs     []gethtypes.Log
	subs     []*fakeSub
	filters  []ethereum.FilterQuery
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		head:        100,
		chainID:     big.NewInt(11155111),
		gasPrice:    big.NewInt(1_000_000_000),
		estimateGas: 50_000,
		autoMine:    true,
		mineStatus:  gethtypes.ReceiptStatusSuccessful,
		receipts:    map[common.Hash]*gethtypes.Receipt{},
		pending:     map[common.Hash]bool{},
	}
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.head += f.headStep

	return f.head, nil
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.pendingNonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.estimateGas, f.estimateErr
}

func (f *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return nil, f.callErr
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return f.sendErr
	}

	f.sent = append(f.sent, tx)

	if !f.autoMine {
		f.pending[tx.Hash()] = true

		return nil
	}

	f.head++
	f.receipts[tx.Hash()] = &gethtypes.Receipt{
		Status:      f.mineStatus,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(f.head),
		GasUsed:     42_000,
	}

	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}

	return r, nil
}

func (f *fakeBackend) TransactionByHash(_ context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pending[hash] {
		return &gethtypes.Transaction{}, true, nil
	}

	return nil, false, ethereum.NotFound
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.filters = append(f.filters, q)

	var out []gethtypes.Log

	for _, l := range f.logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}

		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}

		out = append(out, l)
	}

	return out, nil
}

func (f *fakeBackend) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- gethtypes.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}

	if f.onSubscribe != nil {
		f.onSubscribe(f)
	}

	sub := &fakeSub{errCh: make(chan error, 1), done: make(chan struct{})}
	f.subs = append(f.subs, sub)

	logs := append([]gethtypes.Log(nil), f.subscribeLogs...)

	go func() {
		for _, l := range logs {
			select {
			case ch <- l:
			case <-sub.done:
				return
			}
		}
	}()

	return sub, nil
}

func (f *fakeBackend) sentTxs() []*gethtypes.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*gethtypes.Transaction(nil), f.sent...)
}

type fakeSub struct {
	errCh chan error
	done  chan struct{}
	once  sync.Once
}

func (s *fakeSub) Unsubscribe() { s.once.Do(func() { close(s.done) }) }

func (s *fakeSub) Err() <-chan error { return s.errCh }

func (s *fakeSub) unsubscribed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func newTestClient(t *testing.T, backend *fakeBackend) (*Client, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return NewClient(backend, key, backend.chainID, testContract), key
}
