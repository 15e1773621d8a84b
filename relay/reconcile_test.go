package relay

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgr-network/xgr-relay/journal"
	"github.com/xgr-network/xgr-relay/types"
)

type receiptSource struct {
	receipts map[common.Hash]*gethtypes.Receipt
	pending  map[common.Hash]bool
	broken   map[common.Hash]bool
}

func (s *receiptSource) TransactionReceipt(_ context.Context, h common.Hash) (*gethtypes.Receipt, error) {
	if s.broken[h] {
		return nil, errors.New("rpc unavailable")
	}

	if r, ok := s.receipts[h]; ok {
		return r, nil
	}

	return nil, ethereum.NotFound
}

func (s *receiptSource) TransactionByHash(_ context.Context, h common.Hash) (*gethtypes.Transaction, bool, error) {
	if s.pending[h] {
		return &gethtypes.Transaction{}, true, nil
	}

	return nil, false, ethereum.NotFound
}

func TestReconciler_Reconcile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := journal.NewMemory()

	var (
		minedOK   = common.HexToHash("0x01")
		minedFail = common.HexToHash("0x02")
		pending   = common.HexToHash("0x03")
		vanished  = common.HexToHash("0x04")
		broken    = common.HexToHash("0x05")
	)

	put := func(id string, st journal.Status, block uint64, tx common.Hash) {
		require.NoError(t, store.Put(ctx, &journal.Record{
			RequestID:   types.MustParseRequestID(id),
			Kind:        types.FirstRequest,
			Status:      st,
			BlockNumber: block,
			TxHash:      tx,
		}))
	}

	put("0x1", journal.StatusSubmitted, 50, minedOK)
	put("0x2", journal.StatusUnknown, 51, minedFail)
	put("0x3", journal.StatusUnknown, 52, pending)
	put("0x4", journal.StatusUnknown, 53, vanished)
	put("0x5", journal.StatusSubmitted, 54, broken)
	put("0x6", journal.StatusUnknown, 55, common.Hash{})
	put("0x7", journal.StatusCompleted, 90, common.Hash{})
	put("0x8", journal.StatusFulfilled, 10, minedOK)

	require.NoError(t, store.SetCheckpoint(ctx, 100))

	src := &receiptSource{
		receipts: map[common.Hash]*gethtypes.Receipt{
			minedOK:   {Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(60)},
			minedFail: {Status: gethtypes.ReceiptStatusFailed, BlockNumber: big.NewInt(61)},
		},
		pending: map[common.Hash]bool{pending: true},
		broken:  map[common.Hash]bool{broken: true},
	}

	report, err := NewReconciler(store, src, nil).Reconcile(ctx)
	require.ErrorContains(t, err, "rpc unavailable")
	require.NotNil(t, report)

	assert.Equal(t, 6, report.Checked)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, 1, report.Resolved[journal.StatusFulfilled])
	assert.Equal(t, 1, report.Resolved[journal.StatusFailed])
	assert.Equal(t, 2, report.Resolved[journal.StatusDropped])

	want := map[string]journal.Status{
		"0x1": journal.StatusFulfilled,
		"0x2": journal.StatusFailed,
		"0x3": journal.StatusUnknown,
		"0x4": journal.StatusDropped,
		"0x5": journal.StatusSubmitted,
		"0x6": journal.StatusDropped,
	}

	for id, st := range want {
		rec, err := store.Get(ctx, types.MustParseRequestID(id))
		require.NoError(t, err)
		assert.Equal(t, st, rec.Status, id)
	}

	// 0x3 at block 52 is the oldest record still open after resolution
	assert.True(t, report.HasStart)
	assert.Equal(t, uint64(52), report.StartBlock)
}

func TestReconciler_StartBlock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty journal", func(t *testing.T) {
		t.Parallel()

		report, err := NewReconciler(journal.NewMemory(), &receiptSource{}, nil).Reconcile(ctx)
		require.NoError(t, err)
		assert.False(t, report.HasStart)
		assert.Zero(t, report.Checked)
	})

	t.Run("checkpoint only", func(t *testing.T) {
		t.Parallel()

		store := journal.NewMemory()
		require.NoError(t, store.SetCheckpoint(ctx, 321))

		report, err := NewReconciler(store, &receiptSource{}, nil).Reconcile(ctx)
		require.NoError(t, err)
		assert.True(t, report.HasStart)
		assert.Equal(t, uint64(321), report.StartBlock)
	})

	t.Run("dropped below checkpoint", func(t *testing.T) {
		t.Parallel()

		store := journal.NewMemory()
		require.NoError(t, store.Put(ctx, &journal.Record{
			RequestID:   types.MustParseRequestID("0x1"),
			Kind:        types.FirstRequest,
			Status:      journal.StatusUnknown,
			BlockNumber: 50,
			TxHash:      common.HexToHash("0xdead"),
		}))
		require.NoError(t, store.SetCheckpoint(ctx, 100))

		report, err := NewReconciler(store, &receiptSource{}, nil).Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Resolved[journal.StatusDropped])

		rec, err := store.Get(ctx, types.MustParseRequestID("0x1"))
		require.NoError(t, err)
		assert.Equal(t, journal.StatusDropped, rec.Status)

		assert.True(t, report.HasStart)
		assert.Equal(t, uint64(50), report.StartBlock)
	})

	t.Run("interrupted without checkpoint", func(t *testing.T) {
		t.Parallel()

		store := journal.NewMemory()
		require.NoError(t, store.Put(ctx, &journal.Record{
			RequestID:   types.MustParseRequestID("0x1"),
			Kind:        types.RandomRequest,
			Status:      journal.StatusAccepted,
			BlockNumber: 7,
		}))

		report, err := NewReconciler(store, &receiptSource{}, nil).Reconcile(ctx)
		require.NoError(t, err)
		assert.True(t, report.HasStart)
		assert.Equal(t, uint64(7), report.StartBlock)
	})
}
