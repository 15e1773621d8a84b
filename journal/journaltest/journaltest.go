// Package journaltest holds behaviour tests shared by all journal backends.
package journaltest

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgr-network/xgr-relay/journal"
	"github.com/xgr-network/xgr-relay/types"
)

// RunStoreTests exercises a Store created fresh by newStore for every case.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) journal.Store) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(context.Background(), types.MustParseRequestID("0x1"))
		require.ErrorIs(t, err, journal.ErrNotFound)
	})

	t.Run("PutGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		in := &journal.Record{
			RequestID:   types.MustParseRequestID("0x1"),
			Kind:        types.FirstRequest,
			Status:      journal.StatusSubmitted,
			BlockNumber: 12,
			TxHash:      common.HexToHash("0xbeef"),
			PromptHash:  journal.PromptHash("", "prompt"),
			Attempts:    1,
		}
		require.NoError(t, s.Put(ctx, in))

		got, err := s.Get(ctx, in.RequestID)
		require.NoError(t, err)
		assert.Equal(t, in.RequestID, got.RequestID)
		assert.Equal(t, in.Kind, got.Kind)
		assert.Equal(t, in.Status, got.Status)
		assert.Equal(t, in.TxHash, got.TxHash)
		assert.Equal(t, in.PromptHash, got.PromptHash)
		assert.Equal(t, uint64(12), got.BlockNumber)
	})

	t.Run("StatusTransitionsMoveIndex", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := types.MustParseRequestID("0x2")

		for _, st := range []journal.Status{journal.StatusAccepted, journal.StatusSubmitted, journal.StatusFulfilled} {
			_, err := journal.Update(ctx, s, id, func(r *journal.Record) {
				r.Kind = types.RandomRequest
				r.Status = st
				r.BlockNumber = 5
			})
			require.NoError(t, err)
		}

		pending, err := journal.Unresolved(ctx, s)
		require.NoError(t, err)
		assert.Empty(t, pending)

		done, err := s.List(ctx, journal.Filter{Statuses: []journal.Status{journal.StatusFulfilled}})
		require.NoError(t, err)
		require.Len(t, done, 1)
		assert.Equal(t, id, done[0].RequestID)
		assert.False(t, done[0].UpdatedAt.IsZero())
	})

	t.Run("ListOrderAndFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		put := func(id string, kind types.EventKind, st journal.Status, block uint64) {
			require.NoError(t, s.Put(ctx, &journal.Record{
				RequestID:   types.MustParseRequestID(id),
				Kind:        kind,
				Status:      st,
				BlockNumber: block,
			}))
		}

		put("0x3", types.FirstRequest, journal.StatusUnknown, 30)
		put("0x1", types.RequestOption, journal.StatusSubmitted, 10)
		put("0x2", types.FirstRequest, journal.StatusFulfilled, 20)
		put("0x4", types.RandomRequest, journal.StatusDropped, 40)

		all, err := s.List(ctx, journal.Filter{})
		require.NoError(t, err)
		require.Len(t, all, 4)

		for i, want := range []string{"0x1", "0x2", "0x3", "0x4"} {
			assert.Equal(t, want, all[i].RequestID.Short())
		}

		unresolved, err := journal.Unresolved(ctx, s)
		require.NoError(t, err)
		require.Len(t, unresolved, 2)
		assert.Equal(t, "0x1", unresolved[0].RequestID.Short())
		assert.Equal(t, "0x3", unresolved[1].RequestID.Short())

		firsts, err := s.List(ctx, journal.Filter{Kind: types.FirstRequest})
		require.NoError(t, err)
		assert.Len(t, firsts, 2)

		limited, err := s.List(ctx, journal.Filter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "0x1", limited[0].RequestID.Short())
	})

	t.Run("Checkpoint", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, ok, err := s.Checkpoint(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.SetCheckpoint(ctx, 99))
		require.NoError(t, s.SetCheckpoint(ctx, 120))

		block, ok, err := s.Checkpoint(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(120), block)
	})
}
