package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgr-network/xgr-relay/contracts/consumerabi"
	"github.com/xgr-network/xgr-relay/types"
)

func fastSubmitter(t *testing.T, client *Client, mutate func(*SubmitterConfig)) *Submitter {
	t.Helper()

	cfg := SubmitterConfig{
		ReceiptTimeout: 200 * time.Millisecond,
		PollInterval:   2 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := NewSubmitter(client, cfg)
	require.NoError(t, err)

	return s
}

func TestSubmitter_Submit(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.pendingNonce = 7

	client, _ := newTestClient(t, backend)
	s := fastSubmitter(t, client, nil)

	id := types.MustParseRequestID("0x1")

	var sentHash common.Hash

	receipt, err := s.Submit(context.Background(), Submission{
		RequestID: id,
		Kind:      types.FirstRequest,
		Text:      "gamefi%news A%ask A",
		Sent:      func(h common.Hash) { sentHash = h },
	})
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.GreaterOrEqual(t, receipt.Confirmations, uint64(1))
	assert.Equal(t, gethtypes.ReceiptStatusSuccessful, receipt.Status)

	sent := backend.sentTxs()
	require.Len(t, sent, 1)

	tx := sent[0]
	assert.Equal(t, tx.Hash(), sentHash)
	assert.Equal(t, tx.Hash(), receipt.TxHash)
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, testContract, *tx.To())
	assert.Equal(t, uint64(60_000), tx.Gas())

	sender, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(backend.chainID), tx)
	require.NoError(t, err)
	assert.Equal(t, client.From(), sender)

	m := fulfillABI.GetMethod(consumerabi.MethodFirstFulfillment)
	assert.Equal(t, m.ID(), tx.Data()[:4])

	vals, err := m.Inputs.Decode(tx.Data()[4:])
	require.NoError(t, err)

	args, ok := vals.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "gamefi%news A%ask A", args["response"])
}

func TestSubmitter_TracksNonceLocally(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.pendingNonce = 3

	client, _ := newTestClient(t, backend)
	s := fastSubmitter(t, client, nil)

	for i := 0; i < 3; i++ {
		_, err := s.Submit(context.Background(), Submission{
			RequestID: types.MustParseRequestID("0x1"),
			Kind:      types.RandomRequest,
			Text:      "12",
		})
		require.NoError(t, err)
	}

	sent := backend.sentTxs()
	require.Len(t, sent, 3)

	for i, tx := range sent {
		assert.Equal(t, uint64(3+i), tx.Nonce())
	}
}

func TestSubmitter_PreflightAlreadyFulfilled(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.estimateErr = errors.New("execution reverted: already fulfilled")

	client, _ := newTestClient(t, backend)
	s := fastSubmitter(t, client, nil)

	_, err := s.Submit(context.Background(), Submission{
		RequestID: types.MustParseRequestID("0x1"),
		Kind:      types.FirstRequest,
		Text:      "x",
	})
	require.ErrorIs(t, err, ErrSubmissionReverted)
	require.ErrorIs(t, err, ErrAlreadyFulfilled)
	assert.Empty(t, backend.sentTxs())
}

func TestSubmitter_MinedRevert(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.mineStatus = gethtypes.ReceiptStatusFailed
	backend.callErr = errors.New("execution reverted: caller not authorized")

	client, _ := newTestClient(t, backend)
	s := fastSubmitter(t, client, nil)

	receipt, err := s.Submit(context.Background(), Submission{
		RequestID:   types.MustParseRequestID("0x2"),
		Kind:        types.RequestOption,
		Text:        "problem",
		PlayerIndex: big.NewInt(1),
	})
	require.ErrorIs(t, err, ErrSubmissionReverted)
	require.NotErrorIs(t, err, ErrAlreadyFulfilled)
	require.NotNil(t, receipt)

	var rerr *RevertError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "caller not authorized", rerr.Reason)
	assert.Equal(t, receipt.TxHash, rerr.TxHash)
}

func TestSubmitter_Timeout(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.autoMine = false

	client, _ := newTestClient(t, backend)
	s := fastSubmitter(t, client, func(c *SubmitterConfig) {
		c.ReceiptTimeout = 20 * time.Millisecond
	})

	_, err := s.Submit(context.Background(), Submission{
		RequestID: types.MustParseRequestID("0x3"),
		Kind:      types.RequestForecast,
		Text:      "1,2,3",
	})
	require.ErrorIs(t, err, ErrSubmissionTimeout)

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, backend.sentTxs()[0].Hash(), terr.TxHash)
}

func TestSubmitter_WaitsForConfirmations(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.headStep = 1

	client, _ := newTestClient(t, backend)
	s := fastSubmitter(t, client, func(c *SubmitterConfig) {
		c.Confirmations = 3
	})

	receipt, err := s.Submit(context.Background(), Submission{
		RequestID: types.MustParseRequestID("0x4"),
		Kind:      types.FirstRequest,
		Text:      "x",
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, receipt.Confirmations, uint64(3))
}

func TestSubmitter_SendErrorResyncsNonce(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.sendErr = errors.New("nonce too low")

	client, _ := newTestClient(t, backend)
	s := fastSubmitter(t, client, nil)

	_, err := s.Submit(context.Background(), Submission{
		RequestID: types.MustParseRequestID("0x5"),
		Kind:      types.FirstRequest,
		Text:      "x",
	})
	require.ErrorContains(t, err, "nonce too low")
	assert.False(t, s.hasNonce)
}

func TestSubmitter_Encode(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, newFakeBackend())
	s := fastSubmitter(t, client, nil)

	_, err := s.Encode(Submission{RequestID: types.MustParseRequestID("0x1"), Kind: types.RequestOption, Text: "x"})
	require.ErrorContains(t, err, "requires a player index")

	data, err := s.Encode(Submission{
		RequestID:   types.MustParseRequestID("0x1"),
		Kind:        types.RequestOption,
		Text:        "x",
		PlayerIndex: big.NewInt(2),
	})
	require.NoError(t, err)

	m := fulfillABI.GetMethod(consumerabi.MethodFulfillRequest)
	vals, err := m.Inputs.Decode(data[4:])
	require.NoError(t, err)

	args := vals.(map[string]interface{})
	assert.Equal(t, 0, big.NewInt(2).Cmp(args["playerIndex"].(*big.Int)))

	assert.Equal(t, consumerabi.MethodFulfillRandom, s.Method(types.RandomRequest))
}

func TestNewSubmitter_RejectsUnknownMethod(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, newFakeBackend())

	_, err := NewSubmitter(client, SubmitterConfig{
		Methods: map[types.EventKind]string{types.FirstRequest: "doesNotExist"},
	})
	require.ErrorContains(t, err, "doesNotExist")
}
