package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgr-network/xgr-relay/types"
)

type checkpoints struct {
	mu     sync.Mutex
	blocks []uint64
}

func (c *checkpoints) SetCheckpoint(_ context.Context, block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocks = append(c.blocks, block)

	return nil
}

func (c *checkpoints) last() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blocks) == 0 {
		return 0
	}

	return c.blocks[len(c.blocks)-1]
}

func collectHandlers(ch chan *types.RelayRequest) map[types.EventKind]Handler {
	h := func(_ context.Context, req *types.RelayRequest) { ch <- req }

	return map[types.EventKind]Handler{
		types.FirstRequest:    h,
		types.RequestOption:   h,
		types.RequestForecast: h,
		types.RandomRequest:   h,
	}
}

func receive(t *testing.T, ch <-chan *types.RelayRequest) *types.RelayRequest {
	t.Helper()

	select {
	case req := <-ch:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no request delivered")

		return nil
	}
}

func TestSubscriptionManager_PollingFallback(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	backend := newFakeBackend()
	backend.subscribeErr = rpc.ErrNotificationsUnsupported

	good := requestLog(t, d, types.FirstRequest, 95, [32]byte{1}, big.NewInt(0))
	bad := requestLog(t, d, types.RandomRequest, 97, [32]byte{2}, "e", big.NewInt(1))
	bad.Data = bad.Data[:16]
	backend.logs = append(backend.logs, good, bad)

	client, _ := newTestClient(t, backend)

	var (
		decodeErrs int
		errMu      sync.Mutex
	)

	start := uint64(90)
	cps := &checkpoints{}
	delivered := make(chan *types.RelayRequest, 8)

	m, err := NewSubscriptionManager(client, d, SubscriptionConfig{
		Handlers:    collectHandlers(delivered),
		StartBlock:  &start,
		PollEvery:   5 * time.Millisecond,
		Checkpoints: cps,
		OnDecodeError: func(error) {
			errMu.Lock()
			decodeErrs++
			errMu.Unlock()
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- m.Run(ctx) }()

	req := receive(t, delivered)
	assert.Equal(t, types.FirstRequest, req.Kind)
	assert.Equal(t, uint64(95), req.BlockNumber)

	// a new block shows up while polling
	backend.mu.Lock()
	backend.logs = append(backend.logs, requestLog(t, d, types.RandomRequest, 103, [32]byte{3}, "launch", big.NewInt(9)))
	backend.head = 105
	backend.mu.Unlock()

	req = receive(t, delivered)
	assert.Equal(t, types.RandomRequest, req.Kind)

	require.Eventually(t, func() bool { return cps.last() == 105 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	errMu.Lock()
	assert.Equal(t, 1, decodeErrs)
	errMu.Unlock()
}

func TestSubscriptionManager_Subscription(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	backend := newFakeBackend()

	removed := requestLog(t, d, types.FirstRequest, 101, [32]byte{9}, big.NewInt(0))
	removed.Removed = true

	backend.subscribeLogs = append(backend.subscribeLogs,
		removed,
		requestLog(t, d, types.RequestOption, 101, [32]byte{4}, "defi", big.NewInt(1), "buy"),
	)

	client, _ := newTestClient(t, backend)
	cps := &checkpoints{}
	delivered := make(chan *types.RelayRequest, 8)

	m, err := NewSubscriptionManager(client, d, SubscriptionConfig{
		Handlers:    collectHandlers(delivered),
		Checkpoints: cps,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- m.Run(ctx) }()

	req := receive(t, delivered)
	assert.Equal(t, types.RequestOption, req.Kind)
	assert.Equal(t, uint64(101), cps.last())

	cancel()
	require.NoError(t, <-done)

	backend.mu.Lock()
	defer backend.mu.Unlock()

	require.Len(t, backend.subs, 1)
	assert.True(t, backend.subs[0].unsubscribed())
	assert.Empty(t, delivered)
}

func TestSubscriptionManager_Resubscribes(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	backend := newFakeBackend()
	client, _ := newTestClient(t, backend)

	delivered := make(chan *types.RelayRequest, 8)

	m, err := NewSubscriptionManager(client, d, SubscriptionConfig{
		Handlers:         collectHandlers(delivered),
		ResubscribeDelay: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()

		return len(backend.subs) == 1
	}, time.Second, 2*time.Millisecond)

	// the gap left by the dead subscription is backfilled
	backend.mu.Lock()
	backend.logs = append(backend.logs, requestLog(t, d, types.FirstRequest, 102, [32]byte{5}, big.NewInt(0)))
	backend.head = 102
	backend.subs[0].errCh <- errors.New("connection reset")
	backend.mu.Unlock()

	req := receive(t, delivered)
	assert.Equal(t, uint64(102), req.BlockNumber)

	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()

		return len(backend.subs) == 2
	}, time.Second, 2*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSubscriptionManager_BackfillsAfterSubscribing(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	backend := newFakeBackend()

	// mined after the manager could have read the head, before the
	// subscription exists, so it only reaches us through the backfill
	late := requestLog(t, d, types.FirstRequest, 101, [32]byte{6}, big.NewInt(0))
	backend.onSubscribe = func(f *fakeBackend) {
		f.logs = append(f.logs, late)
		f.head = 101
	}

	client, _ := newTestClient(t, backend)
	cps := &checkpoints{}
	delivered := make(chan *types.RelayRequest, 8)

	start := uint64(90)

	m, err := NewSubscriptionManager(client, d, SubscriptionConfig{
		Handlers:    collectHandlers(delivered),
		StartBlock:  &start,
		Checkpoints: cps,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- m.Run(ctx) }()

	req := receive(t, delivered)
	assert.Equal(t, types.FirstRequest, req.Kind)
	assert.Equal(t, uint64(101), req.BlockNumber)
	require.Eventually(t, func() bool { return cps.last() == 101 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSubscriptionManager_AcceptsBeforeCheckpoint(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	backend := newFakeBackend()
	backend.subscribeLogs = append(backend.subscribeLogs,
		requestLog(t, d, types.FirstRequest, 101, [32]byte{7}, big.NewInt(0)))

	client, _ := newTestClient(t, backend)
	cps := &checkpoints{}

	var (
		mu    sync.Mutex
		order []string
	)

	note := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	handled := make(chan struct{})
	handler := func(context.Context, *types.RelayRequest) {
		note("handle")
		close(handled)
	}

	var checkpointAtAccept uint64

	m, err := NewSubscriptionManager(client, d, SubscriptionConfig{
		Handlers: map[types.EventKind]Handler{types.FirstRequest: handler},
		Accept: func(context.Context, *types.RelayRequest) error {
			checkpointAtAccept = cps.last()
			note("accept")

			return errors.New("journal unavailable")
		},
		Checkpoints: cps,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- m.Run(ctx) }()

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	cancel()
	require.NoError(t, <-done)

	assert.Less(t, checkpointAtAccept, uint64(101))
	assert.Equal(t, uint64(101), cps.last())

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"accept", "handle"}, order)
}

func TestSubscriptionManager_RunDoesNotWaitForHandlers(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	backend := newFakeBackend()
	backend.subscribeLogs = append(backend.subscribeLogs,
		requestLog(t, d, types.FirstRequest, 101, [32]byte{8}, big.NewInt(0)))

	client, _ := newTestClient(t, backend)

	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	m, err := NewSubscriptionManager(client, d, SubscriptionConfig{
		Handlers: map[types.EventKind]Handler{
			types.FirstRequest: func(context.Context, *types.RelayRequest) {
				close(started)
				<-release
			},
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- m.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run waited for a blocked handler")
	}
}

func TestNewSubscriptionManager_RequiresHandlers(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, newFakeBackend())

	_, err := NewSubscriptionManager(client, NewDecoder(), SubscriptionConfig{})
	require.Error(t, err)
}
