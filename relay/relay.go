// Package relay drives request events through completion and on-chain fulfilment.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"

	"github.com/xgr-network/xgr-relay/chain"
	"github.com/xgr-network/xgr-relay/completion"
	"github.com/xgr-network/xgr-relay/journal"
	"github.com/xgr-network/xgr-relay/metrics"
	"github.com/xgr-network/xgr-relay/prompt"
	"github.com/xgr-network/xgr-relay/types"
)

const (
	// DefaultRecentSize is the number of finished request ids kept in memory.
	DefaultRecentSize = 4096
	// DefaultSubmitTimeout bounds one submission, mining wait included.
	DefaultSubmitTimeout = 5 * time.Minute
)

// Duplicate reasons reported to metrics.
const (
	reasonInFlight = "in_flight"
	reasonRecent   = "recent"
	reasonJournal  = "journal"
)

// Submitter writes a fulfilment on-chain.
type Submitter interface {
	Submit(ctx context.Context, sub chain.Submission) (*chain.Receipt, error)
}

var _ Submitter = (*chain.Submitter)(nil)

// Config wires a Relay to its collaborators. Prompts, Completer and
// Submitter are required.
type Config struct {
	Prompts   *prompt.Set
	Completer completion.Completer
	Submitter Submitter
	// Journal defaults to an in-memory store.
	Journal journal.Store
	Metrics *metrics.Metrics
	// RecentSize bounds the cache of recently finished request ids.
	RecentSize int
	// SubmitTimeout bounds the submission phase, which ignores cancellation.
	SubmitTimeout time.Duration
	Logger        hclog.Logger
}

// Relay turns request events into on-chain fulfilments, at most one unit
// of work per request id at a time.
type Relay struct {
	prompts   *prompt.Set
	completer completion.Completer
	submitter Submitter
	journal   journal.Store
	metrics   *metrics.Metrics
	timeout   time.Duration
	logger    hclog.Logger

	mu       sync.Mutex
	inFlight map[types.RequestID]string
	closed   bool
	recent   *lru.Cache
	tasks    sync.WaitGroup
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Relay, error) {
	if cfg.Prompts == nil || cfg.Completer == nil || cfg.Submitter == nil {
		return nil, errors.New("relay needs prompts, a completer and a submitter")
	}

	if cfg.Journal == nil {
		cfg.Journal = journal.NewMemory()
	}

	if cfg.RecentSize <= 0 {
		cfg.RecentSize = DefaultRecentSize
	}

	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}

	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	recent, err := lru.New(cfg.RecentSize)
	if err != nil {
		return nil, err
	}

	return &Relay{
		prompts:   cfg.Prompts,
		completer: cfg.Completer,
		submitter: cfg.Submitter,
		journal:   cfg.Journal,
		metrics:   cfg.Metrics,
		timeout:   cfg.SubmitTimeout,
		logger:    cfg.Logger.Named("relay"),
		inFlight:  make(map[types.RequestID]string),
		recent:    recent,
	}, nil
}

// InFlight is the number of requests currently being processed.
func (r *Relay) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.inFlight)
}

// Dispatch runs OnEvent as a tracked task and logs its failure. It is the
// subscription handler of every event kind.
func (r *Relay) Dispatch(ctx context.Context, req *types.RelayRequest) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("relay shutting down, event not processed", "request", req)

		return
	}
	r.tasks.Add(1)
	r.mu.Unlock()

	defer r.tasks.Done()

	if err := r.OnEvent(ctx, req); err != nil {
		r.logger.Error("request failed", "request", req.RequestID.Short(), "kind", req.Kind, "err", err)
	}
}

// Handlers maps every kind the prompt set covers to Dispatch.
func (r *Relay) Handlers() map[types.EventKind]chain.Handler {
	out := make(map[types.EventKind]chain.Handler)
	for _, k := range r.prompts.Kinds() {
		out[k] = r.Dispatch
	}

	return out
}

// Shutdown stops accepting events and waits for tracked tasks until ctx ends.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})

	go func() {
		r.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d requests still in flight: %w", r.InFlight(), ctx.Err())
	}
}

// Accept journals req as accepted unless the journal already knows it or
// the request is being processed. It runs on the delivery path, before the
// checkpoint passes the request's block.
func (r *Relay) Accept(ctx context.Context, req *types.RelayRequest) error {
	if req == nil {
		return errors.New("nil request")
	}

	if r.recent.Contains(req.RequestID) {
		return nil
	}

	if !r.acquire(req.RequestID, "accept") {
		return nil
	}
	defer r.release(req.RequestID)

	_, err := r.journal.Get(ctx, req.RequestID)
	if err == nil {
		return nil
	}

	if !errors.Is(err, journal.ErrNotFound) {
		return fmt.Errorf("journal lookup: %w", err)
	}

	return r.journal.Put(context.WithoutCancel(ctx), &journal.Record{
		RequestID:   req.RequestID,
		Kind:        req.Kind,
		Status:      journal.StatusAccepted,
		BlockNumber: req.BlockNumber,
		UpdatedAt:   time.Now().UTC(),
	})
}

// SetCheckpoint records the subscription checkpoint in the journal.
func (r *Relay) SetCheckpoint(ctx context.Context, block uint64) error {
	r.metrics.SetCheckpoint(block)

	return r.journal.SetCheckpoint(ctx, block)
}

// OnEvent processes one request end to end. Duplicates and "already
// fulfilled" reverts return nil.
func (r *Relay) OnEvent(ctx context.Context, req *types.RelayRequest) error {
	if req == nil {
		return errors.New("nil request")
	}

	r.metrics.EventReceived(req.Kind)

	task := uuid.NewString()
	logger := r.logger.With("request", req.RequestID.Short(), "kind", req.Kind, "task", task)

	if !r.acquire(req.RequestID, task) {
		logger.Debug("request already in flight, skipping")
		r.metrics.Duplicate(reasonInFlight)

		return nil
	}
	defer r.release(req.RequestID)

	if reason, dup := r.done(ctx, req.RequestID, logger); dup {
		logger.Debug("request already handled, skipping", "source", reason)
		r.metrics.Duplicate(reason)

		return nil
	}

	r.record(ctx, req, logger, func(rec *journal.Record) {
		rec.Status = journal.StatusAccepted
		rec.Attempts++
		rec.Error = ""
		rec.TxHash = common.Hash{}
	})

	tmpl, err := r.prompts.Template(req.Kind)
	if err != nil {
		return r.drop(ctx, req, logger, err)
	}

	text, err := r.prompts.Build(req.Kind, req.Payload)
	if err != nil {
		return r.drop(ctx, req, logger, fmt.Errorf("build prompt: %w", err))
	}

	logger.Debug("prompt built", "length", len(text))

	start := time.Now()

	res, err := r.completer.Complete(ctx, completion.Request{
		RequestID: req.RequestID,
		System:    tmpl.System,
		Prompt:    text,
	})
	if err != nil {
		r.metrics.Completion(completionOutcome(err), start)

		return r.drop(ctx, req, logger, fmt.Errorf("complete: %w", err))
	}

	reply, err := r.prompts.Normalize(req.Kind, res.Text)
	if err != nil {
		r.metrics.Completion(metrics.OutcomeInvalid, start)

		return r.drop(ctx, req, logger, fmt.Errorf("%w: %v", completion.ErrInvalidResponse, err))
	}

	r.metrics.Completion(metrics.OutcomeOK, start)

	if res.Truncated {
		logger.Warn("completion truncated", "raw_length", res.RawLength, "finish_reason", res.FinishReason)
	}

	r.record(ctx, req, logger, func(rec *journal.Record) {
		rec.Status = journal.StatusCompleted
		rec.PromptHash = journal.PromptHash(tmpl.System, text)
	})

	return r.submit(ctx, req, reply, logger)
}

func (r *Relay) submit(ctx context.Context, req *types.RelayRequest, reply string, logger hclog.Logger) error {
	// a sent transaction is followed to its receipt even during shutdown
	subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	var sent common.Hash

	sub := chain.Submission{
		RequestID: req.RequestID,
		Kind:      req.Kind,
		Text:      reply,
		Sent: func(h common.Hash) {
			sent = h

			r.record(subCtx, req, logger, func(rec *journal.Record) {
				rec.Status = journal.StatusSubmitted
				rec.TxHash = h
			})
		},
	}

	if idx, ok := req.PlayerIndex(); ok {
		sub.PlayerIndex = idx
	}

	receipt, err := r.submitter.Submit(subCtx, sub)

	switch {
	case err == nil:
		r.metrics.Submission(metrics.OutcomeOK)
		r.finish(subCtx, req, logger, journal.StatusFulfilled, receipt.TxHash, "")
		logger.Info("request fulfilled", "tx", receipt.TxHash, "block", receipt.BlockNumber)

		return nil

	case errors.Is(err, chain.ErrAlreadyFulfilled):
		r.metrics.Submission(metrics.OutcomeDuplicate)
		r.finish(subCtx, req, logger, journal.StatusDuplicate, sent, err.Error())
		logger.Info("request was already fulfilled on-chain")

		return nil

	case errors.Is(err, chain.ErrSubmissionTimeout):
		r.metrics.Submission(metrics.OutcomeTimeout)

		var terr *chain.TimeoutError
		if errors.As(err, &terr) {
			sent = terr.TxHash
		}

		r.record(subCtx, req, logger, func(rec *journal.Record) {
			rec.Status = journal.StatusUnknown
			rec.TxHash = sent
			rec.Error = err.Error()
		})

		return fmt.Errorf("submit: %w", err)

	case errors.Is(err, chain.ErrSubmissionReverted):
		r.metrics.Submission(metrics.OutcomeReverted)
		r.finish(subCtx, req, logger, journal.StatusFailed, sent, err.Error())

		return fmt.Errorf("submit: %w", err)

	default:
		r.metrics.Submission(metrics.OutcomeError)

		// once a hash is known the transaction may still land
		status := journal.StatusDropped
		if sent != (common.Hash{}) {
			status = journal.StatusUnknown
		}

		r.record(subCtx, req, logger, func(rec *journal.Record) {
			rec.Status = status
			rec.TxHash = sent
			rec.Error = err.Error()
		})

		return fmt.Errorf("submit: %w", err)
	}
}

func (r *Relay) acquire(id types.RequestID, task string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.inFlight[id]; ok {
		return false
	}

	r.inFlight[id] = task
	r.metrics.SetInFlight(len(r.inFlight))

	return true
}

func (r *Relay) release(id types.RequestID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.inFlight, id)
	r.metrics.SetInFlight(len(r.inFlight))
}

// done reports whether id was already handled, by cache or journal.
func (r *Relay) done(ctx context.Context, id types.RequestID, logger hclog.Logger) (string, bool) {
	if r.recent.Contains(id) {
		return reasonRecent, true
	}

	rec, err := r.journal.Get(ctx, id)

	switch {
	case errors.Is(err, journal.ErrNotFound):
		return "", false
	case err != nil:
		logger.Warn("journal lookup failed, continuing", "err", err)

		return "", false
	}

	if rec.Status.Blocks() {
		if rec.Status.Terminal() {
			r.recent.Add(id, rec.Status)
		}

		return reasonJournal, true
	}

	return "", false
}

func (r *Relay) drop(ctx context.Context, req *types.RelayRequest, logger hclog.Logger, cause error) error {
	r.record(ctx, req, logger, func(rec *journal.Record) {
		rec.Status = journal.StatusDropped
		rec.Error = cause.Error()
	})

	return cause
}

func (r *Relay) finish(ctx context.Context, req *types.RelayRequest, logger hclog.Logger, status journal.Status, tx common.Hash, msg string) {
	r.recent.Add(req.RequestID, status)

	r.record(ctx, req, logger, func(rec *journal.Record) {
		rec.Status = status
		rec.Error = msg

		if tx != (common.Hash{}) {
			rec.TxHash = tx
		}
	})
}

// record applies fn to the journal entry of req. Journal failures are logged;
// they never fail the request.
func (r *Relay) record(ctx context.Context, req *types.RelayRequest, logger hclog.Logger, fn func(*journal.Record)) {
	_, err := journal.Update(context.WithoutCancel(ctx), r.journal, req.RequestID, func(rec *journal.Record) {
		rec.Kind = req.Kind
		rec.BlockNumber = req.BlockNumber
		fn(rec)
	})
	if err != nil {
		logger.Warn("journal write failed", "err", err)
	}
}

func completionOutcome(err error) string {
	switch {
	case errors.Is(err, completion.ErrRateLimited):
		return metrics.OutcomeRateLimit
	case errors.Is(err, completion.ErrInvalidResponse):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}
