package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/xgr-network/xgr-relay/journal"
)

// ReceiptSource looks up the fate of a sent transaction.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error)
}

// Reconciler settles journal entries whose on-chain outcome is unknown and
// picks the block the subscription resumes from.
type Reconciler struct {
	journal journal.Store
	source  ReceiptSource
	logger  hclog.Logger
}

func NewReconciler(store journal.Store, source ReceiptSource, logger hclog.Logger) *Reconciler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Reconciler{journal: store, source: source, logger: logger.Named("reconcile")}
}

// Report summarises one reconciliation pass.
type Report struct {
	Checked  int
	Resolved map[journal.Status]int
	// Pending transactions are still in the mempool and stay unknown.
	Pending int
	// StartBlock is where event delivery resumes; valid when HasStart.
	StartBlock uint64
	HasStart   bool
}

// Reconcile resolves submitted and unknown records by receipt lookup. Lookup
// errors are aggregated; the remaining records are still processed.
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	report := &Report{Resolved: make(map[journal.Status]int)}

	unresolved, err := journal.Unresolved(ctx, r.journal)
	if err != nil {
		return nil, fmt.Errorf("list unresolved records: %w", err)
	}

	var result *multierror.Error

	for _, rec := range unresolved {
		report.Checked++

		status, err := r.resolve(ctx, rec)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", rec.RequestID.Short(), err))

			continue
		}

		if status == journal.StatusUnknown {
			report.Pending++

			continue
		}

		_, err = journal.Update(ctx, r.journal, rec.RequestID, func(u *journal.Record) {
			u.Status = status
			if status == journal.StatusFailed {
				u.Error = "transaction reverted"
			}
		})
		if err != nil {
			result = multierror.Append(result, err)

			continue
		}

		report.Resolved[status]++

		r.logger.Info("record resolved", "request", rec.RequestID.Short(), "tx", rec.TxHash, "status", status)
	}

	if err := r.startBlock(ctx, report); err != nil {
		result = multierror.Append(result, err)
	}

	return report, result.ErrorOrNil()
}

func (r *Reconciler) resolve(ctx context.Context, rec *journal.Record) (journal.Status, error) {
	if rec.TxHash == (common.Hash{}) {
		return journal.StatusDropped, nil
	}

	receipt, err := r.source.TransactionReceipt(ctx, rec.TxHash)

	switch {
	case err == nil && receipt != nil:
		if receipt.Status == gethtypes.ReceiptStatusSuccessful {
			return journal.StatusFulfilled, nil
		}

		return journal.StatusFailed, nil
	case err != nil && !errors.Is(err, ethereum.NotFound):
		return "", fmt.Errorf("receipt %s: %w", rec.TxHash, err)
	}

	_, _, err = r.source.TransactionByHash(ctx, rec.TxHash)

	switch {
	case errors.Is(err, ethereum.NotFound):
		return journal.StatusDropped, nil
	case err != nil:
		return "", fmt.Errorf("transaction %s: %w", rec.TxHash, err)
	default:
		// pending, or mined with the receipt not served yet
		return journal.StatusUnknown, nil
	}
}

// startBlock resumes from the checkpoint, or earlier when an interrupted
// request was accepted before it.
var nonTerminal = []journal.Status{
	journal.StatusAccepted,
	journal.StatusCompleted,
	journal.StatusSubmitted,
	journal.StatusUnknown,
	journal.StatusDropped,
}

func (r *Reconciler) startBlock(ctx context.Context, report *Report) error {
	block, ok, err := r.journal.Checkpoint(ctx)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}

	if ok {
		report.StartBlock, report.HasStart = block, true
	}

	// dropped records are only replayed if their block is delivered again
	oldest, err := r.journal.List(ctx, journal.Filter{
		Statuses: nonTerminal,
		Limit:    1,
	})
	if err != nil {
		return fmt.Errorf("list non-terminal records: %w", err)
	}

	if len(oldest) > 0 && (!report.HasStart || oldest[0].BlockNumber < report.StartBlock) {
		report.StartBlock, report.HasStart = oldest[0].BlockNumber, true
	}

	return nil
}
