// Package journal is the durable record of every request the relay touched.
package journal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/xgr-network/xgr-relay/types"
)

var ErrNotFound = errors.New("journal record not found")

type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusSubmitted Status = "submitted"
	StatusFulfilled Status = "fulfilled"
	StatusDuplicate Status = "duplicate"
	StatusFailed    Status = "failed"
	StatusUnknown   Status = "unknown"
	StatusDropped   Status = "dropped"
)

var AllStatuses = []Status{
	StatusAccepted, StatusCompleted, StatusSubmitted, StatusFulfilled,
	StatusDuplicate, StatusFailed, StatusUnknown, StatusDropped,
}

func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}

	return "", fmt.Errorf("unknown journal status %q", s)
}

// Terminal statuses are never revisited.
func (s Status) Terminal() bool {
	switch s {
	case StatusFulfilled, StatusDuplicate, StatusFailed:
		return true
	default:
		return false
	}
}

// Blocks reports whether a request in this status must not be processed again.
// Submitted and unknown records may already be on-chain.
func (s Status) Blocks() bool {
	return s.Terminal() || s == StatusSubmitted || s == StatusUnknown
}

// Unresolved statuses are handed to the reconciler on startup.
func (s Status) Unresolved() bool {
	return s == StatusSubmitted || s == StatusUnknown
}

type Record struct {
	RequestID   types.RequestID `json:"requestId"`
	Kind        types.EventKind `json:"kind"`
	Status      Status          `json:"status"`
	BlockNumber uint64          `json:"blockNumber"`
	TxHash      common.Hash     `json:"txHash"`
	PromptHash  common.Hash     `json:"promptHash"`
	Attempts    int             `json:"attempts"`
	Error       string          `json:"error,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (r *Record) Clone() *Record {
	c := *r

	return &c
}

// Filter selects records in List. Zero values match everything.
type Filter struct {
	Statuses []Status
	Kind     types.EventKind
	Limit    int
}

func (f Filter) Match(r *Record) bool {
	if f.Kind != 0 && r.Kind != f.Kind {
		return false
	}

	if len(f.Statuses) == 0 {
		return true
	}

	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}

	return false
}

// Store persists records and the subscription checkpoint of one
// subscription namespace.
type Store interface {
	Get(ctx context.Context, id types.RequestID) (*Record, error)
	Put(ctx context.Context, r *Record) error
	// List returns matching records, oldest block first.
	List(ctx context.Context, f Filter) ([]*Record, error)
	Checkpoint(ctx context.Context) (uint64, bool, error)
	SetCheckpoint(ctx context.Context, block uint64) error
	Close() error
}

// PromptHash is the keccak256 fingerprint of a rendered prompt.
func PromptHash(system, prompt string) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(system))
	h.Write([]byte{0})
	h.Write([]byte(prompt))

	var out common.Hash
	h.Sum(out[:0])

	return out
}

// SortRecords orders by block number, then request id.
func SortRecords(rs []*Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].BlockNumber != rs[j].BlockNumber {
			return rs[i].BlockNumber < rs[j].BlockNumber
		}

		return string(rs[i].RequestID[:]) < string(rs[j].RequestID[:])
	})
}

// Unresolved lists submitted and unknown records.
func Unresolved(ctx context.Context, s Store) ([]*Record, error) {
	return s.List(ctx, Filter{Statuses: []Status{StatusSubmitted, StatusUnknown}})
}

// Update loads the record of id, applies fn and writes it back. A missing
// record starts out empty.
func Update(ctx context.Context, s Store, id types.RequestID, fn func(*Record)) (*Record, error) {
	r, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		r = &Record{RequestID: id}
	} else if err != nil {
		return nil, err
	}

	fn(r)
	r.UpdatedAt = time.Now().UTC()

	if err := s.Put(ctx, r); err != nil {
		return nil, err
	}

	return r, nil
}
