package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrSubmissionReverted = errors.New("submission reverted")
	ErrAlreadyFulfilled   = errors.New("request already fulfilled")
	ErrSubmissionTimeout  = errors.New("submission timeout")
)

// RevertError is a rejected fulfilment. TxHash is zero when the revert was
// caught during gas estimation and nothing was sent.
type RevertError struct {
	Reason string
	TxHash common.Hash
}

func (e *RevertError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "unknown reason"
	}

	if e.TxHash == (common.Hash{}) {
		return fmt.Sprintf("submission reverted in preflight: %s", reason)
	}

	return fmt.Sprintf("submission reverted (tx %s): %s", e.TxHash, reason)
}

func (e *RevertError) Is(target error) bool {
	switch target {
	case ErrSubmissionReverted:
		return true
	case ErrAlreadyFulfilled:
		return IsAlreadyFulfilledReason(e.Reason)
	default:
		return false
	}
}

// IsAlreadyFulfilledReason matches the consumer's duplicate-fulfilment revert.
func IsAlreadyFulfilledReason(reason string) bool {
	r := strings.ToLower(reason)

	return strings.Contains(r, "already fulfilled") || strings.Contains(r, "alreadyfulfilled")
}

// TimeoutError means the transaction was sent but not mined in time; its
// outcome is unknown and it must not be resent blindly.
type TimeoutError struct {
	TxHash common.Hash
	Err    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transaction %s not confirmed in time: %v", e.TxHash, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool { return target == ErrSubmissionTimeout }

// DecodeError is a request event that could not be decoded; it is dropped.
type DecodeError struct {
	Event       string
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s log %s:%d (block %d): %v", e.Event, e.TxHash, e.LogIndex, e.BlockNumber, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
