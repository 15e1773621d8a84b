package journal

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendLevelDB  Backend = "leveldb"
	BackendPostgres Backend = "postgres"
)

func ValidateBackend(b string) error {
	switch Backend(b) {
	case "", BackendMemory, BackendLevelDB, BackendPostgres:
		return nil
	default:
		return fmt.Errorf("invalid journal backend %q (allowed: %s|%s|%s)", b, BackendMemory, BackendLevelDB, BackendPostgres)
	}
}

// Params configure a journal backend. SubscriptionID namespaces all keys.
type Params struct {
	SubscriptionID string
	DataDir        string
	DSN            string
	Logger         hclog.Logger
}

// Factory opens a Store for one backend.
type Factory func(ctx context.Context, p Params) (Store, error)

// MemoryFactory ignores its params.
func MemoryFactory(context.Context, Params) (Store, error) {
	return NewMemory(), nil
}
