// Package backend resolves journal backends by name.
package backend

import (
	"context"
	"fmt"

	"github.com/xgr-network/xgr-relay/journal"
	"github.com/xgr-network/xgr-relay/journal/leveldb"
	"github.com/xgr-network/xgr-relay/journal/postgres"
)

// Default is used when no backend is configured.
const Default = journal.BackendLevelDB

var journalBackends = map[journal.Backend]journal.Factory{
	journal.BackendMemory:   journal.MemoryFactory,
	journal.BackendLevelDB:  leveldb.Factory,
	journal.BackendPostgres: postgres.Factory,
}

func Supported(name string) bool {
	_, ok := journalBackends[journal.Backend(name)]

	return ok
}

// Open validates name and opens the journal for p.SubscriptionID.
func Open(ctx context.Context, name string, p journal.Params) (journal.Store, error) {
	if err := journal.ValidateBackend(name); err != nil {
		return nil, err
	}

	b := journal.Backend(name)
	if b == "" {
		b = Default
	}

	factory, ok := journalBackends[b]
	if !ok {
		return nil, fmt.Errorf("journal backend %q not registered", b)
	}

	if p.Logger != nil {
		p.Logger.Debug("opening journal", "backend", b, "subscription", p.SubscriptionID)
	}

	return factory(ctx, p)
}
