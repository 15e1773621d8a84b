package postgres

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xgr-network/xgr-relay/journal"
	"github.com/xgr-network/xgr-relay/journal/journaltest"
)

var testSub atomic.Int64

// Runs against a real database only when RELAY_TEST_DB_DSN is set.
func TestStore(t *testing.T) {
	dsn := os.Getenv("RELAY_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("RELAY_TEST_DB_DSN not set")
	}

	journaltest.RunStoreTests(t, func(t *testing.T) journal.Store {
		t.Helper()

		sub := fmt.Sprintf("test-%d-%d", os.Getpid(), testSub.Add(1))

		s, err := Factory(context.Background(), journal.Params{SubscriptionID: sub, DSN: dsn})
		require.NoError(t, err)

		t.Cleanup(func() {
			st := s.(*Store)
			_, _ = st.pool.Exec(context.Background(), `DELETE FROM relay_requests WHERE subscription_id = $1`, sub)
			_, _ = st.pool.Exec(context.Background(), `DELETE FROM relay_checkpoints WHERE subscription_id = $1`, sub)
			_ = s.Close()
		})

		return s
	})
}
