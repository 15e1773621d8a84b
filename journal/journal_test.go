package journal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgr-network/xgr-relay/journal"
	"github.com/xgr-network/xgr-relay/journal/journaltest"
)

func TestMemory(t *testing.T) {
	t.Parallel()

	journaltest.RunStoreTests(t, func(t *testing.T) journal.Store {
		t.Helper()

		return journal.NewMemory()
	})
}

func TestStatus(t *testing.T) {
	t.Parallel()

	blocking := map[journal.Status]bool{
		journal.StatusSubmitted: true,
		journal.StatusFulfilled: true,
		journal.StatusDuplicate: true,
		journal.StatusFailed:    true,
		journal.StatusUnknown:   true,
	}

	for _, st := range journal.AllStatuses {
		assert.Equal(t, blocking[st], st.Blocks(), st)

		parsed, err := journal.ParseStatus(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, parsed)
	}

	assert.False(t, journal.StatusUnknown.Terminal())
	assert.True(t, journal.StatusUnknown.Unresolved())
	assert.False(t, journal.StatusDropped.Blocks())

	_, err := journal.ParseStatus("pending")
	require.Error(t, err)
}

func TestPromptHash(t *testing.T) {
	t.Parallel()

	a := journal.PromptHash("sys", "prompt")
	assert.Equal(t, a, journal.PromptHash("sys", "prompt"))
	assert.NotEqual(t, a, journal.PromptHash("", "sysprompt"))
	assert.NotEqual(t, a, journal.PromptHash("sys", "prompt2"))
}

func TestValidateBackend(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"", "memory", "leveldb", "postgres"} {
		require.NoError(t, journal.ValidateBackend(ok))
	}

	require.ErrorContains(t, journal.ValidateBackend("bolt"), "invalid journal backend")
}
