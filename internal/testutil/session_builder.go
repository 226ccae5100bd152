package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/concierge/core"
)

// SeedSession appends messages to a store, failing the test on error.
func SeedSession(t *testing.T, store core.SessionStore, sessionKey string, msgs ...core.Message) {
	t.Helper()
	for _, msg := range msgs {
		require.NoError(t, store.Append(sessionKey, msg))
	}
}

// SeedMemory writes memory facts to a store, failing the test on error.
func SeedMemory(t *testing.T, store core.SessionStore, sessionKey string, facts map[string]string) {
	t.Helper()
	for k, v := range facts {
		require.NoError(t, store.SetMemory(sessionKey, k, v))
	}
}
