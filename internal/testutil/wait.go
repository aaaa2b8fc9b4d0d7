package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Default bounds for Eventually. Filesystem notification latency dominates,
// so the wait is generous and the poll tight.
const (
	WaitTimeout = 5 * time.Second
	WaitTick    = 10 * time.Millisecond
)

// Eventually fails the test unless cond becomes true within WaitTimeout.
func Eventually(t testing.TB, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, WaitTimeout, WaitTick, msgAndArgs...)
}

// Never fails the test if cond becomes true within d.
func Never(t testing.TB, cond func() bool, d time.Duration, msgAndArgs ...any) {
	t.Helper()
	require.Never(t, cond, d, WaitTick, msgAndArgs...)
}
