package job

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusRunning, StatusDone, true},
		{StatusRunning, StatusFailed, true},
		{StatusQueued, StatusDone, false},
		{StatusQueued, StatusFailed, false},
		{StatusDone, StatusRunning, false},
		{StatusFailed, StatusQueued, false},
		{StatusRunning, StatusQueued, false},
		{StatusDone, StatusDone, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestJobLifecycleSuccess(t *testing.T) {
	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	j := New("id-1", "copy", "identity", "rule-1", "start/data.txt", []string{"python3"}, created)
	assert.Equal(t, StatusQueued, j.Status)
	assert.Nil(t, j.Start)

	require.NoError(t, j.Transition(StatusRunning, created.Add(time.Second), ""))
	require.NotNil(t, j.Start)
	assert.Equal(t, created.Add(time.Second), *j.Start)

	require.NoError(t, j.Transition(StatusDone, created.Add(2*time.Second), "ignored"))
	assert.Equal(t, StatusDone, j.Status)
	require.NotNil(t, j.End)
	assert.Empty(t, j.Error)
	assert.True(t, j.Status.Terminal())
}

func TestJobLifecycleFailure(t *testing.T) {
	j := New("id-1", "copy", "identity", "rule-1", "start/data.txt", nil, time.Now())
	require.NoError(t, j.Transition(StatusRunning, time.Now(), ""))
	require.NoError(t, j.Transition(StatusFailed, time.Now(), "result.ipynb was not created"))
	assert.Equal(t, "result.ipynb was not created", j.Error)

	err := j.Transition(StatusDone, time.Now(), "")
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StatusFailed, te.From)
	assert.Equal(t, StatusDone, te.To)
	assert.Equal(t, StatusFailed, j.Status, "status unchanged after rejected transition")
}

func TestNewCopiesRequirements(t *testing.T) {
	reqs := []string{"gpu"}
	j := New("id", "p", "r", "rule", "a", reqs, time.Now())
	reqs[0] = "changed"
	assert.Equal(t, []string{"gpu"}, j.Requirements)
}
