package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer_Hit(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		offset time.Duration
		fires  bool
	}{
		{"same instant", 0, false},
		{"half a second later", 500 * time.Millisecond, false},
		{"exactly the window", time.Second, false},
		{"just past the window", time.Second + time.Millisecond, true},
		{"clearly later", 5 * time.Second, true},
		{"earlier timestamp", -time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDebouncer(time.Second)
			assert.True(t, d.Hit("a.txt", "r1", t0), "first hit always fires")
			assert.Equal(t, tt.fires, d.Hit("a.txt", "r1", t0.Add(tt.offset)))
		})
	}
}

func TestDebouncer_SuppressedHitAdvancesWindow(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := newDebouncer(time.Second)

	assert.True(t, d.Hit("a.txt", "r1", t0))
	assert.False(t, d.Hit("a.txt", "r1", t0.Add(900*time.Millisecond)))
	// 1.8s after the first hit but only 0.9s after the suppressed one.
	assert.False(t, d.Hit("a.txt", "r1", t0.Add(1800*time.Millisecond)))
	assert.True(t, d.Hit("a.txt", "r1", t0.Add(3*time.Second)))
}

func TestDebouncer_KeysArePathAndRule(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := newDebouncer(time.Second)

	assert.True(t, d.Hit("a.txt", "r1", t0))
	assert.True(t, d.Hit("a.txt", "r2", t0), "different rule")
	assert.True(t, d.Hit("b.txt", "r1", t0), "different path")
	assert.Equal(t, 3, d.Len())
}

func TestDebouncer_ForgetRule(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := newDebouncer(time.Second)

	d.Hit("a.txt", "r1", t0)
	d.Hit("b.txt", "r1", t0)
	d.Hit("a.txt", "r2", t0)

	d.ForgetRule("r1")
	assert.Equal(t, 1, d.Len())
	assert.True(t, d.Hit("a.txt", "r1", t0))
}
