package flow

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleKeyedReplacesPendingTimer(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	var fired atomic.Int32
	first, err := timer.ScheduleKeyed("reset:1", time.Hour, "first", func(string) { fired.Add(1) })
	require.NoError(t, err)
	second, err := timer.ScheduleKeyed("reset:1", time.Hour, "second", func(string) { fired.Add(1) })
	require.NoError(t, err)

	assert.False(t, timer.IsCurrent("reset:1", first))
	assert.True(t, timer.IsCurrent("reset:1", second))
	active := timer.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, "second", active[0].Description)
}

func TestCancelKey(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	var fired atomic.Int32
	_, err := timer.ScheduleKeyed("k", 20*time.Millisecond, "", func(string) { fired.Add(1) })
	require.NoError(t, err)
	assert.True(t, timer.CancelKey("k"))
	assert.False(t, timer.CancelKey("k"))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestKeyedTimerFiresWithItsID(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	got := make(chan bool, 1)
	id, err := timer.ScheduleKeyed("k", 5*time.Millisecond, "", func(firedID string) {
		got <- timer.IsCurrent("k", firedID)
	})
	require.NoError(t, err)
	select {
	case current := <-got:
		assert.True(t, current)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	require.Eventually(t, func() bool { return !timer.IsCurrent("k", id) }, time.Second, time.Millisecond)
	_, err = timer.GetTimer(id)
	assert.Error(t, err)
}

func TestCancelByID(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	id, err := timer.ScheduleAfter(time.Hour, func() {})
	require.NoError(t, err)
	info, err := timer.GetTimer(id)
	require.NoError(t, err)
	assert.Equal(t, id, info.ID)

	require.NoError(t, timer.Cancel(id))
	assert.Error(t, timer.Cancel(id))
	assert.Empty(t, timer.ListActive())
}

func TestScheduleKeyedRequiresKey(t *testing.T) {
	timer := NewSimpleTimer()
	_, err := timer.ScheduleKeyed("", time.Second, "", func(string) {})
	assert.Error(t, err)
}
