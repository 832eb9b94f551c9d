package hsm

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerSpecNext(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 2, 30, 0, time.UTC)

	once := &timerSpec{delay: time.Second}
	d, ok := once.next(now, true)
	assert.True(t, ok)
	assert.Equal(t, time.Second, d)
	_, ok = once.next(now, false)
	assert.False(t, ok)

	every := &timerSpec{delay: time.Second, interval: time.Minute}
	d, ok = every.next(now, false)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, d)

	schedule, err := cron.ParseStandard("*/5 * * * *")
	require.NoError(t, err)
	cronSpec := &timerSpec{schedule: schedule}
	d, ok = cronSpec.next(now, true)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Minute+30*time.Second, d)
}
