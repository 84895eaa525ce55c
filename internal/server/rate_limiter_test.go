package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsBurstThenDenies(t *testing.T) {
	rl := newRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "frame %d within burst", i)
	}
	assert.False(t, rl.allow(), "frame beyond burst")
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := newRateLimiter(1, 20*time.Millisecond)

	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
	assert.Eventually(t, rl.allow, time.Second, 5*time.Millisecond)
}

func TestRateLimiter_InvalidSettingsFallBack(t *testing.T) {
	rl := newRateLimiter(0, 0)

	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
}

func TestRateLimiter_NilAllowsEverything(t *testing.T) {
	var rl *rateLimiter
	assert.True(t, rl.allow())
}
