package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelaySchedule(t *testing.T) {
	// 3s base, doubling per failed attempt, capped at 60s.
	assert.Equal(t, 3*time.Second, RetryDelay(1))
	assert.Equal(t, 6*time.Second, RetryDelay(2))
	assert.Equal(t, 12*time.Second, RetryDelay(3))
	assert.Equal(t, 24*time.Second, RetryDelay(4))
	assert.Equal(t, 48*time.Second, RetryDelay(5))
	assert.Equal(t, 60*time.Second, RetryDelay(6))
	assert.Equal(t, 60*time.Second, RetryDelay(50))
}

func TestRetryDelayClampsBadInput(t *testing.T) {
	assert.Equal(t, 3*time.Second, RetryDelay(0))
	assert.Equal(t, 3*time.Second, RetryDelay(-4))
}
