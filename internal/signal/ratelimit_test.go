package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCreateLimiterBlocksAfterLimit(t *testing.T) {
	rl := newCreateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("c1"), "attempt %d inside the limit", i+1)
	}
	assert.False(t, rl.Allow("c1"))

	// Other connections have their own window.
	assert.True(t, rl.Allow("c2"))
}

func TestCreateLimiterWindowSlides(t *testing.T) {
	rl := newCreateLimiter(1, 20*time.Millisecond)

	assert.True(t, rl.Allow("c1"))
	assert.False(t, rl.Allow("c1"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.Allow("c1"), "window expired, attempts allowed again")
}

func TestCreateLimiterForget(t *testing.T) {
	rl := newCreateLimiter(1, time.Minute)

	assert.True(t, rl.Allow("c1"))
	assert.False(t, rl.Allow("c1"))

	rl.Forget("c1")
	assert.True(t, rl.Allow("c1"))
}
