package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/collegeerp/internal/auth"
	"github.com/stretchr/testify/assert"
)

func TestTimingDelay_WaitFrom_PadsToBaseDelay(t *testing.T) {
	timing := auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 60, RandomDelayMs: 20})
	start := time.Now()

	timing.WaitFrom(context.Background(), start)

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, 250*time.Millisecond)
}

func TestTimingDelay_WaitFrom_AlreadyElapsed(t *testing.T) {
	timing := auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 50})
	start := time.Now().Add(-time.Second)

	before := time.Now()
	timing.WaitFrom(context.Background(), start)

	assert.Less(t, time.Since(before), 10*time.Millisecond)
}

func TestTimingDelay_WaitFrom_StopsOnCancel(t *testing.T) {
	timing := auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 5000})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	timing.WaitFrom(ctx, start)

	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestTimingDelay_NilReceiver(t *testing.T) {
	var timing *auth.TimingDelay

	start := time.Now()
	timing.WaitFrom(context.Background(), start)

	assert.Less(t, time.Since(start), 10*time.Millisecond)
}
