package utils

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateRetryDelay(t *testing.T) {
	base, maxDelay := 100*time.Millisecond, time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, time.Second},
	}
	for _, tt := range tests {
		got := CalculateRetryDelay(tt.attempt, base, maxDelay, BackoffFactor, JitterRange)
		assert.InDelta(t, float64(tt.want), float64(got), float64(tt.want)*JitterRange+1, "attempt %d", tt.attempt)
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, IsRetryableHTTPStatus(code), code)
	}
	for _, code := range []int{http.StatusOK, http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound} {
		assert.False(t, IsRetryableHTTPStatus(code), code)
	}
}

func TestRetryPolicyWaitHonorsContext(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Wait(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)

	fast := RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	assert.NoError(t, fast.Wait(context.Background(), 0))
}

func TestConfigureLogger(t *testing.T) {
	file := filepath.Join(t.TempDir(), LogFile)
	require.NoError(t, ConfigureLogger("debug", file))
	defer func() {
		GetLogger().SetOutput(os.Stderr)
		GetLogger().SetLevel(logrus.InfoLevel)
	}()

	assert.Equal(t, logrus.DebugLevel, GetLogger().GetLevel())
	GetLogger().WithField("k", "v").Info("hello")
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)

	assert.Error(t, ConfigureLogger("loud", ""))
}
