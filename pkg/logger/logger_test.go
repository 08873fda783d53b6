package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewDefaults(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	assert.NotNil(t, l)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
}

func TestInitReplacesGlobal(t *testing.T) {
	require.NoError(t, Init(Config{Level: "error", Encoding: "console"}))
	assert.False(t, Get().Core().Enabled(zapcore.InfoLevel))

	require.NoError(t, Init(DefaultConfig()))
	assert.True(t, Get().Core().Enabled(zapcore.InfoLevel))
}

func TestWithContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), ModeKey, "statinef")
	ctx = context.WithValue(ctx, RunIDKey, "run-1")
	assert.NotNil(t, WithContext(ctx))
}
