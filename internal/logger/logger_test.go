package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLogLevel verifies mapping from settings strings to zap levels.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		" warn ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok, s)
		require.Equal(t, lvl, got, s)
	}

	_, ok := ParseLogLevel("verbose")
	require.False(t, ok)
}

// TestContextLogger checks that named and enriched loggers travel through the context.
func TestContextLogger(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)

	ctx := ToContext(context.Background(), zap.New(core).Sugar())
	ctx = WithName(ctx, "packager")
	ctx = WithName(ctx, "builder")
	ctx = WithKV(ctx, "command", "cargo build -r")

	InfoKV(ctx, "Running release build", "dir", ".")
	Debug(ctx, "details")

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "packager.builder", entries[0].LoggerName)
	require.Equal(t, "Running release build", entries[0].Message)
	require.Equal(t, "cargo build -r", entries[0].ContextMap()["command"])
	require.Equal(t, ".", entries[0].ContextMap()["dir"])
	require.Equal(t, zapcore.DebugLevel, entries[1].Level)
}

// TestFromContextFallsBackToGlobal ensures a bare context still yields a usable logger.
func TestFromContextFallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))
}
