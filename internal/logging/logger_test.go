package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCriticalCarriesAlert(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := SetLogger(zap.New(core))
	defer restore()

	Critical("reconciliation_failed", Fields{TaskID: "t-1", Component: "ledger", Amount: 1500})

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	require.Equal(t, "t-1", ctx["task_id"])
	require.Equal(t, "ledger", ctx["component"])
	require.Equal(t, int64(1500), ctx["amount"])
	require.Equal(t, true, ctx["alert"])
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestEmptyFieldsOmitted(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := SetLogger(zap.New(core))
	defer restore()

	Info("task_posted", Fields{TaskID: "t-2"})

	ctx := logs.All()[0].ContextMap()
	require.Len(t, ctx, 1)
	require.NotContains(t, ctx, "offer_id")
}

func TestEmptyMessageDropped(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := SetLogger(zap.New(core))
	defer restore()

	Warn("", Fields{})
	require.Zero(t, logs.Len())
}

func TestLevelFromEnv(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, levelFromEnv("DEBUG"))
	require.Equal(t, zapcore.ErrorLevel, levelFromEnv("critical"))
	require.Equal(t, zapcore.InfoLevel, levelFromEnv("bogus"))
}
