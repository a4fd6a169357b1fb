package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/scrape-queue/internal/config"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(config.LoggingConfig{Development: true, Level: "debug"})
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	logger.Debug("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(config.LoggingConfig{Level: "warn"})
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	level, err := ParseLevel("")
	require.NoError(t, err)
	require.Equal(t, zapcore.InfoLevel, level)

	level, err = ParseLevel(" ERROR ")
	require.NoError(t, err)
	require.Equal(t, zapcore.ErrorLevel, level)

	_, err = New(config.LoggingConfig{Level: "loud"})
	require.Error(t, err)
}
