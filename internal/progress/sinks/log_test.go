package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/scrape-queue/internal/job"
	"github.com/JakeFAU/scrape-queue/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	j := job.Job{ID: "abc", Source: "https://stats.example.org/stats/2024"}
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		progress.QueueUpdate(job.Snapshot{Pending: []job.Job{j}, Concurrency: 3}, now),
		progress.Processing(j, progress.StageScraping, "", now),
		progress.Processing(j, progress.StageError, "exit status 1", now),
	}))

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	require.Equal(t, zapcore.DebugLevel, entries[0].Level)
	require.EqualValues(t, 1, entries[0].ContextMap()["pending"])
	require.Equal(t, zapcore.InfoLevel, entries[1].Level)
	require.Equal(t, "scraping", entries[1].ContextMap()["stage"])
	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
	require.Equal(t, "abc", entries[2].ContextMap()["job_id"])
}
