package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/progress"
)

// LogSink emits structured logs for debugging progress streams.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Queue updates
// are summarized by their counts; stage changes are logged at info, or at
// warn when a job fails.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Type {
		case progress.TypeQueueUpdate:
			snap := evt.Snapshot
			if snap == nil {
				continue
			}
			s.logger.Debug("queue update",
				zap.Uint64("version", evt.Version),
				zap.Int("pending", len(snap.Pending)),
				zap.Int("running", len(snap.Running)),
				zap.Int("completed", len(snap.Completed)),
				zap.Bool("processing", snap.IsProcessing),
				zap.Int("concurrency", snap.Concurrency),
			)
		case progress.TypeProcessing:
			fields := []zap.Field{
				zap.String("job_id", evt.Job.ID),
				zap.String("source", evt.Job.Source),
				zap.String("stage", string(evt.Stage)),
				zap.String("message", evt.Message),
			}
			if evt.Stage == progress.StageError {
				s.logger.Warn("job stage", fields...)
				continue
			}
			s.logger.Info("job stage", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
