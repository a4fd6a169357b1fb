package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/progress"
)

// Publisher delivers a payload to a named topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// CompletionNotice is the message published for every finished job.
type CompletionNotice struct {
	JobID          string    `json:"jobId"`
	Source         string    `json:"source"`
	OutputName     string    `json:"outputName"`
	Status         string    `json:"status"`
	ExtractedCount *int      `json:"extractedCount,omitempty"`
	Artifacts      []string  `json:"artifacts,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// PublisherSink publishes a CompletionNotice for each terminal stage event.
type PublisherSink struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink constructs a PublisherSink targeting topic.
func NewPublisherSink(publisher Publisher, topic string, logger *zap.Logger) (*PublisherSink, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logger}, nil
}

// Consume publishes terminal outcomes in batch order. A failed publish does
// not stop the rest of the batch; the errors are joined and returned.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		notice, ok := noticeFor(evt)
		if !ok {
			continue
		}
		id, err := s.publisher.Publish(ctx, s.topic, notice)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish completion for %s: %w", notice.JobID, err))
			continue
		}
		s.logger.Debug("completion published",
			zap.String("job_id", notice.JobID),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}

func noticeFor(evt progress.Event) (CompletionNotice, bool) {
	if evt.Type != progress.TypeProcessing || !evt.Stage.Terminal() {
		return CompletionNotice{}, false
	}
	notice := CompletionNotice{
		JobID:      evt.Job.ID,
		Source:     evt.Job.Source,
		OutputName: evt.Job.OutputName,
		Status:     string(evt.Stage),
		Timestamp:  evt.TS.UTC(),
	}
	if evt.Outcome != nil {
		notice.Status = string(evt.Outcome.Status)
		notice.ExtractedCount = evt.Outcome.ExtractedCount
		notice.Artifacts = evt.Outcome.Artifacts
		notice.Error = evt.Outcome.Error
	} else if evt.Stage == progress.StageError {
		notice.Error = evt.Message
	}
	return notice, true
}
