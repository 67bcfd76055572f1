package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitepdf/internal/logging"
	"github.com/JakeFAU/sitepdf/internal/progress"
)

// LogSink emits structured logs for progress streams. It is useful during
// development, or to audit what a client was told when its connection dropped.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the consumer interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logging.OrNop(logger)}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("type", string(evt.Type)),
			zap.Time("ts", evt.TS),
		}
		switch data := evt.Data.(type) {
		case progress.Update:
			fields = append(fields,
				zap.String("message", data.Message),
				zap.String("url", data.URL),
				zap.Int("current", data.Current),
				zap.Int("total", data.Total),
				zap.Int("percentage", data.Percentage),
			)
		case progress.Summary:
			fields = append(fields,
				zap.String("pdf_path", data.PDFPath),
				zap.Int("total_pages", data.TotalPages),
				zap.Int64("file_size", data.FileSize),
			)
		case progress.Failure:
			fields = append(fields, zap.String("error", data.Message))
		}
		if evt.Type == progress.TypeError {
			s.logger.Warn("progress event", fields...)
			continue
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Consumer interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
