package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/starmark/internal/progress"
)

// LogSink writes each event as a structured log line. Batch milestones log at
// info, per-URL stages at debug, failures at warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger; nil means no output.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{zap.String("stage", string(evt.Stage))}
		if evt.HasRun() {
			fields = append(fields, zap.Stringer("run_id", evt.RunUUID()))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL), zap.String("type", evt.Type))
		}
		if evt.Backend != "" {
			fields = append(fields, zap.String("backend", evt.Backend))
		}
		if evt.Stage == progress.StageBatchStart {
			fields = append(fields, zap.Int("total", evt.Total))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if ce := s.logger.Check(levelFor(evt.Stage), "progress event"); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageCrawlFailed, progress.StageCrawlDecodeError, progress.StageBatchError:
		return zapcore.WarnLevel
	}
	if stage.IsBatch() {
		return zapcore.InfoLevel
	}
	return zapcore.DebugLevel
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
