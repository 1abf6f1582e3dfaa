package audit

import (
	"context"
	"log"
)

// LogSink writes Events as single structured log lines. It cannot
// answer LatestEntryHash durably (stdout isn't queryable), so every
// entry it mirrors carries an empty PreviousHash — fine for a sink
// whose purpose is operator visibility, not a verifiable chain.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink wraps logger. A nil logger falls back to the standard
// logger writing to log.Writer().
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.New(log.Writer(), "[audit] ", log.LstdFlags)
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(_ context.Context, event Event) error {
	s.logger.Printf("entity=%s/%s chain=%s phase=%s action=%q hash=%s",
		event.EntityType, event.EntityID, event.Chain, event.Phase, event.Action, event.EntryHash)
	return nil
}

func (s *LogSink) LatestEntryHash(_ context.Context, _ string) (string, error) {
	return "", nil
}
