// Package notify provides the default types.NotificationSink: structured log lines at warn
// level. No example repo in the pack wires a chat/webhook notification library, so this stays
// on zap rather than inventing a dependency with nothing to ground it on.
package notify

import "go.uber.org/zap"

// LogSink logs every notification through zap rather than delivering it anywhere external.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink builds a LogSink. log may be nil, in which case notifications are discarded.
func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log.Named("notify")}
}

func (s *LogSink) Notify(text string) {
	s.log.Warn("fleet notification", zap.String("text", text))
}
