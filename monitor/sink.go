package monitor

import (
	"log/slog"
	"strings"
)

const separatorWidth = 48

var (
	separatorGenerator = strings.Repeat("-", separatorWidth)
	separatorExecutor  = strings.Repeat("=", separatorWidth)
	separatorValidator = strings.Repeat("*", separatorWidth)
)

// LogSink writes every status line to Logger followed by a separator line
// that tells the roles apart at a glance.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Generator(content string) {
	s.write("Generator", content, separatorGenerator)
}

func (s *LogSink) Executor(content string) {
	s.write("Executor", content, separatorExecutor)
}

func (s *LogSink) Validator(content string) {
	s.write("Validator", content, separatorValidator)
}

func (s *LogSink) write(role, content, separator string) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info(role + ": " + content)
	logger.Info(separator)
}
