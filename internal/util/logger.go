package util

import (
	"fmt"
	"log"
	"log/slog"
	"strings"
)

// Logger wraps slog and provides traditional log.Printf style methods
type Logger struct {
	slogLogger *slog.Logger
}

// GetCompatLogger returns a logger that provides both slog and traditional log.Printf style methods
func GetCompatLogger() *Logger {
	return &Logger{
		slogLogger: GetLogger(),
	}
}

// Printf provides log.Printf compatibility while using slog internally
func (l *Logger) Printf(format string, v ...interface{}) {
	l.slogLogger.Info(fmt.Sprintf(format, v...))
}

// Debugf logs at debug level
func (l *Logger) Debugf(format string, v ...interface{}) {
	if IsVerbose() {
		l.slogLogger.Debug(fmt.Sprintf(format, v...))
	}
}

// Errorf logs at error level
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.slogLogger.Error(fmt.Sprintf(format, v...))
}

// Warnf logs at warn level
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.slogLogger.Warn(fmt.Sprintf(format, v...))
}

// Infof logs at info level
func (l *Logger) Infof(format string, v ...interface{}) {
	l.slogLogger.Info(fmt.Sprintf(format, v...))
}

// SetupGlobalLogger routes the standard log package (used by some
// libraries, e.g. net/http server errors) into slog.
func SetupGlobalLogger() {
	log.SetFlags(0)
	log.SetOutput(&logWriter{logger: GetLogger()})
}

type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
