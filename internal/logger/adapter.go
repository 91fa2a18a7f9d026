package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapWriter adapts a zap logger to io.Writer, used for http.Server.ErrorLog.
type ZapWriter struct {
	logger *zap.Logger
	level  zapcore.Level
	prefix string
}

// NewZapWriter logs every written line at level. prefix, when set, is added as a field.
func NewZapWriter(logger *zap.Logger, level zapcore.Level, prefix string) *ZapWriter {
	return &ZapWriter{
		logger: logger.WithOptions(zap.AddCallerSkip(1)),
		level:  level,
		prefix: prefix,
	}
}

func (w *ZapWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}

	if ce := w.logger.Check(w.level, msg); ce != nil {
		if w.prefix != "" {
			ce.Write(zap.String("prefix", w.prefix))
		} else {
			ce.Write()
		}
	}
	return len(p), nil
}
