package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SanitizerCore wraps a zapcore.Core and masks the values of sensitive
// fields, including keys nested in map[string]any fields such as audit details.
type SanitizerCore struct {
	zapcore.Core
	sensitive map[string]struct{}
	mask      string
}

func NewSanitizerCore(core zapcore.Core, sensitiveFields []string, mask string) *SanitizerCore {
	sensitive := make(map[string]struct{}, len(sensitiveFields))
	for _, f := range sensitiveFields {
		sensitive[strings.ToLower(f)] = struct{}{}
	}
	return &SanitizerCore{Core: core, sensitive: sensitive, mask: mask}
}

func (s *SanitizerCore) With(fields []zapcore.Field) zapcore.Core {
	return &SanitizerCore{
		Core:      s.Core.With(s.sanitizeFields(fields)),
		sensitive: s.sensitive,
		mask:      s.mask,
	}
}

func (s *SanitizerCore) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, s)
	}
	return checkedEntry
}

func (s *SanitizerCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return s.Core.Write(entry, s.sanitizeFields(fields))
}

func (s *SanitizerCore) isSensitive(key string) bool {
	_, ok := s.sensitive[strings.ToLower(key)]
	return ok
}

func (s *SanitizerCore) sanitizeFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	copy(out, fields)

	for i, field := range out {
		if s.isSensitive(field.Key) {
			out[i] = zap.String(field.Key, s.mask)
			continue
		}
		if m, ok := field.Interface.(map[string]any); ok && field.Type == zapcore.ReflectType {
			out[i] = zap.Any(field.Key, s.sanitizeMap(m))
		}
	}
	return out
}

// sanitizeMap returns a masked copy; the caller's map is never modified.
func (s *SanitizerCore) sanitizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case s.isSensitive(k):
			out[k] = s.mask
		default:
			if nested, ok := v.(map[string]any); ok {
				out[k] = s.sanitizeMap(nested)
			} else {
				out[k] = v
			}
		}
	}
	return out
}
