package logger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level            string       `json:"level"`
	OutputPaths      []string     `json:"outputPaths"`
	ErrorOutputPaths []string     `json:"errorOutputPaths"`
	Development      bool         `json:"development"`
	LogToConsole     bool         `json:"logToConsole"`
	Sampling         Sampling     `json:"sampling"`
	Encoding         Encoding     `json:"encodingConfig"`
	LogRotation      LogRotation  `json:"logRotation"`
	Async            Async        `json:"async"`
	Sanitization     Sanitization `json:"sanitization"`
}

type Sampling struct {
	Initial    int `json:"initial"`
	Thereafter int `json:"thereafter"`
}

type Encoding struct {
	TimeKey         string `json:"timeKey"`
	LevelKey        string `json:"levelKey"`
	NameKey         string `json:"nameKey"`
	CallerKey       string `json:"callerKey"`
	MessageKey      string `json:"messageKey"`
	StacktraceKey   string `json:"stacktraceKey"`
	LineEnding      string `json:"lineEnding"`
	LevelEncoder    string `json:"levelEncoder"`
	TimeEncoder     string `json:"timeEncoder"`
	DurationEncoder string `json:"durationEncoder"`
	CallerEncoder   string `json:"callerEncoder"`
}

type LogRotation struct {
	Enabled    bool `json:"enabled"`
	MaxSizeMB  int  `json:"maxSizeMB"`
	MaxBackups int  `json:"maxBackups"`
	MaxAgeDays int  `json:"maxAgeDays"`
	Compress   bool `json:"compress"`
}

// Async tunes the buffered writer in front of file outputs.
type Async struct {
	BufferSize    int `json:"bufferSize"`
	BatchSize     int `json:"batchSize"`
	FlushInterval int `json:"flushIntervalMs"`
}

// Sanitization configures sensitive field sanitization.
type Sanitization struct {
	SensitiveFields []string `json:"sensitiveFields"`
	Mask            string   `json:"mask"`
}

// loadConfigs reads every file in paths. Later files may not redefine a
// logger declared by an earlier one. Missing files are skipped.
func loadConfigs(paths []string) (map[string]Config, error) {
	configs := make(map[string]Config)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file '%s': %w", path, err)
		}

		var wrapper struct {
			Loggers map[string]Config `json:"loggers"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file '%s': %w", path, err)
		}

		for name, cfg := range wrapper.Loggers {
			if _, exists := configs[name]; exists {
				return nil, fmt.Errorf("logger '%s' from config '%s' already defined", name, path)
			}
			configs[name] = cfg
		}
	}
	return configs, nil
}

// buildLogger returns the logger and the async cores that must be closed on shutdown.
func buildLogger(name string, cfg *Config) (*zap.Logger, []*AsyncCore, error) {
	assignDefaultValues(cfg)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        cfg.Encoding.TimeKey,
		LevelKey:       cfg.Encoding.LevelKey,
		NameKey:        cfg.Encoding.NameKey,
		CallerKey:      cfg.Encoding.CallerKey,
		MessageKey:     cfg.Encoding.MessageKey,
		StacktraceKey:  cfg.Encoding.StacktraceKey,
		LineEnding:     cfg.Encoding.LineEnding,
		EncodeLevel:    getZapLevelEncoder(cfg.Encoding.LevelEncoder),
		EncodeTime:     getZapTimeEncoder(cfg.Encoding.TimeEncoder),
		EncodeDuration: getZapDurationEncoder(cfg.Encoding.DurationEncoder),
		EncodeCaller:   getZapCallerEncoder(cfg.Encoding.CallerEncoder),
	}

	consoleEncoderConfig := encoderConfig
	consoleEncoderConfig.EncodeLevel = coloredLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(consoleEncoderConfig)

	jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)
	atomicLevel := zap.NewAtomicLevelAt(getZapLevel(cfg.Level))

	var (
		cores  []zapcore.Core
		asyncs []*AsyncCore
	)
	console := cfg.Development || cfg.LogToConsole
	if console {
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), atomicLevel))
	}

	for _, path := range cfg.OutputPaths {
		switch path {
		case "stdout", "stderr":
			if console {
				continue
			}
			ws := zapcore.Lock(os.Stdout)
			if path == "stderr" {
				ws = zapcore.Lock(os.Stderr)
			}
			cores = append(cores, zapcore.NewCore(jsonEncoder, ws, atomicLevel))
			continue
		}

		var fileWS zapcore.WriteSyncer
		if cfg.LogRotation.Enabled {
			fileWS = zapcore.AddSync(ljLogger(path, cfg.LogRotation))
		} else {
			file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to open log file '%s': %w", path, err)
			}
			fileWS = zapcore.AddSync(file)
		}

		async := NewAsyncCore(zapcore.NewCore(jsonEncoder, fileWS, atomicLevel),
			cfg.Async.BufferSize, cfg.Async.BatchSize, time.Duration(cfg.Async.FlushInterval)*time.Millisecond)
		asyncs = append(asyncs, async)
		cores = append(cores, async)
	}

	core := zapcore.NewTee(cores...)
	if cfg.Sampling.Initial > 0 {
		core = zapcore.NewSamplerWithOptions(core, time.Second, cfg.Sampling.Initial, cfg.Sampling.Thereafter)
	}
	if len(cfg.Sanitization.SensitiveFields) > 0 {
		core = NewSanitizerCore(core, cfg.Sanitization.SensitiveFields, cfg.Sanitization.Mask)
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(core, opts...).Named(name), asyncs, nil
}

// maps string levels to zapcore.Level.
func getZapLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	case "dpanic":
		return zap.DPanicLevel
	case "panic":
		return zap.PanicLevel
	case "fatal":
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

func getZapLevelEncoder(encoder string) zapcore.LevelEncoder {
	switch strings.ToLower(encoder) {
	case "uppercase", "capital":
		return zapcore.CapitalLevelEncoder
	default:
		return zapcore.LowercaseLevelEncoder
	}
}

func getZapTimeEncoder(encoder string) zapcore.TimeEncoder {
	switch strings.ToLower(encoder) {
	case "epoch":
		return zapcore.EpochTimeEncoder
	case "millis":
		return zapcore.EpochMillisTimeEncoder
	case "nanos":
		return zapcore.EpochNanosTimeEncoder
	case "rfc3339":
		return zapcore.RFC3339TimeEncoder
	default:
		return zapcore.ISO8601TimeEncoder
	}
}

func getZapDurationEncoder(encoder string) zapcore.DurationEncoder {
	switch strings.ToLower(encoder) {
	case "seconds":
		return zapcore.SecondsDurationEncoder
	case "millis":
		return zapcore.MillisDurationEncoder
	case "nanos":
		return zapcore.NanosDurationEncoder
	default:
		return zapcore.StringDurationEncoder
	}
}

func getZapCallerEncoder(encoder string) zapcore.CallerEncoder {
	if strings.EqualFold(encoder, "full") {
		return zapcore.FullCallerEncoder
	}
	return zapcore.ShortCallerEncoder
}

// adds color codes to log levels for console output, dev only
func coloredLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	color := ""
	switch l {
	case zapcore.DebugLevel:
		color = "\x1b[36m"
	case zapcore.InfoLevel:
		color = "\x1b[32m"
	case zapcore.WarnLevel:
		color = "\x1b[33m"
	case zapcore.ErrorLevel:
		color = "\x1b[31m"
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		color = "\x1b[35m"
	}
	if color == "" {
		enc.AppendString(l.String())
		return
	}
	enc.AppendString(color + l.String() + "\x1b[0m")
}

func ljLogger(path string, l LogRotation) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAgeDays,
		Compress:   l.Compress,
	}
}
