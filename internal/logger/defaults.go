package logger

// DefaultConfig is used for the "default" logger when no configuration file declares one,
// and fills the blanks of every configured logger.
var DefaultConfig = Config{
	Level:            "info",
	OutputPaths:      []string{"stdout"},
	ErrorOutputPaths: []string{"stderr"},
	LogToConsole:     true,
	Encoding: Encoding{
		TimeKey:         "time",
		LevelKey:        "level",
		NameKey:         "logger",
		CallerKey:       "caller",
		MessageKey:      "msg",
		StacktraceKey:   "stacktrace",
		LineEnding:      "\n",
		LevelEncoder:    "lowercase",
		TimeEncoder:     "iso8601",
		DurationEncoder: "string",
		CallerEncoder:   "short",
	},
	LogRotation: LogRotation{
		Enabled:    true,
		MaxSizeMB:  100,
		MaxBackups: 7,
		MaxAgeDays: 30,
		Compress:   true,
	},
	Async: Async{
		BufferSize:    1000,
		BatchSize:     100,
		FlushInterval: 500,
	},
	Sanitization: Sanitization{
		SensitiveFields: []string{
			"password",
			"old_password",
			"new_password",
			"token",
			"access_token",
			"refresh_token",
			"secret_key",
			"authorization",
		},
		Mask: "****",
	},
}

func assignDefaultValues(cfg *Config) {
	d := DefaultConfig
	if cfg.Level == "" {
		cfg.Level = d.Level
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = d.OutputPaths
	}
	if len(cfg.ErrorOutputPaths) == 0 {
		cfg.ErrorOutputPaths = d.ErrorOutputPaths
	}

	e := &cfg.Encoding
	if e.TimeKey == "" {
		e.TimeKey = d.Encoding.TimeKey
	}
	if e.LevelKey == "" {
		e.LevelKey = d.Encoding.LevelKey
	}
	if e.NameKey == "" {
		e.NameKey = d.Encoding.NameKey
	}
	if e.CallerKey == "" {
		e.CallerKey = d.Encoding.CallerKey
	}
	if e.MessageKey == "" {
		e.MessageKey = d.Encoding.MessageKey
	}
	if e.StacktraceKey == "" {
		e.StacktraceKey = d.Encoding.StacktraceKey
	}
	if e.LineEnding == "" {
		e.LineEnding = d.Encoding.LineEnding
	}

	if cfg.LogRotation.MaxSizeMB == 0 {
		cfg.LogRotation.MaxSizeMB = d.LogRotation.MaxSizeMB
	}
	if cfg.LogRotation.MaxBackups == 0 {
		cfg.LogRotation.MaxBackups = d.LogRotation.MaxBackups
	}
	if cfg.LogRotation.MaxAgeDays == 0 {
		cfg.LogRotation.MaxAgeDays = d.LogRotation.MaxAgeDays
	}

	if cfg.Async.BufferSize == 0 {
		cfg.Async.BufferSize = d.Async.BufferSize
	}
	if cfg.Async.BatchSize == 0 {
		cfg.Async.BatchSize = d.Async.BatchSize
	}
	if cfg.Async.FlushInterval == 0 {
		cfg.Async.FlushInterval = d.Async.FlushInterval
	}

	// secrets are masked unless a logger opts into its own list
	if cfg.Sanitization.SensitiveFields == nil {
		cfg.Sanitization.SensitiveFields = d.Sanitization.SensitiveFields
	}
	if cfg.Sanitization.Mask == "" {
		cfg.Sanitization.Mask = d.Sanitization.Mask
	}
}
