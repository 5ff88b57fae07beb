// Package logging builds the zap loggers used by every takopi-smithers command.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileName is the supervisor log inside a worktree's log directory.
const FileName = "supervisor.log"

// Options controls where log lines go.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// LogDir receives supervisor.log. Empty disables the file sink.
	LogDir string
	// Console forces the stderr sink on or off. Nil means "only when stderr is a terminal".
	Console *bool
}

// Path returns the supervisor log path inside logDir.
func Path(logDir string) string {
	return filepath.Join(logDir, FileName)
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// TimeLayout is the timestamp format at the start of every log line.
const TimeLayout = "2006-01-02T15:04:05.000Z"

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(TimeLayout))
}

// stderrIsTerminal reports whether stderr is interactive. When a detached
// supervisor has stderr redirected into its log file, writing to both would
// duplicate every line.
func stderrIsTerminal() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// New creates a logger that appends to <LogDir>/supervisor.log and, when
// stderr is a terminal, also prints to stderr. The returned close function
// flushes and releases the file.
func New(opts Options) (*zap.SugaredLogger, func(), error) {
	level := zap.NewAtomicLevelAt(parseLevel(opts.Level))

	encCfg := zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		NameKey:          "component",
		MessageKey:       "msg",
		StacktraceKey:    "stacktrace",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       timeEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}

	var cores []zapcore.Core
	var file *os.File

	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir %s: %w", opts.LogDir, err)
		}
		f, err := os.OpenFile(Path(opts.LogDir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), level))
	}

	console := stderrIsTerminal()
	if opts.Console != nil {
		console = *opts.Console
	}
	if console || file == nil {
		ttyCfg := encCfg
		if console {
			ttyCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(ttyCfg), zapcore.Lock(os.Stderr), level))
	}

	logger := zap.New(zapcore.NewTee(cores...)).Sugar()
	closeFn := func() {
		_ = logger.Sync()
		if file != nil {
			_ = file.Close()
		}
	}
	return logger, closeFn, nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
