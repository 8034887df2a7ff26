// Package log provides structured logging with run context.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for pipeline packages (structured fields)
//   - SugaredLogger: Printf-style logging for CLI surfaces (convenience over performance)
//
// Use Logger.Sugar() to obtain a SugaredLogger when needed.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/tsrebuild/types"
)

// Logger provides structured logging with run context.
// All log entries include run identity fields when built with NewLogger.
//
// A nil *Logger is valid and discards everything, so packages can accept
// an optional logger without guarding every call.
type Logger struct {
	zap *zap.Logger
}

// SugaredLogger provides printf-style logging for CLI surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// Options configures logger construction.
type Options struct {
	// Debug enables debug-level entries. Default level is info.
	Debug bool
	// Output is the destination writer. Defaults to os.Stderr.
	Output io.Writer
}

// NewLogger creates a new logger with run context.
// Output defaults to os.Stderr.
func NewLogger(runMeta *types.RunMeta, opts Options) *Logger {
	w := opts.Output
	if w == nil {
		w = os.Stderr
	}

	contextFields := []zap.Field{
		zap.String("run_id", runMeta.RunID),
		zap.Int64("window_start", runMeta.Window.Start),
		zap.Int64("window_end", runMeta.Window.End),
	}
	if runMeta.Resumed {
		contextFields = append(contextFields, zap.Bool("resumed", true))
	}

	return &Logger{zap: zap.New(newCore(w, opts.Debug)).With(contextFields...)}
}

// NewPlain creates a logger without run context, for commands that do not
// execute a run (manifest, inspect, state, history).
func NewPlain(opts Options) *Logger {
	w := opts.Output
	if w == nil {
		w = os.Stderr
	}
	return &Logger{zap: zap.New(newCore(w, opts.Debug))}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

func newCore(w io.Writer, debug bool) zapcore.Core {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		level,
	)
}

// With returns a child logger carrying an extra component field.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{zap: l.zap.With(zap.String("component", component))}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sync flushes buffered entries. Errors are unactionable on stderr and ignored.
func (l *Logger) Sync() {
	if l == nil {
		return
	}
	_ = l.zap.Sync()
}

// Sugar returns a SugaredLogger for printf-style logging.
// Use for CLI surfaces where convenience matters more than performance.
func (l *Logger) Sugar() *SugaredLogger {
	if l == nil {
		return &SugaredLogger{sugar: zap.NewNop().Sugar()}
	}
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
