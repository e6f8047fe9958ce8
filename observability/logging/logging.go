package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the service identity, verbosity and an optional rotated log
// file. Output always goes to stdout; the file is an additional sink.
type Options struct {
	Service    string
	Env        string
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Setup configures the standard library logger to emit structured JSON and
// returns the underlying slog.Logger. Every line carries the service name and
// environment when provided.
func Setup(service, env string) *slog.Logger {
	logger, _, _ := SetupWithOptions(Options{Service: service, Env: env})
	return logger
}

// SetupWithOptions is Setup with level and file rotation control. The returned
// closer flushes the rotated file, if any.
func SetupWithOptions(opts Options) (*slog.Logger, io.Closer, error) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if path := strings.TrimSpace(opts.FilePath); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, err
		}
		file := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 10),
			MaxAge:     orDefault(opts.MaxAgeDays, 30),
			Compress:   opts.Compress,
		}
		out = io.MultiWriter(os.Stdout, file)
		closer = file
	}

	handler := NewHandler(out, ParseLevel(opts.Level))
	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(opts.Service)),
	}
	if env := strings.TrimSpace(opts.Env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base, closer, nil
}

// NewHandler builds the JSON handler used by every ledger process. Sensitive
// keys are masked before they are written.
func NewHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			if IsSensitive(attr.Key) && attr.Value.Kind() == slog.KindString {
				return MaskField(attr.Key, attr.Value.String())
			}
			return attr
		},
	})
}

// ParseLevel maps debug, warn and error; anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
