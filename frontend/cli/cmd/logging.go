package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/furisto/parley/shared"
)

const logFileName = "parley.json"

// logLevelFlag is a slog.Level that remembers whether it was set on the
// command line.
type logLevelFlag struct {
	level slog.Level
	set   bool
}

func (f *logLevelFlag) String() string {
	if f == nil || !f.set {
		return ""
	}
	return f.level.String()
}

func (f *logLevelFlag) Set(v string) error {
	if err := f.level.UnmarshalText([]byte(v)); err != nil {
		return err
	}
	f.set = true
	return nil
}

func (f *logLevelFlag) Type() string {
	return "level"
}

// resolve gives the flag precedence over PARLEY_LOG_LEVEL and defaults to
// info.
func (f *logLevelFlag) resolve() slog.Level {
	if f.set {
		return f.level
	}

	var env slog.Level
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" && env.UnmarshalText([]byte(v)) == nil {
		return env
	}
	return slog.LevelInfo
}

// installLogger makes a JSON logger writing to stderr and a rotated log file
// the process default.
func installLogger(ctx context.Context, userInfo shared.UserInfo, stderr io.Writer, level slog.Level) {
	handler := slog.NewJSONHandler(logSink(ctx, userInfo, stderr), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func logSink(ctx context.Context, userInfo shared.UserInfo, stderr io.Writer) io.Writer {
	if disabled, _ := ctx.Value(ContextKeyDisableFileLogs).(bool); disabled {
		return stderr
	}

	logDir, err := userInfo.LogDir()
	if err != nil {
		return stderr
	}

	return io.MultiWriter(stderr, &lumberjack.Logger{
		Filename:   filepath.Join(logDir, logFileName),
		MaxSize:    50,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   true,
	})
}
