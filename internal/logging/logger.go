package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"iot-environment-server/internal/config"
)

// New builds the process logger. Development builds get colored text on
// stdout; release builds get JSON. When cfg.LogFile is set, JSON lines are
// also written to a rotating file.
func New(cfg config.Config, version string, appName string) *slog.Logger {
	return newWithWriter(cfg, version, appName, os.Stdout)
}

func newWithWriter(cfg config.Config, version, appName string, stdout io.Writer) *slog.Logger {
	var file io.Writer
	if cfg.LogFile != "" {
		file = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}

	if version == "dev" {
		var h slog.Handler = tint.NewHandler(stdout, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		if file != nil {
			h = teeHandler{h, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: cfg.LogLevel})}
		}
		return slog.New(h).With("app", appName)
	}

	out := stdout
	if file != nil {
		out = io.MultiWriter(stdout, file)
	}
	h := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
	)
}
