package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/term"

	"github.com/ligun0805/mint-racer/internal/config"
)

func toSlogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "crit", "critical":
		return log.LevelCrit, nil
	case "error":
		return log.LevelError, nil
	case "warn", "warning":
		return log.LevelWarn, nil
	case "info":
		return log.LevelInfo, nil
	case "debug":
		return log.LevelDebug, nil
	case "trace":
		return log.LevelTrace, nil
	default:
		return log.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
}

func handlerFromLogType(logType string, w io.Writer, color bool) (slog.Handler, error) {
	switch strings.ToLower(logType) {
	case "plaintext", "":
		return log.NewTerminalHandler(w, color), nil
	case "json":
		return log.JSONHandler(w), nil
	default:
		return nil, fmt.Errorf("invalid log type %q", logType)
	}
}

// initLog installs the root logger: a glog handler over the configured format.
func initLog(cfg config.LogConfig, w io.Writer, fd int) error {
	level, err := toSlogLevel(cfg.Level)
	if err != nil {
		return err
	}
	handler, err := handlerFromLogType(cfg.Type, w, fd >= 0 && term.IsTerminal(fd))
	if err != nil {
		return err
	}
	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(level)
	log.SetDefault(log.NewLogger(glogger))
	return nil
}
