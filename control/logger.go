// control/logger.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger from cfg. The returned level can be
// changed at runtime, e.g. from a reload hook.
func NewLogger(cfg LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	var zc zap.Config
	if level.Level() == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = level
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zc.Encoding = "json"
	case "console":
		zc.Encoding = "console"
	default:
		return nil, zap.AtomicLevel{}, fmt.Errorf("log.format %q is not json or console", cfg.Format)
	}
	out := cfg.Output
	if out == "" {
		out = "stderr"
	}
	zc.OutputPaths = []string{out}
	zc.ErrorOutputPaths = []string{"stderr"}
	l, err := zc.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	return l, level, nil
}

// parseLevel parses the log level string
func parseLevel(level string) (zap.AtomicLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel), nil
	case "", "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel), nil
	case "warn", "warning":
		return zap.NewAtomicLevelAt(zap.WarnLevel), nil
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel), nil
	default:
		return zap.AtomicLevel{}, fmt.Errorf("log.level %q is not debug, info, warn or error", level)
	}
}

// SetLevel applies a level string to lvl.
func SetLevel(lvl zap.AtomicLevel, level string) error {
	parsed, err := parseLevel(level)
	if err != nil {
		return err
	}
	lvl.SetLevel(parsed.Level())
	return nil
}
