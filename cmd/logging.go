package cmd

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nektos/actions-toolkit/pkg/common"
)

const (
	logMaxSizeMB  = 100
	logMaxBackups = 5
)

// newLogger builds the logger of a command: workflow commands inside a
// job, JSON with --json, console lines otherwise. Secret values are
// masked, and --log-file adds a rotating file.
func newLogger(input *Input, out io.Writer, masked []string) (*log.Logger, *lumberjack.Logger, error) {
	logger := log.New()
	logger.SetOutput(out)

	var rotator *lumberjack.Logger
	if input.LogFile != "" {
		p := input.resolve(input.LogFile)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, nil, err
		}
		rotator = &lumberjack.Logger{
			Filename:   p,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			Compress:   true,
			LocalTime:  true,
		}
		logger.SetOutput(io.MultiWriter(out, rotator))
	}

	var formatter log.Formatter
	switch {
	case input.JSONLogger:
		formatter = &log.JSONFormatter{}
	case common.IsActions():
		formatter = &common.ActionsFormatter{}
	default:
		formatter = &common.ConsoleFormatter{}
	}
	if len(masked) > 0 {
		formatter = common.NewMaskedFormatter(formatter, masked...)
	}
	logger.SetFormatter(formatter)

	if input.Verbose || os.Getenv("RUNNER_DEBUG") == "1" {
		logger.SetLevel(log.DebugLevel)
	}
	return logger, rotator, nil
}
