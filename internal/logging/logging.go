// Package logging builds the logrus loggers used by gulp.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a logger.
type Options struct {
	// Level is a logrus level name ("debug", "info", "warn", ...).
	// Default: "info"
	Level string

	// Format is "text" or "json".
	// Default: "text"
	Format string

	// File, when set, receives a copy of every entry. The file is rotated
	// once it reaches MaxSizeMB.
	File string

	// MaxSizeMB is the rotation size of File in megabytes.
	// Default: 10
	MaxSizeMB int

	// Output is the primary destination.
	// Default: os.Stderr
	Output io.Writer
}

// New creates a logger from opts. The returned Closer releases the log file
// and must be called once the logger is no longer used.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()

	level := opts.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}
	log.SetLevel(lvl)

	switch opts.Format {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("logging: unknown format %q", opts.Format)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		rotator := &lumberjack.Logger{
			Filename: opts.File,
			MaxSize:  maxSize, // MB
		}
		out = io.MultiWriter(out, rotator)
		closer = rotator
	}
	log.SetOutput(out)

	return log, closer, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return log
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
