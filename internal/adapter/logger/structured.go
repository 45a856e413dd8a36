package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// SetLoggerToStructured switches the standard logger to JSON on stderr and,
// when filePath is set, appends the same lines to that file. The returned
// closer releases the file.
func SetLoggerToStructured(level logrus.Level, filePath string) io.Closer {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(level)

	if filePath == "" {
		logrus.SetOutput(os.Stderr)
		return nopCloser{}
	}

	if dir := filepath.Dir(filePath); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		logrus.SetOutput(os.Stderr)
		logrus.WithError(err).Error("Could not create file for logging")
		return nopCloser{}
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, file))
	return file
}

// ParseLevel is logrus.ParseLevel with info as the fallback.
func ParseLevel(s string) logrus.Level {
	if s == "" {
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(s)
	if err != nil {
		logrus.WithField("level", s).Warn("Unknown log level, using info")
		return logrus.InfoLevel
	}
	return level
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
