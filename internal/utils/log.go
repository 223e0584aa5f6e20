// Package utils
package utils

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogFile is appended to alongside stderr once ConfigureLogger names it.
const LogFile = "elite.log"

var (
	logger *logrus.Logger
	once   sync.Once
)

// GetLogger returns the process logger. It writes JSON to stderr at info
// level until ConfigureLogger changes that.
func GetLogger() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.InfoLevel)
	})
	return logger
}

// ConfigureLogger sets the level of the process logger and, when file is not
// empty, mirrors its output to that file.
func ConfigureLogger(level, file string) error {
	l := GetLogger()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	l.SetLevel(lvl)
	if file == "" {
		return nil
	}
	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}
