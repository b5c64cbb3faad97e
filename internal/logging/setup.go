// Package logging wires logrus for the whole process: base formatter and
// level setup, optional rotating file output, and Gin middleware for HTTP
// request logging and panic recovery.
package logging

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupBaseLogger installs the process-wide logrus defaults: text output
// with full timestamps to stdout at info level. It runs before the config
// file is loaded, so flags and config can tighten things afterwards.
func SetupBaseLogger() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)
}

// SetDebug switches between debug and info level logging.
func SetDebug(debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
		log.Debug("debug logging enabled")
		return
	}
	log.SetLevel(log.InfoLevel)
}

// ConfigureLogOutput routes logs into a rotating file under dir when
// toFile is set, and back to stdout otherwise. Rotation keeps three
// compressed backups for four weeks.
func ConfigureLogOutput(toFile bool, dir string, maxSizeMB int) {
	if !toFile {
		log.SetOutput(os.Stdout)
		return
	}
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.WithError(err).Warn("cannot create log directory, keeping stdout output")
		return
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   filepath.Join(dir, "jsonremodeler.log"),
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	})
}
