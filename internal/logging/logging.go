package logging

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/hummel22/bambuQueue/internal/config"
)

var Log = newDefault()

func newDefault() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)
	return log
}

// Init reconfigures the process logger from config. Unknown levels fall
// back to info rather than failing startup.
func Init(cfg config.LoggingConfig) {
	if cfg.Format == "text" {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		Log.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)
}

// Component returns a logger entry tagged with the subsystem name.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}
