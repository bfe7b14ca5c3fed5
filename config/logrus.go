package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

var logg = newLogger()

// GetLogger returns the process logger. Components tag their entries with a
// "field" naming the component.
func GetLogger() *logrus.Logger {
	return logg
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{logrus.FieldKeyMsg: "message", logrus.FieldKeyLevel: "severity"},
	})
	return l
}

// SetLogLevel applies LOG_LEVEL; an unknown level keeps the current one.
func SetLogLevel(level string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logg.SetLevel(lvl)
	}
}

// LogFailure records a failed step of a component. subject identifies what
// the step worked on, such as a message or integration id, and may be nil.
func LogFailure(logger *logrus.Logger, component, step string, subject any, err error) {
	fields := logrus.Fields{"field": component, "step": step}
	if subject != nil {
		fields["subject"] = subject
	}
	logger.WithFields(fields).Error(err.Error())
}
