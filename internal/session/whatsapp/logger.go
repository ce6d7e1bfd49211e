package whatsapp

import (
	"github.com/sirupsen/logrus"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// logger routes whatsmeow's internal logging through logrus.
type logger struct {
	entry *logrus.Entry
}

func newLogger(entry *logrus.Entry) waLog.Logger {
	return logger{entry: entry}
}

func (l logger) Warnf(msg string, args ...any)  { l.entry.Warnf(msg, args...) }
func (l logger) Errorf(msg string, args ...any) { l.entry.Errorf(msg, args...) }
func (l logger) Infof(msg string, args ...any)  { l.entry.Infof(msg, args...) }
func (l logger) Debugf(msg string, args ...any) { l.entry.Debugf(msg, args...) }

func (l logger) Sub(module string) waLog.Logger {
	if parent, ok := l.entry.Data["module"].(string); ok && parent != "" {
		module = parent + "/" + module
	}
	return logger{entry: l.entry.WithField("module", module)}
}
