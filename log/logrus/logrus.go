// Package logrus adapts a logrus entry to touristcache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/touristcache"
)

var _ touristcache.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New tags every entry with the component that logged it.
func New(l *logrus.Logger, component string) Logger {
	return Logger{E: l.WithField("component", component)}
}

func (l Logger) Debug(msg string, f touristcache.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f touristcache.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f touristcache.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f touristcache.Fields) { l.with(f).Error(msg) }

// with moves an "err" field to logrus.ErrorKey so formatters render it.
func (l Logger) with(f touristcache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	lf := make(logrus.Fields, len(f))
	for k, v := range f {
		if k == "err" {
			k = logrus.ErrorKey
		}
		lf[k] = v
	}
	return l.E.WithFields(lf)
}
