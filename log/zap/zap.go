// Package zap adapts a zap logger to touristcache.Logger.
package zap

import (
	"go.uber.org/zap"

	"github.com/unkn0wn-root/touristcache"
)

var _ touristcache.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// New names the logger after the component that uses it.
func New(l *zap.Logger, component string) Logger {
	return Logger{L: l.Named(component)}
}

func (z Logger) Debug(msg string, f touristcache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f touristcache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f touristcache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f touristcache.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f touristcache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			out = append(out, zap.Error(err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
