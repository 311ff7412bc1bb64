package logging

import (
	"strings"

	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

type zapWALogger struct {
	log *zap.SugaredLogger
}

// Library returns the logger handed to whatsmeow clients and stores. "silent",
// "fatal" and "" give waLog.Noop, anything else forwards to base at that level.
func Library(base *zap.Logger, level string) waLog.Logger {
	switch strings.ToLower(level) {
	case "", "silent", "fatal", "off":
		return waLog.Noop
	}
	named := base.Named("whatsmeow").WithOptions(zap.AddCallerSkip(1))
	if lvl := ParseLevel(level); base.Core().Enabled(lvl) {
		named = named.WithOptions(zap.IncreaseLevel(lvl))
	}
	return &zapWALogger{log: named.Sugar()}
}

func (l *zapWALogger) Debugf(msg string, args ...interface{}) { l.log.Debugf(msg, args...) }
func (l *zapWALogger) Infof(msg string, args ...interface{})  { l.log.Infof(msg, args...) }
func (l *zapWALogger) Warnf(msg string, args ...interface{})  { l.log.Warnf(msg, args...) }
func (l *zapWALogger) Errorf(msg string, args ...interface{}) { l.log.Errorf(msg, args...) }

func (l *zapWALogger) Sub(module string) waLog.Logger {
	return &zapWALogger{log: l.log.Named(module)}
}

var _ waLog.Logger = (*zapWALogger)(nil)

