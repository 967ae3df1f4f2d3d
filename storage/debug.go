package storage

import (
	"github.com/sirupsen/logrus"
)

func (s *storage) d(format string, args ...interface{}) {
	s.debug.debug(format, args...)
}

type logger struct {
	entry           logrus.FieldLogger
	debuggerEnabled bool
}

func (l *logger) debug(format string, args ...interface{}) {
	if l != nil && l.debuggerEnabled && l.entry != nil {
		l.entry.Debugf(format, args...)
	}
}
