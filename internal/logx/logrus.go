package logx

import (
	"github.com/sirupsen/logrus"
)

// Logrus adapts a logrus.FieldLogger to Logger.
type Logrus struct {
	logger logrus.FieldLogger
}

// NewLogrus wraps logger as a Logger. A nil logger panics.
func NewLogrus(logger logrus.FieldLogger) Logrus {
	if logger == nil {
		panic(`logx: nil logrus.FieldLogger`)
	}
	return Logrus{logger: logger}
}

var (
	_ Logger = Logrus{}
)

func (x Logrus) WithField(key string, value any) Logger {
	return Logrus{logger: x.logger.WithField(key, value)}
}

func (x Logrus) WithFields(fields map[string]any) Logger {
	return Logrus{logger: x.logger.WithFields(fields)}
}

func (x Logrus) WithError(err error) Logger {
	return Logrus{logger: x.logger.WithError(err)}
}

func (x Logrus) Debug(args ...any) { x.logger.Debug(args...) }
func (x Logrus) Info(args ...any)  { x.logger.Info(args...) }
func (x Logrus) Warn(args ...any)  { x.logger.Warn(args...) }
func (x Logrus) Error(args ...any) { x.logger.Error(args...) }
