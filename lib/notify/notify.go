// Package notify implements notification sinks for the check core.
package notify

import (
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/vigil/lib/checker"
)

// Log writes notification requests to the structured log. It is the
// default sink when no delivery channel has been configured.
type Log struct {
	// FieldLogger specifies the logger
	FieldLogger logrus.FieldLogger
}

// NewLog creates a log notification sink.
func NewLog() *Log {
	return &Log{FieldLogger: logrus.WithField(trace.Component, "notify")}
}

// Notify logs the notification request.
func (r *Log) Notify(service *checker.Service, kind checker.NotificationKind, result *checker.Result) error {
	r.FieldLogger.WithFields(logrus.Fields{
		"service": service.Name(),
		"state":   result.State().String(),
		"kind":    kind.String(),
	}).Info(result.Output())
	return nil
}
