// Package ccplog is a thin logrus façade shared by every package in this
// module, so log lines are structured and tagged with the component
// that emitted them (grounded on cmd/get/main.go's logrus.Infof/Fatalf
// usage in the teacher repo).
package ccplog

import "github.com/sirupsen/logrus"

// For returns a *logrus.Entry tagged with "component": component, using
// the package-level logrus logger. Callers hang further fields off the
// returned entry with .WithField/.WithFields.
func For(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}

// SetLevel adjusts the package-level logrus logger's verbosity; binaries
// wire this to a --verbose/--debug flag.
func SetLevel(level logrus.Level) {
	logrus.SetLevel(level)
}
