// Package logging configures the process-wide logrus output.
package logging

import log "github.com/sirupsen/logrus"

// LogFieldFormatter wraps another logrus.Formatter, stamping a fixed
// set of Fields onto every entry before delegating (grounded on the
// teacher's own pkg/common/logging.LogFieldFormatter, used to stamp the
// app name onto every line a process emits).
type LogFieldFormatter struct {
	Formatter log.Formatter
	Fields    log.Fields
}

// Format implements logrus.Formatter.
func (f *LogFieldFormatter) Format(e *log.Entry) ([]byte, error) {
	for k, v := range f.Fields {
		e.Data[k] = v
	}
	return f.Formatter.Format(e)
}
