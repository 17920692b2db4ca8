// Package obs provides the logging and error-classification infrastructure
// shared by every component of the sync core. It follows the output-routing
// and discriminated-error conventions the rest of this codebase was built
// from: errors are never used for control flow, and every asynchronous
// failure is logged with structured fields before it crosses a component
// boundary.
package obs

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes logrus output by severity: error-level records go
// to stderr, everything else goes to stdout. This keeps container log
// aggregation simple without needing a second logger instance.
type OutputSplitter struct{}

// Write implements io.Writer, inspecting the already-formatted record for
// the "level=error" marker logrus' text formatter produces.
func (OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the process-wide logger used by every package in this module.
// Components should call Logger.WithFields to attach sequence/user/document
// identifiers rather than constructing ad-hoc strings.
var Logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(OutputSplitter{})
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLevel adjusts the global logger's verbosity, used by the monitoring
// configuration flag to enable more detailed activity logging.
func SetLevel(level logrus.Level) {
	Logger.SetLevel(level)
}
