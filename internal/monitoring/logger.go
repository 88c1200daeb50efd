// Package monitoring holds the process-wide diagnostic loggers shared by the
// aggregator, the control loop and the producers.
package monitoring

import "log"

const (
	colorBoldRed = "\033[1;31m"
	colorReset   = "\033[0m"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Warnf reports conditions an operator must notice, such as a control cycle
// overrunning its deadline. It prints in bold red through Logf by default and
// may be replaced by SetWarner.
var Warnf func(format string, v ...interface{}) = loudf

func loudf(format string, v ...interface{}) {
	Logf(colorBoldRed+"WARNING: "+format+colorReset, v...)
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetWarner replaces the warning logger. Passing nil restores the default,
// which routes through Logf.
func SetWarner(f func(format string, v ...interface{})) {
	if f == nil {
		Warnf = loudf
		return
	}
	Warnf = f
}
