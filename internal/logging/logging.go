// Package logging builds the leveled logfmt logger shared by every
// internal package. Components take a log.Logger by constructor
// injection rather than reaching for a package-level global, so every
// logger can be traced back to the config that built it.
package logging

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// New builds a logfmt logger filtered at levelName ("debug", "info",
// "warn", "error"). Unknown level names fall back to "info".
func New(levelName string) log.Logger {
	base := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	base = log.With(base, "ts", log.DefaultTimestampUTC, "caller", log.Caller(5))

	var opt level.Option
	switch levelName {
	case "debug":
		opt = level.AllowDebug()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		opt = level.AllowInfo()
	}
	return level.NewFilter(base, opt)
}

// Debug, Info, Warn and Error are thin call-site helpers so packages
// don't each import go-kit/log/level themselves.
func Debug(l log.Logger) log.Logger { return level.Debug(l) }
func Info(l log.Logger) log.Logger  { return level.Info(l) }
func Warn(l log.Logger) log.Logger  { return level.Warn(l) }
func Error(l log.Logger) log.Logger { return level.Error(l) }

// Nop returns a logger that discards everything, used as a default in
// tests and in constructors that don't receive one explicitly.
func Nop() log.Logger { return log.NewNopLogger() }
