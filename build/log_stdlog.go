//go:build stdlog

package build

// Package loggers write to stdout at this level when built with the stdlog
// tag, so unit tests show their log output.
const stdoutLogLevel = "debug"
