// Package log provides structured logging for Magpie built on zerolog.
//
// The package exposes a global Logger configured once at startup via Init,
// plus helpers for creating child loggers scoped to a component, a platform,
// or a task name. Console output is the default; JSON output is used when
// running as a daemon.
package log
