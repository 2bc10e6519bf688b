// Package logx wraps zerolog behind a small structured logging API.
//
// The Service owns the configured sinks (console, file, rate-limited
// Telegram) and can swap them at runtime via Apply. Loggers handed out by
// the Service stay live across Apply calls. The zero Logger is a no-op.
package logx
