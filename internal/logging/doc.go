// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON on stderr
//   - Development: colored console output at debug level
//
// Logs never go to stdout, which carries the record sink.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Child started", zap.Int("pid", pid))
//	logger.Named("stream").Warn("Skipping line", zap.Error(err))
package logging
