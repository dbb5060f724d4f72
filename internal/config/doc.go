// Package config provides 12-factor configuration for pipefeed.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags override loaded values.
//
// Environment Variables:
//   - PIPEFEED_CHILD_COMMAND (comma-separated argv), PIPEFEED_CHILD_DIR, PIPEFEED_CHILD_PTY
//   - PIPEFEED_STREAM_READ_BUFFER, PIPEFEED_STREAM_MAX_LINE
//   - PIPEFEED_OUTPUT_FORMAT (text|json|yaml|toml), PIPEFEED_OUTPUT_PATH,
//     PIPEFEED_OUTPUT_COMPRESSION (none|gzip|zstd)
//   - PIPEFEED_SERVER_ENABLED, PIPEFEED_SERVER_ADDR,
//     PIPEFEED_SERVER_RATE_LIMIT, PIPEFEED_SERVER_RATE_BURST
//   - PIPEFEED_LOG_LEVEL, PIPEFEED_LOG_DEV
//   - PIPEFEED_SHUTDOWN_GRACE
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("writing %s records to %q\n", cfg.Output.Format, cfg.Output.Path)
package config
