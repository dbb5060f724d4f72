// Command pipefeed supervises a child process that streams
// path<TAB>size<TAB>kind lines over a pipe and prints each decoded record.
//
// Usage:
//
//	# List the current directory through the built-in child
//	pipefeed run
//
//	# Any producer that writes the same line format
//	pipefeed run --format json -o files.jsonl.zst --compression zstd -- \
//	    find /var -printf '%p\t%s\t%y\n'
//
//	# Status server with /health, /streams, /metrics and a live /ws feed
//	pipefeed run --serve --addr 127.0.0.1:9464
//
// Configuration:
//   - Environment variables (PIPEFEED_*), see internal/config
//   - CLI flags (override env vars)
//
// Signals:
//   - SIGINT, SIGTERM: stop the stream, terminate the child, exit 130
package main
