// Package httpparse implements a resumable HTTP/1.1 request parser.
//
// A Parser is fed raw bytes as they arrive from a non-blocking socket and
// yields a complete Request once the message is fully received. The
// parser never blocks and never assumes a complete message is
// available in one Feed call: partial input is buffered internally
// and parsing resumes on the next Feed.
package httpparse

// Size limits, mirroring the defensive bounds the engine applies
// before ever touching application code.
const (
	// MaxRequestLineSize bounds "METHOD SP URI SP VERSION CRLF".
	MaxRequestLineSize = 8 * 1024

	// MaxHeaderLineSize bounds a single "name: value" line.
	MaxHeaderLineSize = 8 * 1024

	// MaxHeaderCount bounds the number of header lines per message.
	MaxHeaderCount = 100

	// MaxHeadersTotalSize bounds the sum of all header line bytes.
	MaxHeadersTotalSize = 64 * 1024

	// DefaultMaxBodySize is used when the caller never calls
	// SetMaxBodySize before feeding the parser.
	DefaultMaxBodySize = 1 << 20 // 1 MiB

	// maxChunkSizeLineLen bounds a single "SIZE[;ext]\r\n" chunk header.
	maxChunkSizeLineLen = 1024
)
