package record

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Separator splits the fields of a line.
const Separator = '\t'

// Fields is the number of fields a line must carry.
const Fields = 3

// Sentinel errors for decode failures.
var (
	// ErrMalformedRecord is returned when a line has fewer than three fields.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrInvalidSize is returned when the size field is not a non-negative
	// base-10 integer that fits in an int64.
	ErrInvalidSize = errors.New("invalid size")
)

// Record is one decoded line.
type Record struct {
	Path string `json:"path" yaml:"path" toml:"path"`
	Size int64  `json:"size" yaml:"size" toml:"size"`
	Kind string `json:"kind" yaml:"kind" toml:"kind"`
}

// String returns the record in its wire form, without terminator.
func (r Record) String() string {
	return r.Path + string(Separator) + strconv.FormatInt(r.Size, 10) + string(Separator) + r.Kind
}

// DecodeError describes a line that could not be decoded.
type DecodeError struct {
	Line   string
	Reason error // ErrMalformedRecord or ErrInvalidSize
	Err    error // underlying parse error, may be nil
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %q: %v", e.Reason, e.Line, e.Err)
	}
	return fmt.Sprintf("%v: %q", e.Reason, e.Line)
}

// Unwrap exposes the reason so errors.Is matches the sentinels.
func (e *DecodeError) Unwrap() error {
	return e.Reason
}

// Decode parses a raw line (terminator already removed) into a Record.
//
// Fields after the third are ignored. The path is reduced to its final
// slash-delimited segment.
func Decode(line string) (Record, error) {
	rawPath, rest, ok := strings.Cut(line, string(Separator))
	if !ok {
		return Record{}, &DecodeError{Line: line, Reason: ErrMalformedRecord}
	}
	rawSize, rest, ok := strings.Cut(rest, string(Separator))
	if !ok {
		return Record{}, &DecodeError{Line: line, Reason: ErrMalformedRecord}
	}
	rawKind, _, _ := strings.Cut(rest, string(Separator))

	size, err := ParseSize(rawSize)
	if err != nil {
		return Record{}, &DecodeError{Line: line, Reason: ErrInvalidSize, Err: err}
	}

	return Record{
		Path: Basename(rawPath),
		Size: size,
		Kind: rawKind,
	}, nil
}

// ParseSize parses an unsigned base-10 literal. Signs, spaces and values
// above math.MaxInt64 are rejected.
func ParseSize(s string) (int64, error) {
	if s == "" {
		return 0, errors.New("empty size")
	}
	// ParseUint refuses a sign prefix; bitSize 63 bounds the value to int64.
	n, err := strconv.ParseUint(s, 10, 63)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// Basename returns the final path segment. Paths without a separator,
// including the empty string, are returned unchanged.
func Basename(p string) string {
	if !strings.Contains(p, "/") {
		return p
	}
	return path.Base(p)
}
