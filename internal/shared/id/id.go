// Package id generates prefixed, time-sortable identifiers for streams,
// children and websocket subscribers.
//
// Stream and child IDs are ULIDs so log lines sort by creation time. The
// prefix names the kind of object (strm_*, child_*) and the distinct Go
// types keep them from being mixed up.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// StreamID identifies one attached pipe.
type StreamID string

// ChildID identifies one spawned child process.
type ChildID string

// SubscriberID identifies a websocket subscriber. Subscribers are not
// ordered so a random UUID is enough.
type SubscriberID string

const (
	StreamPrefix = "strm"
	ChildPrefix  = "child"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand, made monotonic
// so IDs created within one millisecond still sort.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Tests use it for deterministic output.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewStreamID generates a new stream ID.
func NewStreamID() StreamID {
	return StreamID(Default().GenerateWithPrefix(StreamPrefix))
}

// NewChildID generates a new child ID.
func NewChildID() ChildID {
	return ChildID(Default().GenerateWithPrefix(ChildPrefix))
}

// NewSubscriberID generates a new subscriber ID.
func NewSubscriberID() SubscriberID {
	return SubscriberID(uuid.NewString())
}

func (id StreamID) String() string     { return string(id) }
func (id ChildID) String() string      { return string(id) }
func (id SubscriberID) String() string { return string(id) }

// Timestamp extracts the creation time from a prefixed or bare ULID.
func Timestamp(s string) (time.Time, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
