// Package idgen generates the identifiers jsonwatch stamps on poll cycles,
// snapshots and notifications.
//
// Generators are plain funcs so tests can swap in deterministic sequences.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// They sort by creation time, which keeps the cycle log ordered.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a deterministic Generator: prefix1, prefix2, ...
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s%d", prefix, n.Add(1))
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// Cycle and Notification are the prefixed generators used by the watcher
// and the sinks.
var (
	Cycle        = Prefixed("cyc_", Default)
	Notification = Prefixed("ntf_", Default)
)

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
