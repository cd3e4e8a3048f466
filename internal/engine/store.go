// Package engine hosts the key-value ledger the contract runs against:
// pluggable storage backends plus the transaction layer on top of them.
package engine

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/celerix-dev/celerix-userman/pkg/ledger"
)

var (
	// ErrReadOnly is returned when an evaluate transaction tries to write.
	ErrReadOnly = errors.New("write in read-only transaction")
	// ErrEmptyKey is returned for writes with an empty key.
	ErrEmptyKey = errors.New("key must not be empty")
	// ErrInvalidChannel is returned for channel ids that are reserved or unsafe.
	ErrInvalidChannel = errors.New("invalid channel id")
)

// SystemChannel is the reserved channel holding the audit trail.
const SystemChannel = "_system"

// Write is one buffered mutation. Delete wins over Value.
type Write struct {
	Key    string
	Value  string
	Delete bool
}

// Backend is the storage contract every ledger implementation satisfies.
type Backend interface {
	// Get returns the value under key and whether it exists.
	Get(channel, key string) (string, bool, error)
	// Apply commits all writes atomically.
	Apply(channel string, writes []Write) error
	// Range returns entries with start <= key < end in lexical order.
	// Empty bounds are open. An unknown channel yields no entries.
	Range(channel, start, end string) ([]ledger.KV, error)
	// Channels lists every channel holding data, sorted.
	Channels() ([]string, error)
	Close() error
}

var channelPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateChannel rejects ids that could escape a data directory or hit the
// reserved system channel.
func ValidateChannel(channel string) error {
	if channel == SystemChannel {
		return fmt.Errorf("%w: %s is reserved", ErrInvalidChannel, channel)
	}
	if !channelPattern.MatchString(channel) {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	return nil
}

// inRange reports whether start <= key < end with open empty bounds.
func inRange(key, start, end string) bool {
	return (start == "" || key >= start) && (end == "" || key < end)
}
