// Package transport implements the masked word stream peers speak over TCP.
//
// Every 32-bit word is sent big-endian and XORed with the session mask that
// the key exchange installs on the connection. Until a mask is installed the
// mask is zero, so the handshake words themselves travel unmasked.
package transport

import (
	"errors"
	"time"
)

// Transport errors.
var (
	// ErrTimeout indicates that no message arrived within the receive timeout.
	ErrTimeout = errors.New("transport: timeout")

	// ErrWordTruncated indicates that the stream ended in the middle of a word.
	ErrWordTruncated = errors.New("transport: word truncated")
)

// recvAttempts is the number of polls RecvTimeout makes before giving up.
const recvAttempts = 3

// RecvTimeout polls recv until it yields a message, making exactly three
// attempts: one immediately and one after each of two sleeps of d/2.
// A "no message" result from the last attempt becomes ErrTimeout; an error
// from any attempt is returned as is.
func RecvTimeout[T any](recv func() (T, bool, error), d time.Duration, sleep func(time.Duration)) (T, error) {
	if sleep == nil {
		sleep = time.Sleep
	}
	var zero T
	for attempt := 1; ; attempt++ {
		msg, ok, err := recv()
		if err != nil {
			return zero, err
		}
		if ok {
			return msg, nil
		}
		if attempt == recvAttempts {
			return zero, ErrTimeout
		}
		sleep(d / 2)
	}
}
