// Package dhke derives a per-connection session mask with a Diffie-Hellman
// exchange over the Mersenne prime 2^31-1.
package dhke

import (
	"fmt"
	"math/bits"
	"time"
)

const (
	// Generator is the public base g.
	Generator uint64 = 7
	// Modulus is the public prime p = 2^31 - 1.
	Modulus uint64 = 2147483647
)

// WordConn is the raw word channel a handshake runs over.
type WordConn interface {
	SendWord(w uint32) error
	RecvWordTimeout(d time.Duration) (uint32, error)
}

// ModularPow computes base^exponent mod modulus with the right-to-left
// binary method. It returns 0 for modulus 1.
func ModularPow(base, exponent, modulus uint64) uint64 {
	if modulus == 1 {
		return 0
	}
	result := uint64(1)
	base %= modulus
	for exponent > 0 {
		if exponent&1 == 1 {
			result = mulMod(result, base, modulus)
		}
		exponent >>= 1
		base = mulMod(base, base, modulus)
	}
	return result
}

// mulMod returns a*b mod m for a, b < m without overflowing.
func mulMod(a, b, m uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	_, rem := bits.Div64(hi, lo, m)
	return rem
}

// Handshake sends g^a mod p, waits up to timeout for the peer's g^b mod p
// and returns the shared key (g^b)^a mod p. Both sides run the same code.
// The exchanged values are not authenticated.
func Handshake(conn WordConn, timeout time.Duration, a uint32) (uint32, error) {
	public := ModularPow(Generator, uint64(a), Modulus)
	if err := conn.SendWord(uint32(public)); err != nil {
		return 0, fmt.Errorf("send public value: %w", err)
	}
	peer, err := conn.RecvWordTimeout(timeout)
	if err != nil {
		return 0, fmt.Errorf("receive public value: %w", err)
	}
	return uint32(ModularPow(uint64(peer), uint64(a), Modulus)), nil
}
