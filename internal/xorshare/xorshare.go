// Package xorshare splits a 32-bit secret into XOR shares and recombines them.
package xorshare

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
)

// ErrInvalidShareCount is returned when fewer than one share is requested.
var ErrInvalidShareCount = errors.New("xorshare: share count must be at least 1")

// Split returns n shares whose XOR equals secret. All shares are drawn from
// random, then the first one is overwritten so the XOR balances.
func Split(secret uint32, n int, random func() uint32) ([]uint32, error) {
	if n < 1 {
		return nil, ErrInvalidShareCount
	}
	shares := make([]uint32, n)
	for i := range shares {
		shares[i] = random()
	}
	shares[0] = secret ^ Merge(shares[1:])
	return shares, nil
}

// Merge XORs all shares together.
func Merge(shares []uint32) uint32 {
	var acc uint32
	for _, s := range shares {
		acc ^= s
	}
	return acc
}

// Refresh XORs the same mask into every share in place. Merge is unchanged
// when len(shares) is even, which is why peers refresh in pairs.
func Refresh(shares []uint32, mask uint32) {
	for i := range shares {
		shares[i] ^= mask
	}
}

// Random returns a uniformly random word from the operating system CSPRNG.
func Random() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("xorshare: crypto/rand failed: " + err.Error())
	}
	return binary.BigEndian.Uint32(buf[:])
}
