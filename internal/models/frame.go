// Package models defines the wire frame exchanged between ShareKeeper peers
// and the protocol constants carried inside it.
package models

import (
	"fmt"
	"time"
)

// FrameWords is the number of 32-bit words a Frame occupies on the wire.
const FrameWords = 8

// Tag identifies the kind of a Frame.
type Tag = uint32

// Request and response tags.
const (
	// TagSecretShare stores a share under Frame.Key.
	TagSecretShare Tag = 1
	// TagPublicKey reads the share stored under Frame.Key.
	TagPublicKey Tag = 2
	// TagRefresh patches the share owned by Frame.Ext with the mask in Frame.Msg.
	TagRefresh Tag = 3
	// TagHello is reserved.
	TagHello Tag = 255

	// TagOK marks a successful response.
	TagOK Tag = 200
	// TagBadRequest marks a rejected request; Frame.Ext carries the reason.
	TagBadRequest Tag = 400
	// TagServerError marks a request the server failed to process.
	TagServerError Tag = 500
)

// Error codes carried in Frame.Ext of a TagBadRequest response.
const (
	ErrCodeNotFound uint32 = 32001
	ErrCodeExpired  uint32 = 32002
)

// Placeholder values for fields that are carried but never verified.
const (
	// ResponseSum is written into the sum field of server responses.
	ResponseSum uint32 = 42
	// RefreshAckSum is the sum field of the OK reply to a REFRESH request.
	RefreshAckSum uint32 = 0
	// RequestSum is written into the sum field of client requests.
	RequestSum uint32 = 0xFACE
	// StatusOK is the msg of a successful store acknowledgement.
	StatusOK uint32 = 200
)

// Frame is the fixed eight-word protocol message.
type Frame struct {
	// Idx identifies the request; peers fill it with the send time.
	Idx uint32
	// Tag is the message kind.
	Tag uint32
	// Msg is the payload: a share, a refresh mask or a status code.
	Msg uint32
	// Key identifies the secret (requests) or the responding server (responses).
	Key uint32
	// Sig is reserved for a signature over idx, tag and msg. It is not verified.
	Sig uint64
	// Ext carries an error code on failures or the owning key on refresh.
	Ext uint32
	// Sum is reserved for a checksum. It is not verified.
	Sum uint32
}

// Words returns the frame as eight words in wire order:
// idx, tag, msg, key, sig_hi, sig_lo, ext, sum.
func (f Frame) Words() [FrameWords]uint32 {
	hi, lo := SplitSig(f.Sig)
	return [FrameWords]uint32{f.Idx, f.Tag, f.Msg, f.Key, hi, lo, f.Ext, f.Sum}
}

// FrameFromWords is the inverse of Frame.Words.
func FrameFromWords(words [FrameWords]uint32) Frame {
	return Frame{
		Idx: words[0],
		Tag: words[1],
		Msg: words[2],
		Key: words[3],
		Sig: MergeSig(words[4], words[5]),
		Ext: words[6],
		Sum: words[7],
	}
}

// String implements fmt.Stringer for debug logging.
func (f Frame) String() string {
	return fmt.Sprintf("Frame{idx=%d tag=%s msg=%#x key=%#x sig=%#x ext=%d sum=%#x}",
		f.Idx, TagName(f.Tag), f.Msg, f.Key, f.Sig, f.Ext, f.Sum)
}

// SplitSig splits a 64-bit value into its high and low words.
func SplitSig(x uint64) (hi, lo uint32) {
	return uint32(x >> 32), uint32(x)
}

// MergeSig joins a high and low word into a 64-bit value.
func MergeSig(hi, lo uint32) uint64 {
	return uint64(hi)<<32 | uint64(lo)
}

// PlaceholderSig is the value peers put into Frame.Sig in place of a signature.
func PlaceholderSig(key uint32) uint64 {
	return MergeSig(key, key)
}

// Now returns the current Unix time truncated to 32 bits, used for Frame.Idx.
func Now() uint32 {
	return uint32(time.Now().Unix())
}

// TagName returns a readable name for a tag.
func TagName(tag uint32) string {
	switch tag {
	case TagSecretShare:
		return "SECRET_SHARE"
	case TagPublicKey:
		return "PUBLIC_KEY"
	case TagRefresh:
		return "REFRESH"
	case TagHello:
		return "HELLO"
	case TagOK:
		return "OK"
	case TagBadRequest:
		return "BAD_REQUEST"
	case TagServerError:
		return "SERVER_ERROR"
	default:
		return fmt.Sprintf("TAG(%d)", tag)
	}
}
