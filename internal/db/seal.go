package db

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrSnapshotSealed is returned when a sealed snapshot is loaded without a
// passphrase.
var ErrSnapshotSealed = errors.New("snapshot is sealed: passphrase required")

const sealAAD = "sharekeeper-snapshot"

// SnapshotOption configures how snapshots are written and read.
type SnapshotOption func(*snapshotOptions)

type snapshotOptions struct {
	passphrase []byte
}

// WithPassphrase seals snapshots with a key derived from passphrase.
// An empty passphrase leaves snapshots in plain CBOR.
func WithPassphrase(passphrase string) SnapshotOption {
	return func(o *snapshotOptions) {
		if passphrase != "" {
			o.passphrase = []byte(passphrase)
		}
	}
}

func buildOptions(opts []SnapshotOption) snapshotOptions {
	var o snapshotOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type kdfParams struct {
	M    uint32 `cbor:"m"`
	T    uint32 `cbor:"t"`
	P    uint8  `cbor:"p"`
	Salt []byte `cbor:"salt"`
}

// sealedSnapshot wraps an encoded Snapshot encrypted with XChaCha20-Poly1305
// under an argon2id key. Box is nonce || ciphertext.
type sealedSnapshot struct {
	Version int       `cbor:"version"`
	KDF     kdfParams `cbor:"kdf"`
	Box     []byte    `cbor:"box"`
}

func defaultKDF() (kdfParams, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return kdfParams{}, err
	}
	return kdfParams{M: 64 * 1024, T: 3, P: 4, Salt: salt}, nil
}

func deriveKey(passphrase []byte, p kdfParams) []byte {
	return argon2.IDKey(passphrase, p.Salt, p.T, p.M, p.P, chacha20poly1305.KeySize)
}

func sealSnapshot(plain, passphrase []byte) ([]byte, error) {
	p, err := defaultKDF()
	if err != nil {
		return nil, fmt.Errorf("draw salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, p))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("draw nonce: %w", err)
	}
	box := aead.Seal(nonce, nonce, plain, []byte(sealAAD))
	return cbor.Marshal(sealedSnapshot{Version: SnapshotVersion, KDF: p, Box: box})
}

func openSnapshot(sealed sealedSnapshot, passphrase []byte) ([]byte, error) {
	if len(sealed.Box) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("sealed snapshot too short")
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, sealed.KDF))
	if err != nil {
		return nil, err
	}
	nonce, ct := sealed.Box[:chacha20poly1305.NonceSizeX], sealed.Box[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ct, []byte(sealAAD))
	if err != nil {
		return nil, fmt.Errorf("open sealed snapshot: %w", err)
	}
	return plain, nil
}
