package dhke

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/atinyakov/ShareKeeper/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModularPow(t *testing.T) {
	cases := []struct {
		name                    string
		base, exponent, modulus uint64
		want                    uint64
	}{
		{"modulus one", 5, 3, 1, 0},
		{"zero exponent", 5, 0, 13, 1},
		{"small", 4, 13, 497, 445},
		{"base reduced", 20, 2, 7, 1},
		{"generator squared", Generator, 2, Modulus, 49},
		{"fermat", Generator, Modulus - 1, Modulus, 1},
		{"large modulus", 1<<63 + 5, 2, 1<<63 + 7, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ModularPow(tc.base, tc.exponent, tc.modulus))
		})
	}
}

func TestSharedSecretMath(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 200; i++ {
		a := uint64(rng.Uint32())
		b := uint64(rng.Uint32())

		sentA := ModularPow(Generator, a, Modulus)
		sentB := ModularPow(Generator, b, Modulus)

		require.Equal(t, ModularPow(sentA, b, Modulus), ModularPow(sentB, a, Modulus))
	}
}

func TestHandshake_KeysAgree(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	for i := 0; i < 20; i++ {
		network := transport.NewMemoryNetwork()
		t1 := network.Open("1", "2")
		t2 := network.Open("2", "1")

		a, b := rng.Uint32(), rng.Uint32()
		timeout := 200 * time.Millisecond

		type result struct {
			key uint32
			err error
		}
		r1 := make(chan result, 1)
		r2 := make(chan result, 1)
		go func() {
			k, err := Handshake(t1, timeout, a)
			r1 <- result{k, err}
		}()
		go func() {
			k, err := Handshake(t2, timeout, b)
			r2 <- result{k, err}
		}()

		s1, s2 := <-r1, <-r2
		require.NoError(t, s1.err)
		require.NoError(t, s2.err)
		require.Equal(t, s1.key, s2.key)
	}
}

func TestHandshake_PeerSilent(t *testing.T) {
	network := transport.NewMemoryNetwork()
	lonely := network.Open("1", "2")

	_, err := Handshake(lonely, 2*time.Millisecond, 12345)
	require.ErrorIs(t, err, transport.ErrTimeout)
}

type failingConn struct{}

func (failingConn) SendWord(uint32) error { return errors.New("broken pipe") }
func (failingConn) RecvWordTimeout(time.Duration) (uint32, error) {
	return 0, errors.New("unreachable")
}

func TestHandshake_SendFailure(t *testing.T) {
	_, err := Handshake(failingConn{}, time.Millisecond, 1)
	require.ErrorContains(t, err, "send public value")
}
