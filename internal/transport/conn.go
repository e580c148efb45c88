package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/atinyakov/ShareKeeper/internal/models"
)

// WordSize is the size of one wire word in bytes.
const WordSize = 4

// DefaultTimeout bounds every word received as part of a handshake or frame.
const DefaultTimeout = 2 * time.Second

// Dialer opens outbound connections. *net.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Conn is a masked word stream over an underlying byte stream.
// A Conn is owned by a single goroutine.
type Conn struct {
	rw      io.ReadWriter
	mask    uint32
	timeout time.Duration
	sleep   func(time.Duration)
	rbuf    [WordSize]byte
}

// Option configures a Conn.
type Option func(*Conn)

// WithTimeout sets the per-word receive timeout used by RecvFrame.
func WithTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.timeout = d
	}
}

// WithSleep replaces time.Sleep between receive attempts.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Conn) {
		c.sleep = sleep
	}
}

// NewConn wraps rw. The connection starts with a zero mask.
func NewConn(rw io.ReadWriter, opts ...Option) *Conn {
	c := &Conn{
		rw:      rw,
		timeout: DefaultTimeout,
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetKey installs the session mask applied to every following word.
func (c *Conn) SetKey(key uint32) {
	c.mask = key
}

// Timeout returns the per-word receive timeout.
func (c *Conn) Timeout() time.Duration {
	return c.timeout
}

// SendWord writes one masked word.
func (c *Conn) SendWord(w uint32) error {
	var buf [WordSize]byte
	binary.BigEndian.PutUint32(buf[:], w^c.mask)
	if _, err := c.rw.Write(buf[:]); err != nil {
		return fmt.Errorf("write word: %w", err)
	}
	return nil
}

// RecvWord reads one word and removes the mask. If the peer closed the
// stream before any byte of the word arrived, it reports no message
// (ok == false) without an error.
func (c *Conn) RecvWord() (uint32, bool, error) {
	_, err := io.ReadFull(c.rw, c.rbuf[:])
	switch {
	case err == nil:
		return binary.BigEndian.Uint32(c.rbuf[:]) ^ c.mask, true, nil
	case errors.Is(err, io.EOF):
		return 0, false, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return 0, false, ErrWordTruncated
	case errors.Is(err, os.ErrDeadlineExceeded):
		return 0, false, fmt.Errorf("read word: %w", ErrTimeout)
	default:
		return 0, false, fmt.Errorf("read word: %w", err)
	}
}

// RecvWordTimeout receives one word following the three-attempt policy of
// RecvTimeout. When the stream supports read deadlines the whole call is
// additionally bounded by d, so a peer that stays silent without closing
// cannot block it forever.
func (c *Conn) RecvWordTimeout(d time.Duration) (uint32, error) {
	if dl, ok := c.rw.(readDeadliner); ok && d > 0 {
		if err := dl.SetReadDeadline(time.Now().Add(d)); err == nil {
			defer func() { _ = dl.SetReadDeadline(time.Time{}) }()
		}
	}
	return RecvTimeout(c.RecvWord, d, c.sleep)
}

// SendFrame writes the eight words of f in wire order.
func (c *Conn) SendFrame(f models.Frame) error {
	var buf [models.FrameWords * WordSize]byte
	for i, w := range f.Words() {
		binary.BigEndian.PutUint32(buf[i*WordSize:], w^c.mask)
	}
	if _, err := c.rw.Write(buf[:]); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// RecvFrame reads eight words, each bounded by the connection timeout.
// A frame cut short by the peer fails with ErrTimeout.
func (c *Conn) RecvFrame() (models.Frame, error) {
	var words [models.FrameWords]uint32
	for i := range words {
		w, err := c.RecvWordTimeout(c.timeout)
		if err != nil {
			return models.Frame{}, fmt.Errorf("read frame word %d: %w", i, err)
		}
		words[i] = w
	}
	return models.FrameFromWords(words), nil
}

// Close closes the underlying stream if it can be closed.
func (c *Conn) Close() error {
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
