// Package client implements the owner side of ShareKeeper: one-shot frame
// exchanges with a storage peer and the quorum get/set operations built on
// top of them.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/atinyakov/ShareKeeper/internal/dhke"
	"github.com/atinyakov/ShareKeeper/internal/models"
	"github.com/atinyakov/ShareKeeper/internal/transport"
	"github.com/atinyakov/ShareKeeper/internal/xorshare"
	"go.uber.org/zap"
)

// Exchanger sends one frame to a peer over a freshly handshaken connection
// and returns the peer's single response frame.
type Exchanger struct {
	// Dialer opens the TCP connection.
	Dialer transport.Dialer
	// Timeout bounds the handshake and every received word.
	Timeout time.Duration
	// Random draws the private handshake exponent. Nil means xorshare.Random.
	Random func() uint32
	// Log receives debug traces of sent and received frames. Nil discards them.
	Log *zap.Logger
}

// NewExchanger returns an Exchanger dialing TCP with the given timeout.
func NewExchanger(log *zap.Logger, timeout time.Duration) *Exchanger {
	return &Exchanger{
		Dialer:  &net.Dialer{Timeout: timeout},
		Timeout: timeout,
		Random:  xorshare.Random,
		Log:     log,
	}
}

// Exchange dials addr, runs the key exchange, sends req and waits for the
// response frame. The connection is closed before returning.
func (e *Exchanger) Exchange(ctx context.Context, addr string, req models.Frame) (models.Frame, error) {
	dialer := e.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: e.Timeout}
	}
	sock, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return models.Frame{}, fmt.Errorf("dial: %w", err)
	}
	conn := transport.NewConn(sock, transport.WithTimeout(e.Timeout))
	defer conn.Close()

	random := e.Random
	if random == nil {
		random = xorshare.Random
	}
	key, err := dhke.Handshake(conn, e.Timeout, random())
	if err != nil {
		return models.Frame{}, fmt.Errorf("handshake: %w", err)
	}
	conn.SetKey(key)

	if err := conn.SendFrame(req); err != nil {
		return models.Frame{}, err
	}
	log := e.logger()
	log.Debug("send", zap.String("peer", addr), zap.Stringer("frame", req))

	resp, err := conn.RecvFrame()
	if err != nil {
		return models.Frame{}, err
	}
	log.Debug("recv", zap.String("peer", addr), zap.Stringer("frame", resp))
	return resp, nil
}

func (e *Exchanger) logger() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}
