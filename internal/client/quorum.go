package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/atinyakov/ShareKeeper/internal/models"
	"github.com/atinyakov/ShareKeeper/internal/xorshare"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrNoPeers is returned when an operation is given an empty peer list.
var ErrNoPeers = errors.New("client: no peers")

// FrameExchanger performs one request/response round trip with a peer.
// Implemented by Exchanger.
type FrameExchanger interface {
	Exchange(ctx context.Context, addr string, req models.Frame) (models.Frame, error)
}

// ErrorPolicy decides how a multi-peer operation reacts to a peer it
// cannot reach.
type ErrorPolicy int

const (
	// CollectAll contacts every peer and fails afterwards if any of them
	// failed, discarding whatever the other peers returned.
	CollectAll ErrorPolicy = iota
	// AbortOnTransportError returns as soon as one peer cannot be reached.
	// Non-OK replies from reachable peers are still only recorded.
	AbortOnTransportError
)

// PeerError describes the failure of a single peer: either a transport
// error or a non-OK response.
type PeerError struct {
	Peer string
	Tag  uint32
	Ext  uint32
	Err  error
}

func (e *PeerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("peer=%s err=%v", e.Peer, e.Err)
	}
	return fmt.Sprintf("peer=%s tag=%d ext=%d", e.Peer, e.Tag, e.Ext)
}

func (e *PeerError) Unwrap() error {
	return e.Err
}

// Client runs quorum operations against a fixed list of storage peers.
type Client struct {
	// Exchanger talks to individual peers.
	Exchanger FrameExchanger
	// Random draws the XOR shares on Set. Nil means xorshare.Random.
	Random func() uint32
	// Log receives per-operation traces. Nil discards them.
	Log *zap.Logger
}

// New returns a Client using crypto-random shares.
func New(exchanger FrameExchanger, log *zap.Logger) *Client {
	return &Client{Exchanger: exchanger, Random: xorshare.Random, Log: log}
}

// Get asks every peer for its share of key and XORs the shares together.
// Any failing peer fails the whole call, even if the others answered.
func (c *Client) Get(ctx context.Context, key uint32, peers []string) (uint32, error) {
	if len(peers) == 0 {
		return 0, ErrNoPeers
	}
	c.logger().Debug("get secret", zap.Strings("peers", peers), zap.Uint32("key", key))

	req := models.Frame{
		Idx: models.Now(),
		Tag: models.TagPublicKey,
		Key: key,
		Sig: models.PlaceholderSig(key),
		Sum: models.RequestSum,
	}

	var secret uint32
	err := c.broadcast(ctx, peers, CollectAll,
		func(int) models.Frame { return req },
		func(_ int, resp models.Frame) { secret ^= resp.Msg },
	)
	if err != nil {
		return 0, fmt.Errorf("get secret %#x: %w", key, err)
	}
	return secret, nil
}

// Set splits secret into one XOR share per peer and stores each share on
// its peer. An unreachable peer aborts the call immediately; a peer that
// answers with an error is recorded and the remaining peers are still
// contacted.
func (c *Client) Set(ctx context.Context, key uint32, peers []string, secret uint32) error {
	if len(peers) == 0 {
		return ErrNoPeers
	}
	c.logger().Debug("set secret", zap.Strings("peers", peers), zap.Uint32("key", key))

	shares, err := xorshare.Split(secret, len(peers), c.random())
	if err != nil {
		return fmt.Errorf("split secret: %w", err)
	}

	err = c.broadcast(ctx, peers, AbortOnTransportError,
		func(i int) models.Frame {
			return models.Frame{
				Idx: models.Now(),
				Tag: models.TagSecretShare,
				Msg: shares[i],
				Key: key,
				Sig: models.PlaceholderSig(key),
				Sum: models.RequestSum,
			}
		},
		func(int, models.Frame) {},
	)
	if err != nil {
		return fmt.Errorf("set secret %#x: %w", key, err)
	}
	return nil
}

func (c *Client) logger() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop()
}

func (c *Client) random() func() uint32 {
	if c.Random != nil {
		return c.Random
	}
	return xorshare.Random
}

// broadcast sends request(i) to peers[i] in order and hands every OK
// response to onOK. Failures are handled according to policy and returned
// combined.
func (c *Client) broadcast(
	ctx context.Context,
	peers []string,
	policy ErrorPolicy,
	request func(i int) models.Frame,
	onOK func(i int, resp models.Frame),
) error {
	var errs error
	for i, addr := range peers {
		resp, err := c.Exchanger.Exchange(ctx, addr, request(i))
		if err != nil {
			perr := &PeerError{Peer: addr, Err: err}
			if policy == AbortOnTransportError {
				return perr
			}
			errs = multierr.Append(errs, perr)
			continue
		}
		if resp.Tag != models.TagOK {
			errs = multierr.Append(errs, &PeerError{Peer: addr, Tag: resp.Tag, Ext: resp.Ext})
			continue
		}
		onOK(i, resp)
	}
	return errs
}
