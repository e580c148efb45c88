// Package tcp serves the ShareKeeper wire protocol on a single accepted
// connection: key exchange, one request frame, one response frame and an
// optional follow-up refresh with the configured peer.
package tcp

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/atinyakov/ShareKeeper/internal/dhke"
	"github.com/atinyakov/ShareKeeper/internal/models"
	"github.com/atinyakov/ShareKeeper/internal/transport"
	"github.com/atinyakov/ShareKeeper/internal/xorshare"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ShareService is the storage surface the handler dispatches to.
type ShareService interface {
	Store(ctx context.Context, key, share uint32) error
	Fetch(ctx context.Context, key uint32) (uint32, bool, error)
	ApplyRefresh(ctx context.Context, owner, mask uint32) error
}

// Refresher re-randomizes the share pair of owner with the peer.
type Refresher interface {
	Refresh(ctx context.Context, owner uint32) error
}

// State is the lifecycle stage of a served connection.
type State int

const (
	StateHandshaking State = iota
	StateAwaitingRequest
	StateDispatching
	StateRefreshing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateAwaitingRequest:
		return "awaiting_request"
	case StateDispatching:
		return "dispatching"
	case StateRefreshing:
		return "refreshing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handler serves one request per connection.
type Handler struct {
	// Shares stores and reads shares.
	Shares ShareService
	// Refresher runs the post-read refresh when Sync is set.
	Refresher Refresher
	// Key is this server's session key; it is echoed in every response.
	Key uint32
	// Sync enables a refresh after every successful read.
	Sync bool
	// Timeout bounds the handshake and each received word.
	// Zero means transport.DefaultTimeout.
	Timeout time.Duration
	// Random draws the private handshake exponent. Nil means crypto-random.
	Random func() uint32
	// Log may be nil.
	Log *zap.Logger
}

// ServeConn runs the full connection lifecycle on rw and closes it. The
// returned error describes the first failure; a refresh error is reported
// after the response has already been sent.
func (h *Handler) ServeConn(ctx context.Context, rw io.ReadWriteCloser) error {
	log := h.logger().With(zap.String("conn", uuid.NewString()))
	timeout := h.timeout()
	conn := transport.NewConn(rw, transport.WithTimeout(timeout))
	defer conn.Close()

	state := StateHandshaking
	enter := func(next State) {
		state = next
		log.Debug("state", zap.Stringer("state", state))
	}
	defer enter(StateClosed)

	random := h.Random
	if random == nil {
		random = xorshare.Random
	}
	key, err := dhke.Handshake(conn, timeout, random())
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	conn.SetKey(key)

	enter(StateAwaitingRequest)
	req, err := conn.RecvFrame()
	if err != nil {
		return fmt.Errorf("receive request: %w", err)
	}
	log.Debug("recv", zap.Stringer("frame", req))

	enter(StateDispatching)
	resp, refresh := h.dispatch(ctx, req, log)
	if err := conn.SendFrame(resp); err != nil {
		return fmt.Errorf("send response: %w", err)
	}
	log.Debug("send", zap.Stringer("frame", resp))

	if !refresh {
		return nil
	}
	if h.Refresher == nil {
		log.Warn("sync enabled without a refresher, skipping refresh")
		return nil
	}
	enter(StateRefreshing)
	if err := h.Refresher.Refresh(ctx, req.Key); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	return nil
}

// dispatch builds the response to req and reports whether a refresh of
// req.Key should follow it.
func (h *Handler) dispatch(ctx context.Context, req models.Frame, log *zap.Logger) (models.Frame, bool) {
	switch req.Tag {
	case models.TagSecretShare:
		if err := h.Shares.Store(ctx, req.Key, req.Msg); err != nil {
			log.Error("store share failed", zap.Uint32("key", req.Key), zap.Error(err))
			return h.reply(models.TagServerError, 0, 0), false
		}
		return h.reply(models.TagOK, models.StatusOK, 0), false

	case models.TagPublicKey:
		share, ok, err := h.Shares.Fetch(ctx, req.Key)
		if err != nil {
			log.Error("fetch share failed", zap.Uint32("key", req.Key), zap.Error(err))
			return h.reply(models.TagServerError, 0, 0), false
		}
		if !ok {
			return h.reply(models.TagBadRequest, 0, models.ErrCodeNotFound), false
		}
		return h.reply(models.TagOK, share, 0), h.Sync

	case models.TagRefresh:
		if err := h.Shares.ApplyRefresh(ctx, req.Ext, req.Msg); err != nil {
			log.Error("apply refresh failed", zap.Uint32("owner", req.Ext), zap.Error(err))
			return h.reply(models.TagServerError, 0, 0), false
		}
		ack := h.reply(models.TagOK, 0, 0)
		ack.Sum = models.RefreshAckSum
		return ack, false

	default:
		log.Warn("unsupported tag", zap.String("tag", models.TagName(req.Tag)))
		return h.reply(models.TagBadRequest, 0, req.Tag), false
	}
}

func (h *Handler) reply(tag, msg, ext uint32) models.Frame {
	return models.Frame{
		Idx: models.Now(),
		Tag: tag,
		Msg: msg,
		Key: h.Key,
		Sig: models.PlaceholderSig(h.Key),
		Ext: ext,
		Sum: models.ResponseSum,
	}
}

func (h *Handler) timeout() time.Duration {
	if h.Timeout > 0 {
		return h.Timeout
	}
	return transport.DefaultTimeout
}

func (h *Handler) logger() *zap.Logger {
	if h.Log != nil {
		return h.Log
	}
	return zap.NewNop()
}
