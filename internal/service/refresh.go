package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/atinyakov/ShareKeeper/internal/models"
	"github.com/atinyakov/ShareKeeper/internal/xorshare"
	"go.uber.org/zap"
)

// ErrRefreshRejected is returned when the peer answers a refresh request with
// anything but OK.
var ErrRefreshRejected = errors.New("refresh rejected by peer")

// PeerExchanger sends one frame to a peer and returns its response.
type PeerExchanger interface {
	Exchange(ctx context.Context, addr string, req models.Frame) (models.Frame, error)
}

// RefreshService re-randomizes a share pair held by this server and its
// configured peer.
type RefreshService struct {
	shares    *ShareService
	exchanger PeerExchanger
	peer      string
	key       uint32
	random    func() uint32
	log       *zap.Logger
}

// NewRefreshService constructs a RefreshService. key is this server's session
// key, placed in the key field of outgoing frames; random draws refresh masks
// and defaults to xorshare.Random. A nil log discards refresh traces.
func NewRefreshService(
	shares *ShareService,
	exchanger PeerExchanger,
	peer string,
	key uint32,
	random func() uint32,
	log *zap.Logger,
) *RefreshService {
	if random == nil {
		random = xorshare.Random
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RefreshService{
		shares:    shares,
		exchanger: exchanger,
		peer:      peer,
		key:       key,
		random:    random,
		log:       log,
	}
}

// Refresh draws a mask, asks the peer to patch owner's share with it and, only
// once the peer acknowledges, patches the local share with the same mask.
// The two patches are not atomic: a failure after the peer's acknowledgement
// leaves the histories one version apart.
func (r *RefreshService) Refresh(ctx context.Context, owner uint32) error {
	mask := r.random()
	req := models.Frame{
		Idx: models.Now(),
		Tag: models.TagRefresh,
		Msg: mask,
		Key: r.key,
		Sig: models.PlaceholderSig(r.key),
		Ext: owner,
		Sum: models.RequestSum,
	}

	resp, err := r.exchanger.Exchange(ctx, r.peer, req)
	if err != nil {
		return fmt.Errorf("refresh %#x on %s: %w", owner, r.peer, err)
	}
	if resp.Tag != models.TagOK {
		return fmt.Errorf("refresh %#x on %s: %w (tag=%d ext=%d)",
			owner, r.peer, ErrRefreshRejected, resp.Tag, resp.Ext)
	}

	if err := r.shares.ApplyRefresh(ctx, owner, mask); err != nil {
		return fmt.Errorf("refresh %#x locally: %w", owner, err)
	}
	r.log.Debug("share refreshed", zap.Uint32("owner", owner), zap.String("peer", r.peer))
	return nil
}
