package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/atinyakov/ShareKeeper/internal/models"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

// SnapshotVersion is the current snapshot file format version.
const SnapshotVersion = 1

// DefaultSnapshotInterval is used by StartSnapshotter for a non-positive
// interval.
const DefaultSnapshotInterval = 30 * time.Second

// Snapshot is the on-disk form of an in-memory share store.
type Snapshot struct {
	Version int                           `cbor:"version"`
	SavedAt time.Time                     `cbor:"saved_at"`
	Shares  map[uint32]models.ShareRecord `cbor:"shares"`
}

// SnapshotSource is implemented by stores that can be snapshotted.
type SnapshotSource interface {
	Snapshot() map[uint32]models.ShareRecord
}

// SaveSnapshot writes the current contents of src to path atomically.
func SaveSnapshot(path string, src SnapshotSource, opts ...SnapshotOption) error {
	o := buildOptions(opts)
	data, err := cbor.Marshal(Snapshot{
		Version: SnapshotVersion,
		SavedAt: time.Now().UTC(),
		Shares:  src.Snapshot(),
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if o.passphrase != nil {
		if data, err = sealSnapshot(data, o.passphrase); err != nil {
			return fmt.Errorf("seal snapshot: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the share records stored at path. A missing file
// yields an empty set. Sealed snapshots need WithPassphrase; plain ones are
// read with or without it.
func LoadSnapshot(path string, opts ...SnapshotOption) (map[uint32]models.ShareRecord, error) {
	o := buildOptions(opts)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[uint32]models.ShareRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var sealed sealedSnapshot
	if err := cbor.Unmarshal(data, &sealed); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if len(sealed.Box) > 0 {
		if o.passphrase == nil {
			return nil, ErrSnapshotSealed
		}
		if data, err = openSnapshot(sealed, o.passphrase); err != nil {
			return nil, err
		}
	}

	var snap Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.Shares == nil {
		snap.Shares = map[uint32]models.ShareRecord{}
	}
	return snap.Shares, nil
}

// StartSnapshotter saves src to path every interval until ctx is done, then
// saves once more. The returned channel is closed after the final save.
// A nil log discards save traces.
func StartSnapshotter(
	ctx context.Context,
	src SnapshotSource,
	path string,
	interval time.Duration,
	log *zap.Logger,
	opts ...SnapshotOption,
) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	save := func() {
		if err := SaveSnapshot(path, src, opts...); err != nil {
			log.Error("failed to save share snapshot", zap.String("path", path), zap.Error(err))
			return
		}
		log.Debug("saved share snapshot", zap.String("path", path))
	}
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				save()
				return
			case <-ticker.C:
				save()
			}
		}
	}()
	return done
}
