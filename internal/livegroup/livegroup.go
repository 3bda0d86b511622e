// Package livegroup turns a live photo record into its still and motion
// pieces right before dispatch.
package livegroup

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/italolelis/syncbox/internal/discovery"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/transfer"
)

// ErrMaterialize means the group could not be built. The seed is untouched.
var ErrMaterialize = errors.New("live group could not be materialized")

// PairResolver finds the motion clip that belongs to a live still.
type PairResolver interface {
	MotionResource(ctx context.Context, rec transfer.Record) (discovery.Motion, error)
}

// Store persists the group in place of the seed.
type Store interface {
	ReplaceWithGroup(ctx context.Context, seedOcID string, group []transfer.Record) error
}

type Expander struct {
	resolver PairResolver
	store    Store
	newID    func() string
}

func NewExpander(resolver PairResolver, store Store) *Expander {
	return &Expander{resolver: resolver, store: store, newID: uuid.NewString}
}

// Expand returns the records to transfer for rec, in upload order. A record
// that is not a live photo is returned as is and nothing is written.
func (e *Expander) Expand(ctx context.Context, rec transfer.Record) ([]transfer.Record, error) {
	if !rec.LivePhoto {
		return []transfer.Record{rec}, nil
	}

	ctx, logger := logctx.With(ctx, "oc_id", rec.OcID, "file_name", rec.FileName)

	motion, err := e.resolver.MotionResource(ctx, rec)
	if err != nil {
		logger.WarnContext(ctx, "failed to resolve motion clip", "err", err)

		return nil, fmt.Errorf("%w: %s: %v", ErrMaterialize, rec.OcID, err)
	}

	key := e.newID()

	still := rec
	still.OcID = e.newID()
	still.LivePhoto = false
	still.LiveGroup = key

	clip := rec
	clip.OcID = e.newID()
	clip.LivePhoto = false
	clip.LiveGroup = key
	clip.FileName = motion.Name
	clip.LocalPath = motion.Path
	clip.Size = motion.Size
	clip.Etag = ""

	group := []transfer.Record{still, clip}

	if err := e.store.ReplaceWithGroup(ctx, rec.OcID, group); err != nil {
		logger.WarnContext(ctx, "failed to persist live group", "err", err)

		return nil, fmt.Errorf("%w: %s: %v", ErrMaterialize, rec.OcID, err)
	}

	logger.DebugContext(ctx, "expanded live photo", "live_group", key, "still", still.OcID, "motion", clip.OcID)

	return group, nil
}
