package metadata

import (
	"context"
	"fmt"
	"slices"

	"github.com/marmos91/dittovault/pkg/identity"
)

// Image is the serializable state of the store.
type Image struct {
	NextID      AssetID       `json:"next_id"`
	Assets      []Asset       `json:"assets"`
	OwnerAssets []OwnerAssets `json:"owner_assets"`
}

// OwnerAssets is one ownership index entry. Ids keep their insertion order.
type OwnerAssets struct {
	Owner identity.Principal `json:"owner"`
	IDs   []AssetID          `json:"ids"`
}

// Snapshot captures the full store state.
func (s *Store) Snapshot(ctx context.Context) (*Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	img := &Image{
		NextID:      s.nextID,
		Assets:      s.sortedAssetsLocked(),
		OwnerAssets: make([]OwnerAssets, 0, len(s.ownerAssets)),
	}

	owners := make([]identity.Principal, 0, len(s.ownerAssets))
	for owner := range s.ownerAssets {
		owners = append(owners, owner)
	}
	slices.Sort(owners)
	for _, owner := range owners {
		img.OwnerAssets = append(img.OwnerAssets, OwnerAssets{
			Owner: owner,
			IDs:   slices.Clone(s.ownerAssets[owner]),
		})
	}
	return img, nil
}

// Restore rebuilds a store from an image. The image is checked as a whole:
// ids must be unique and not above the counter, and every index entry must
// name an asset of that owner.
func Restore(ctx context.Context, cfg Config, img *Image) (*Store, error) {
	if img == nil {
		return nil, fmt.Errorf("asset store: nil image")
	}

	s, err := New(cfg)
	if err != nil {
		return nil, err
	}

	for i := range img.Assets {
		a := img.Assets[i].Clone()
		if a.ID == 0 || a.ID > img.NextID {
			return nil, fmt.Errorf("asset store: asset id %d outside issued range [1, %d]", a.ID, img.NextID)
		}
		if _, dup := s.assets[a.ID]; dup {
			return nil, fmt.Errorf("asset store: duplicate asset id %d", a.ID)
		}
		if err := a.Type.Validate(); err != nil {
			return nil, fmt.Errorf("asset store: asset %d: %w", a.ID, err)
		}
		s.assets[a.ID] = &a
	}

	indexed := make(map[AssetID]struct{}, len(img.Assets))
	for _, entry := range img.OwnerAssets {
		for _, id := range entry.IDs {
			a, ok := s.assets[id]
			if !ok {
				return nil, fmt.Errorf("asset store: owner %s indexes missing asset %d", entry.Owner, id)
			}
			if a.Owner != entry.Owner {
				return nil, fmt.Errorf("asset store: asset %d owned by %s indexed under %s", id, a.Owner, entry.Owner)
			}
			if _, dup := indexed[id]; dup {
				return nil, fmt.Errorf("asset store: asset %d indexed twice", id)
			}
			indexed[id] = struct{}{}
		}
		if len(entry.IDs) > 0 {
			s.ownerAssets[entry.Owner] = slices.Clone(entry.IDs)
		}
	}

	s.nextID = img.NextID
	s.metrics.SetObjects(component, "assets", len(s.assets))
	return s, nil
}
