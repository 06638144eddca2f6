package shard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/marmos91/dittovault/pkg/registry"
	"github.com/marmos91/dittovault/pkg/store/chunk"
)

// Image is the serializable state of every unit on the host.
type Image struct {
	Units []UnitImage `json:"units"`
}

// UnitImage is one unit. Manifest and Shard are nil for a unit that was
// allocated but not installed.
type UnitImage struct {
	Address       chunk.Address        `json:"address"`
	CapacityBytes uint64               `json:"capacity_bytes"`
	Controllers   []identity.Principal `json:"controllers,omitempty"`
	AllocatedAt   time.Time            `json:"allocated_at"`
	Manifest      *Manifest            `json:"manifest,omitempty"`
	Shard         *chunk.Image         `json:"shard,omitempty"`
}

// Snapshot captures every unit and the state of every installed shard.
func (h *Host) Snapshot(ctx context.Context) (*Image, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	units := h.units.Units()
	img := &Image{Units: make([]UnitImage, 0, len(units))}

	for _, u := range units {
		entry := UnitImage{
			Address:       u.Address,
			CapacityBytes: u.CapacityBytes,
			Controllers:   slices.Clone(u.Controllers),
			AllocatedAt:   u.AllocatedAt,
		}
		if u.Store != nil {
			shardImg, err := u.Store.Snapshot(ctx)
			if err != nil {
				return nil, fmt.Errorf("snapshot shard %s: %w", u.Address, err)
			}
			entry.Shard = shardImg
			if m, ok := h.manifests[u.Address]; ok {
				m.Labels = cloneLabels(m.Labels)
				entry.Manifest = &m
			}
		}
		img.Units = append(img.Units, entry)
	}
	return img, nil
}

// Restore rebuilds a host from an image. Each installed unit gets a fresh
// backend from cfg.Backends and its shard state replayed into it. On any
// failure the stores opened so far are closed and an error is returned.
func Restore(ctx context.Context, cfg Config, img *Image) (*Host, error) {
	if img == nil {
		return nil, fmt.Errorf("shard host: nil image")
	}

	h, err := NewHost(cfg)
	if err != nil {
		return nil, err
	}

	if err := h.restoreUnits(ctx, img); err != nil {
		_ = h.Close()
		return nil, err
	}

	h.publishCounts()
	return h, nil
}

func (h *Host) restoreUnits(ctx context.Context, img *Image) error {
	for _, u := range img.Units {
		if err := h.units.Allocate(registry.Unit{
			Address:       u.Address,
			CapacityBytes: u.CapacityBytes,
			Controllers:   u.Controllers,
			AllocatedAt:   u.AllocatedAt,
		}); err != nil {
			return fmt.Errorf("restore unit %s: %w", u.Address, err)
		}
		if u.Shard == nil {
			continue
		}
		if u.Shard.Address != u.Address {
			return fmt.Errorf("restore unit %s: shard image belongs to %s", u.Address, u.Shard.Address)
		}

		backend, err := h.backends(ctx, string(u.Address))
		if err != nil {
			return fmt.Errorf("restore unit %s: create backend: %w", u.Address, err)
		}
		store, err := chunk.Restore(ctx, chunk.Config{
			Backend: backend,
			Gate:    h.gate,
			Metrics: h.metrics,
			Now:     h.now,
		}, u.Shard)
		if err != nil {
			return errors.Join(fmt.Errorf("restore unit %s: %w", u.Address, err), backend.Close())
		}
		if err := h.units.Install(u.Address, store); err != nil {
			return errors.Join(fmt.Errorf("restore unit %s: %w", u.Address, err), store.Close())
		}

		manifest := Manifest{Program: ProgramChunkStore, Version: ManifestVersion}
		if u.Manifest != nil {
			manifest = *u.Manifest
			manifest.Labels = cloneLabels(u.Manifest.Labels)
		}
		h.manifests[u.Address] = manifest
	}
	return nil
}
