package directory

import (
	"context"
	"fmt"
	"slices"

	"github.com/marmos91/dittovault/pkg/store/chunk"
)

// Image is the serializable state of the directory. In-flight provisioning
// attempts are not captured; their records carry whatever status was last
// committed.
type Image struct {
	Records        []OwnerRecord `json:"records"`
	InstallPayload []byte        `json:"install_payload,omitempty"`
}

// Snapshot captures every record and the install payload.
func (d *Directory) Snapshot(ctx context.Context) (*Image, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return &Image{
		Records:        d.sortedRecordsLocked(),
		InstallPayload: slices.Clone(d.installPayload),
	}, nil
}

// Restore rebuilds a directory from an image. A non-empty payload in the
// image replaces cfg.InstallPayload.
func Restore(ctx context.Context, cfg Config, img *Image) (*Directory, error) {
	if img == nil {
		return nil, fmt.Errorf("directory: nil image")
	}

	d, err := New(cfg)
	if err != nil {
		return nil, err
	}

	seenShards := make(map[chunk.Address]struct{})
	for i := range img.Records {
		record := img.Records[i].Clone()
		if record.Owner.IsZero() || record.Owner.IsAnonymous() {
			return nil, fmt.Errorf("directory: record %d has no valid owner", i)
		}
		if _, dup := d.records[record.Owner]; dup {
			return nil, fmt.Errorf("directory: duplicate record for %s", record.Owner)
		}
		for _, addr := range record.Shards {
			if _, dup := seenShards[addr]; dup {
				return nil, fmt.Errorf("directory: shard %s listed twice", addr)
			}
			seenShards[addr] = struct{}{}
		}
		if record.Shards == nil {
			record.Shards = []chunk.Address{}
		}
		d.records[record.Owner] = &record
	}

	if len(img.InstallPayload) > 0 {
		d.installPayload = slices.Clone(img.InstallPayload)
	}
	d.metrics.SetObjects(component, "owners", len(d.records))
	return d, nil
}
