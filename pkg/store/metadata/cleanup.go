package metadata

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittovault/internal/logger"
	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/marmos91/dittovault/pkg/store/chunk"
)

// maxCleanupFanout caps concurrent shard calls per cleanup.
const maxCleanupFanout = 8

// staleRefs returns the refs in previous that next no longer references.
func staleRefs(previous, next []chunk.Ref) []chunk.Ref {
	if len(previous) == 0 {
		return nil
	}

	type key struct {
		shard chunk.Address
		id    chunk.ID
	}
	keep := make(map[key]struct{}, len(next))
	for _, ref := range next {
		keep[key{ref.Shard, ref.ID}] = struct{}{}
	}

	var stale []chunk.Ref
	for _, ref := range previous {
		if _, ok := keep[key{ref.Shard, ref.ID}]; !ok {
			stale = append(stale, ref)
		}
	}
	return stale
}

// groupByShard groups chunk ids by shard address, keeping ids in ref order.
func groupByShard(refs []chunk.Ref) map[chunk.Address][]chunk.ID {
	groups := make(map[chunk.Address][]chunk.ID)
	for _, ref := range refs {
		groups[ref.Shard] = append(groups[ref.Shard], ref.ID)
	}
	return groups
}

// cleanup deletes the owner's chunks from every shard they live on.
//
// Each shard receives one call with the store's service principal. The fan-out
// waits at most cleanupTimeout. Failures are logged and counted, never
// returned: the metadata operation that triggered the cleanup proceeds either
// way.
func (s *Store) cleanup(ctx context.Context, owner identity.Principal, refs []chunk.Ref) {
	groups := groupByShard(refs)

	shards := make([]chunk.Address, 0, len(groups))
	for addr := range groups {
		shards = append(shards, addr)
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i] < shards[j] })

	ctx, cancel := context.WithTimeout(ctx, s.cleanupTimeout)
	defer cancel()

	var failures atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(maxCleanupFanout)

	for _, addr := range shards {
		ids := groups[addr]
		g.Go(func() error {
			deleted, err := s.shards.DeleteChunks(ctx, s.service, addr, owner, ids)
			if err != nil {
				failures.Add(1)
				logger.Warn("chunk cleanup failed: shard=%s owner=%s chunks=%d error=%v", addr, owner, len(ids), err)
				return fmt.Errorf("cleanup on %s: %w", addr, err)
			}
			logger.Debug("chunk cleanup done: shard=%s owner=%s requested=%d deleted=%d", addr, owner, len(ids), len(deleted))
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			for range failures.Load() {
				s.metrics.RecordEvent(component, "cleanup_failed")
			}
			return
		}
		s.metrics.RecordEvent(component, "cleanup_ok")
	case <-ctx.Done():
		logger.Warn("chunk cleanup abandoned: owner=%s shards=%d error=%v", owner, len(shards), ctx.Err())
		s.metrics.RecordEvent(component, "cleanup_timeout")
	}
}
