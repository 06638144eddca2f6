// Package shard implements the hosting platform for chunk shards.
//
// Provisioning is two-phase. Allocate reserves an empty execution unit and
// returns its address; Install loads the chunk store program into the unit
// with the given owner. A unit that was allocated but never installed stays
// reserved, so a later Install can complete it.
package shard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittovault/internal/logger"
	"github.com/marmos91/dittovault/internal/ratelimiter"
	"github.com/marmos91/dittovault/pkg/auth"
	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/marmos91/dittovault/pkg/metrics"
	"github.com/marmos91/dittovault/pkg/registry"
	"github.com/marmos91/dittovault/pkg/store/blob"
	"github.com/marmos91/dittovault/pkg/store/chunk"
)

const component = "shards"

// AddressPrefix prefixes every unit address.
const AddressPrefix = "shard-"

// Grant is the resource grant of a new unit.
type Grant struct {
	// CapacityBytes is the storage granted to the unit.
	CapacityBytes uint64

	// Controllers may manage the unit.
	Controllers []identity.Principal
}

// Config wires a Host.
type Config struct {
	// Backends creates the blob store of each installed unit.
	Backends blob.Factory

	// Gate is handed to every chunk store.
	Gate *auth.Gate

	// MaxShards caps allocated units. 0 means unlimited.
	MaxShards int

	// ProvisionRate limits allocations per second. 0 means unlimited.
	ProvisionRate float64

	// ProvisionBurst is the allocation burst.
	ProvisionBurst uint

	// Metrics is optional.
	Metrics metrics.StoreMetrics

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Host allocates units, installs chunk stores into them, and routes calls to
// installed stores by address.
//
// Thread Safety: unit bookkeeping lives in a registry.Registry; mu guards
// the installed manifests and serializes Install per host.
type Host struct {
	mu        sync.Mutex
	manifests map[chunk.Address]Manifest

	units    *registry.Registry
	backends blob.Factory
	gate     *auth.Gate
	limiter  *ratelimiter.RateLimiter
	max      int
	metrics  metrics.StoreMetrics
	now      func() time.Time
}

// NewHost creates a host with no units.
func NewHost(cfg Config) (*Host, error) {
	if cfg.Backends == nil {
		return nil, fmt.Errorf("shard host: blob factory is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("shard host: gate is required")
	}
	if cfg.MaxShards < 0 {
		return nil, fmt.Errorf("shard host: max shards must not be negative")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopStoreMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Host{
		manifests: make(map[chunk.Address]Manifest),
		units:     registry.NewRegistry(),
		backends:  cfg.Backends,
		gate:      cfg.Gate,
		limiter:   ratelimiter.New(cfg.ProvisionRate, cfg.ProvisionBurst),
		max:       cfg.MaxShards,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}, nil
}

func (h *Host) observe(operation string, start time.Time, err error) {
	h.metrics.ObserveOperation(component, operation, time.Since(start), err)
}

func (h *Host) publishCounts() {
	h.metrics.SetObjects(component, "units", h.units.CountUnits())
	h.metrics.SetObjects(component, "installed", h.units.CountInstalled())
}

// Allocate reserves a new empty unit. Failures are *PlatformError.
func (h *Host) Allocate(ctx context.Context, grant Grant) (addr chunk.Address, err error) {
	start := time.Now()
	defer func() { h.observe("Allocate", start, err) }()

	if err := ctx.Err(); err != nil {
		return "", platformError(CodeInternal, err, "allocation cancelled")
	}
	if grant.CapacityBytes == 0 {
		return "", platformError(CodeInvalidGrant, nil, "grant has no capacity")
	}
	if !h.limiter.Allow() {
		return "", platformError(CodeRateLimited, nil, "allocation rate exceeded")
	}
	if h.max > 0 && h.units.CountUnits() >= h.max {
		return "", platformError(CodeCapacityExhausted, nil, "host is full (%d units)", h.max)
	}

	addr = chunk.Address(AddressPrefix + uuid.NewString())
	unit := registry.Unit{
		Address:       addr,
		CapacityBytes: grant.CapacityBytes,
		Controllers:   grant.Controllers,
		AllocatedAt:   h.now(),
	}
	if err := h.units.Allocate(unit); err != nil {
		return "", platformError(CodeInternal, err, "record unit")
	}

	h.publishCounts()
	logger.Info("shard allocated: address=%s capacity=%d", addr, grant.CapacityBytes)
	return addr, nil
}

// Install runs the chunk store program in an allocated unit with owner as
// the shard owner. Failures are *PlatformError.
func (h *Host) Install(ctx context.Context, addr chunk.Address, payload []byte, owner identity.Principal) (err error) {
	start := time.Now()
	defer func() { h.observe("Install", start, err) }()

	manifest, err := ParseManifest(payload)
	if err != nil {
		return platformError(CodeInvalidPayload, err, "invalid install payload")
	}
	if owner.IsZero() || owner.IsAnonymous() {
		return platformError(CodeInvalidPayload, nil, "install requires a shard owner")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	unit, ok := h.units.Unit(addr)
	if !ok {
		return platformError(CodeUnitNotFound, nil, "unit %s does not exist", addr)
	}
	if unit.Installed() {
		return platformError(CodeAlreadyInstalled, nil, "unit %s is already installed", addr)
	}

	store, err := h.newStore(ctx, addr, owner)
	if err != nil {
		return err
	}
	if err := h.units.Install(addr, store); err != nil {
		_ = store.Close()
		return platformError(CodeInternal, err, "register unit %s", addr)
	}
	h.manifests[addr] = manifest

	h.publishCounts()
	logger.Info("shard installed: address=%s owner=%s program=%s", addr, owner, manifest.Program)
	return nil
}

func (h *Host) newStore(ctx context.Context, addr chunk.Address, owner identity.Principal) (*chunk.Store, error) {
	backend, err := h.backends(ctx, string(addr))
	if err != nil {
		return nil, platformError(CodeBackendFailure, err, "create backend for %s", addr)
	}
	store, err := chunk.New(chunk.Config{
		Address: addr,
		Owner:   owner,
		Backend: backend,
		Gate:    h.gate,
		Metrics: h.metrics,
	})
	if err != nil {
		_ = backend.Close()
		return nil, platformError(CodeInternal, err, "start chunk store for %s", addr)
	}
	return store, nil
}

// Resolve returns the chunk store installed at addr.
func (h *Host) Resolve(addr chunk.Address) (*chunk.Store, error) {
	return h.units.Get(addr)
}

// Stores returns every installed chunk store sorted by address.
func (h *Host) Stores() []*chunk.Store {
	return h.units.Stores()
}

// Units returns every allocated unit sorted by address.
func (h *Host) Units() []registry.Unit {
	return h.units.Units()
}

// Manifest returns the manifest a unit was installed with.
func (h *Host) Manifest(addr chunk.Address) (Manifest, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.manifests[addr]
	return m, ok
}

// DeleteChunks deletes owner's chunks from the shard at addr on behalf of a
// trusted caller.
func (h *Host) DeleteChunks(ctx context.Context, caller identity.Principal, addr chunk.Address, owner identity.Principal, ids []chunk.ID) ([]chunk.ID, error) {
	store, err := h.Resolve(addr)
	if err != nil {
		return nil, err
	}
	return store.DeleteViaTrustedCaller(ctx, caller, owner, ids)
}

// UsedBytes sums the bytes held by every installed shard.
func (h *Host) UsedBytes() uint64 {
	var total uint64
	for _, s := range h.Stores() {
		total += s.UsedBytes()
	}
	return total
}

// Close closes every installed store.
func (h *Host) Close() error {
	var errs []error
	for _, s := range h.Stores() {
		if err := s.Close(); err != nil && !errors.Is(err, blob.ErrClosed) {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Address(), err))
		}
	}
	return errors.Join(errs...)
}

func cloneLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
