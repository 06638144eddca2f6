// Package directory implements the identity directory: one record per
// owner, and the provisioning of each owner's chunk shard.
//
// Registration creates the owner record first and provisions the shard
// afterwards, without holding the directory lock across the platform calls.
// A failed provisioning leaves the record registered without a shard and with
// a Provisioning status describing the failure; RetryProvisioning resumes
// from that status.
package directory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittovault/internal/logger"
	"github.com/marmos91/dittovault/pkg/apierror"
	"github.com/marmos91/dittovault/pkg/auth"
	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/marmos91/dittovault/pkg/metrics"
	"github.com/marmos91/dittovault/pkg/shard"
	"github.com/marmos91/dittovault/pkg/store/chunk"
)

const component = "directory"

// Provisioning phases.
const (
	PhaseAllocate = "allocate"
	PhaseInstall  = "install"
)

// DefaultCapacityBytes is the storage granted to a new shard when Config
// leaves it unset.
const DefaultCapacityBytes = 2 << 30

// Provisioner is the hosting platform as seen by the directory.
type Provisioner interface {
	Allocate(ctx context.Context, grant shard.Grant) (chunk.Address, error)
	Install(ctx context.Context, addr chunk.Address, payload []byte, owner identity.Principal) error
}

// ProvisioningStatus records the last failed provisioning attempt.
// Shard is set when allocation succeeded and install did not.
type ProvisioningStatus struct {
	Phase       string        `json:"phase"`
	Shard       chunk.Address `json:"shard,omitempty"`
	Code        int           `json:"code"`
	Message     string        `json:"message"`
	AttemptedAt uint64        `json:"attempted_at"`
}

// OwnerRecord is a registered owner.
type OwnerRecord struct {
	Owner        identity.Principal   `json:"owner"`
	DisplayName  *string              `json:"display_name,omitempty"`
	CreatedAt    uint64               `json:"created_at"`
	Shards       []chunk.Address      `json:"shards"`
	AliasOwners  []identity.Principal `json:"alias_owners,omitempty"`
	Provisioning *ProvisioningStatus  `json:"provisioning,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *OwnerRecord) Clone() OwnerRecord {
	c := *r
	if r.DisplayName != nil {
		name := *r.DisplayName
		c.DisplayName = &name
	}
	c.Shards = slices.Clone(r.Shards)
	c.AliasOwners = slices.Clone(r.AliasOwners)
	if r.Provisioning != nil {
		p := *r.Provisioning
		c.Provisioning = &p
	}
	return c
}

// State is the administrative summary of the directory.
type State struct {
	Owners              int                  `json:"owners"`
	Shards              int                  `json:"shards"`
	Unprovisioned       []identity.Principal `json:"unprovisioned"`
	InstallPayloadBytes int                  `json:"install_payload_bytes"`
}

// Config wires a Directory.
type Config struct {
	// Service is the directory's own principal, granted control of every
	// shard it provisions.
	Service identity.Principal

	// Gate classifies callers.
	Gate *auth.Gate

	// Provisioner allocates and installs shards.
	Provisioner Provisioner

	// CapacityBytes is the storage granted to each shard.
	CapacityBytes uint64

	// InstallPayload is the initial program payload. It can be replaced
	// through SetInstallPayload.
	InstallPayload []byte

	// Metrics is optional.
	Metrics metrics.StoreMetrics

	// Clock returns the current time in nanoseconds. Defaults to wall time.
	Clock func() uint64
}

// Directory is the identity directory.
//
// Thread Safety: mu guards records, the in-flight set and the install
// payload. Provisioning calls run without holding mu; inFlight keeps a
// single attempt per owner.
type Directory struct {
	mu             sync.RWMutex
	records        map[identity.Principal]*OwnerRecord
	inFlight       map[identity.Principal]struct{}
	installPayload []byte

	service     identity.Principal
	gate        *auth.Gate
	provisioner Provisioner
	capacity    uint64
	metrics     metrics.StoreMetrics
	clock       func() uint64
}

// New creates an empty directory.
func New(cfg Config) (*Directory, error) {
	if cfg.Service.IsZero() || cfg.Service.IsAnonymous() {
		return nil, fmt.Errorf("directory: service principal is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("directory: gate is required")
	}
	if cfg.Provisioner == nil {
		return nil, fmt.Errorf("directory: provisioner is required")
	}
	if cfg.CapacityBytes == 0 {
		cfg.CapacityBytes = DefaultCapacityBytes
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopStoreMetrics()
	}
	if cfg.Clock == nil {
		cfg.Clock = func() uint64 { return uint64(time.Now().UnixNano()) }
	}

	return &Directory{
		records:        make(map[identity.Principal]*OwnerRecord),
		inFlight:       make(map[identity.Principal]struct{}),
		installPayload: slices.Clone(cfg.InstallPayload),
		service:        cfg.Service,
		gate:           cfg.Gate,
		provisioner:    cfg.Provisioner,
		capacity:       cfg.CapacityBytes,
		metrics:        cfg.Metrics,
		clock:          cfg.Clock,
	}, nil
}

func (d *Directory) observe(operation string, start time.Time, err error) {
	d.metrics.ObserveOperation(component, operation, time.Since(start), err)
}

// Register creates the caller's record and provisions one shard for it.
//
// Returns AlreadyExists if the caller is registered. When provisioning fails
// the record stays registered without a shard, and both the record and a
// ProvisioningFailed error are returned.
func (d *Directory) Register(ctx context.Context, caller identity.Principal, displayName *string) (rec OwnerRecord, err error) {
	start := time.Now()
	defer func() { d.observe("Register", start, err) }()

	if err := d.gate.ClassifyAnonymous(caller); err != nil {
		return OwnerRecord{}, err
	}

	// ===== Step 1: Insert record =====
	d.mu.Lock()
	if _, exists := d.records[caller]; exists {
		d.mu.Unlock()
		return OwnerRecord{}, apierror.NewAlreadyExists(apierror.MsgUserExists)
	}
	record := &OwnerRecord{
		Owner:     caller,
		CreatedAt: d.clock(),
		Shards:    []chunk.Address{},
	}
	if displayName != nil {
		name := *displayName
		record.DisplayName = &name
	}
	d.records[caller] = record
	d.inFlight[caller] = struct{}{}
	payload := slices.Clone(d.installPayload)
	d.metrics.SetObjects(component, "owners", len(d.records))
	d.mu.Unlock()

	logger.Info("owner registered: owner=%s", caller)

	// ===== Step 2: Provision shard =====
	addr, status := d.provision(ctx, caller, payload, "")

	// ===== Step 3: Commit outcome =====
	return d.commitProvisioning(caller, addr, status)
}

// RetryProvisioning provisions a shard for a registered owner that has none.
//
// An owner that already has a shard gets its record back unchanged. When the
// last attempt allocated a unit but failed to install, only the install is
// retried. Concurrent attempts for the same owner fail with AlreadyExists.
func (d *Directory) RetryProvisioning(ctx context.Context, caller identity.Principal) (rec OwnerRecord, err error) {
	start := time.Now()
	defer func() { d.observe("RetryProvisioning", start, err) }()

	if err := d.gate.ClassifyAnonymous(caller); err != nil {
		return OwnerRecord{}, err
	}

	d.mu.Lock()
	record, ok := d.records[caller]
	if !ok {
		d.mu.Unlock()
		return OwnerRecord{}, apierror.NewNotFound(apierror.MsgUserNotFound)
	}
	if len(record.Shards) > 0 {
		out := record.Clone()
		d.mu.Unlock()
		return out, nil
	}
	if _, busy := d.inFlight[caller]; busy {
		d.mu.Unlock()
		return OwnerRecord{}, apierror.NewAlreadyExists(apierror.MsgProvisioningInFlight)
	}

	var resume chunk.Address
	if p := record.Provisioning; p != nil && p.Phase == PhaseInstall {
		resume = p.Shard
	}
	d.inFlight[caller] = struct{}{}
	payload := slices.Clone(d.installPayload)
	d.mu.Unlock()

	logger.Info("retrying shard provisioning: owner=%s resume=%q", caller, resume)

	addr, status := d.provision(ctx, caller, payload, resume)
	return d.commitProvisioning(caller, addr, status)
}

// provision runs the two platform phases. When resume is set, allocation is
// skipped and the install targets that unit.
func (d *Directory) provision(ctx context.Context, owner identity.Principal, payload []byte, resume chunk.Address) (chunk.Address, *ProvisioningStatus) {
	fail := func(phase string, addr chunk.Address, err error) *ProvisioningStatus {
		code, message := platformDetails(err)
		logger.Warn("shard provisioning failed: owner=%s phase=%s shard=%q code=%d error=%v", owner, phase, addr, code, err)
		return &ProvisioningStatus{
			Phase:       phase,
			Shard:       addr,
			Code:        code,
			Message:     message,
			AttemptedAt: d.clock(),
		}
	}

	addr := resume
	if addr == "" {
		if len(payload) == 0 {
			return "", fail(PhaseInstall, "", errors.New(apierror.MsgInstallPayloadMissing))
		}

		grant := shard.Grant{
			CapacityBytes: d.capacity,
			Controllers:   []identity.Principal{d.service},
		}
		var err error
		addr, err = d.provisioner.Allocate(ctx, grant)
		if err != nil {
			return "", fail(PhaseAllocate, "", err)
		}
	}

	if err := d.provisioner.Install(ctx, addr, payload, owner); err != nil {
		return "", fail(PhaseInstall, addr, err)
	}
	return addr, nil
}

func (d *Directory) commitProvisioning(owner identity.Principal, addr chunk.Address, status *ProvisioningStatus) (OwnerRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.inFlight, owner)

	record, ok := d.records[owner]
	if !ok {
		// Only Restore replaces records; an in-flight owner is never dropped.
		return OwnerRecord{}, fmt.Errorf("directory: record for %s vanished during provisioning", owner)
	}

	if status != nil {
		record.Provisioning = status
		d.metrics.RecordEvent(component, "provisioning_failed")
		return record.Clone(), apierror.NewProvisioningFailed(status.Phase, status.Code, status.Message)
	}

	record.Shards = append(record.Shards, addr)
	record.Provisioning = nil
	d.metrics.RecordEvent(component, "provisioned")
	logger.Info("shard provisioned: owner=%s shard=%s", owner, addr)
	return record.Clone(), nil
}

// platformDetails extracts the platform code and message from err.
func platformDetails(err error) (int, string) {
	var pe *shard.PlatformError
	if errors.As(err, &pe) {
		return pe.Code, pe.Message
	}
	return shard.CodeInternal, err.Error()
}

// GetSelf returns the caller's record.
func (d *Directory) GetSelf(ctx context.Context, caller identity.Principal) (OwnerRecord, error) {
	if err := d.gate.ClassifyAnonymous(caller); err != nil {
		return OwnerRecord{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	record, ok := d.records[caller]
	if !ok {
		return OwnerRecord{}, apierror.NewNotFound(apierror.MsgUserNotFound)
	}
	return record.Clone(), nil
}

// GetState returns counts, the owners still without a shard, and the size of
// the install payload. Admin only.
func (d *Directory) GetState(caller identity.Principal) (State, error) {
	if err := d.gate.ClassifyAnonymousAndAdmin(caller); err != nil {
		return State{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	state := State{
		Owners:              len(d.records),
		Unprovisioned:       []identity.Principal{},
		InstallPayloadBytes: len(d.installPayload),
	}
	for _, owner := range d.sortedOwnersLocked() {
		n := len(d.records[owner].Shards)
		state.Shards += n
		if n == 0 {
			state.Unprovisioned = append(state.Unprovisioned, owner)
		}
	}
	return state, nil
}

// ListAll returns every record sorted by owner. Admin only.
func (d *Directory) ListAll(caller identity.Principal) ([]OwnerRecord, error) {
	if err := d.gate.ClassifyAnonymousAndAdmin(caller); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sortedRecordsLocked(), nil
}

// ListShardsByOwner maps every owner to its shard addresses. Admin only.
func (d *Directory) ListShardsByOwner(caller identity.Principal) (map[identity.Principal][]chunk.Address, error) {
	if err := d.gate.ClassifyAnonymousAndAdmin(caller); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[identity.Principal][]chunk.Address, len(d.records))
	for owner, record := range d.records {
		out[owner] = slices.Clone(record.Shards)
	}
	return out, nil
}

// GetInstallPayload returns the program installed into new shards. Admin only.
func (d *Directory) GetInstallPayload(caller identity.Principal) ([]byte, error) {
	if err := d.gate.ClassifyAnonymousAndAdmin(caller); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.installPayload) == 0 {
		return nil, apierror.NewNotFound(apierror.MsgInstallPayloadMissing)
	}
	return slices.Clone(d.installPayload), nil
}

// SetInstallPayload replaces the program installed into new shards. The
// payload is validated as a shard manifest. Admin only.
func (d *Directory) SetInstallPayload(caller identity.Principal, payload []byte) error {
	if err := d.gate.ClassifyAnonymousAndAdmin(caller); err != nil {
		return err
	}
	if _, err := shard.ParseManifest(payload); err != nil {
		return apierror.NewInvalidArgument("install payload: %v", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.installPayload = slices.Clone(payload)
	logger.Info("install payload replaced: bytes=%d", len(payload))
	return nil
}

func (d *Directory) sortedOwnersLocked() []identity.Principal {
	owners := make([]identity.Principal, 0, len(d.records))
	for owner := range d.records {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners
}

func (d *Directory) sortedRecordsLocked() []OwnerRecord {
	owners := d.sortedOwnersLocked()
	out := make([]OwnerRecord, 0, len(owners))
	for _, owner := range owners {
		out = append(out, d.records[owner].Clone())
	}
	return out
}
