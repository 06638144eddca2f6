// Package registry tracks the execution units of the shard host: which
// addresses have been allocated and which of them have a chunk store
// installed.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/marmos91/dittovault/pkg/store/chunk"
)

var (
	// ErrUnitNotFound is returned for an address that was never allocated.
	ErrUnitNotFound = errors.New("unit not found")

	// ErrNotInstalled is returned when a unit has no chunk store yet.
	ErrNotInstalled = errors.New("unit has no chunk store installed")

	// ErrAlreadyInstalled is returned when installing into an occupied unit.
	ErrAlreadyInstalled = errors.New("unit already has a chunk store installed")
)

// Unit is one allocated execution unit.
type Unit struct {
	Address       chunk.Address
	CapacityBytes uint64
	Controllers   []identity.Principal
	AllocatedAt   time.Time

	// Store is nil until the unit is installed.
	Store *chunk.Store
}

// Installed reports whether a chunk store runs in the unit.
func (u Unit) Installed() bool {
	return u.Store != nil
}

// Registry is a thread-safe address to unit map.
//
// Example usage:
//
//	reg := NewRegistry()
//	reg.Allocate(Unit{Address: "shard-1", CapacityBytes: 1 << 30})
//	reg.Install("shard-1", store)
//
//	store, _ := reg.Get("shard-1")
type Registry struct {
	mu    sync.RWMutex
	units map[chunk.Address]*Unit
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		units: make(map[chunk.Address]*Unit),
	}
}

// Allocate records a new, empty unit.
// Returns an error if the address is empty or already allocated.
func (r *Registry) Allocate(unit Unit) error {
	if unit.Address == "" {
		return fmt.Errorf("cannot allocate unit with empty address")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.units[unit.Address]; exists {
		return fmt.Errorf("unit %q already allocated", unit.Address)
	}

	unit.Controllers = slices.Clone(unit.Controllers)
	r.units[unit.Address] = &unit
	return nil
}

// Install binds a chunk store to an allocated unit.
func (r *Registry) Install(addr chunk.Address, store *chunk.Store) error {
	if store == nil {
		return fmt.Errorf("cannot install nil chunk store")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	unit, exists := r.units[addr]
	if !exists {
		return fmt.Errorf("unit %q: %w", addr, ErrUnitNotFound)
	}
	if unit.Store != nil {
		return fmt.Errorf("unit %q: %w", addr, ErrAlreadyInstalled)
	}

	unit.Store = store
	return nil
}

// Get returns the chunk store installed at addr.
func (r *Registry) Get(addr chunk.Address) (*chunk.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	unit, exists := r.units[addr]
	if !exists {
		return nil, fmt.Errorf("unit %q: %w", addr, ErrUnitNotFound)
	}
	if unit.Store == nil {
		return nil, fmt.Errorf("unit %q: %w", addr, ErrNotInstalled)
	}
	return unit.Store, nil
}

// Unit returns a copy of the unit at addr.
func (r *Registry) Unit(addr chunk.Address) (Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	unit, exists := r.units[addr]
	if !exists {
		return Unit{}, false
	}
	u := *unit
	u.Controllers = slices.Clone(unit.Controllers)
	return u, true
}

// Remove forgets a unit. The caller owns closing its store.
func (r *Registry) Remove(addr chunk.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.units[addr]; !exists {
		return fmt.Errorf("unit %q: %w", addr, ErrUnitNotFound)
	}
	delete(r.units, addr)
	return nil
}

// Units returns copies of all units sorted by address.
func (r *Registry) Units() []Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	units := make([]Unit, 0, len(r.units))
	for _, unit := range r.units {
		u := *unit
		u.Controllers = slices.Clone(unit.Controllers)
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Address < units[j].Address })
	return units
}

// Stores returns all installed chunk stores sorted by address.
func (r *Registry) Stores() []*chunk.Store {
	var stores []*chunk.Store
	for _, u := range r.Units() {
		if u.Store != nil {
			stores = append(stores, u.Store)
		}
	}
	return stores
}

// CountUnits returns the number of allocated units.
func (r *Registry) CountUnits() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}

// CountInstalled returns the number of units with a chunk store.
func (r *Registry) CountInstalled() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, unit := range r.units {
		if unit.Store != nil {
			n++
		}
	}
	return n
}
