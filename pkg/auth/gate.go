// Package auth classifies callers before any state is touched.
//
// Every public operation of the directory, asset store and chunk stores runs
// one of the Gate checks first. The checks are pure: they read only the caller
// and the static allow-list.
package auth

import (
	"sort"
	"sync"

	"github.com/marmos91/dittovault/pkg/apierror"
	"github.com/marmos91/dittovault/pkg/identity"
)

// Gate holds the trusted principal allow-list.
//
// Thread safety: safe for concurrent use. The allow-list may grow through
// Trust, which server.New calls to admit the node's service principal, but is
// never shrunk.
type Gate struct {
	mu      sync.RWMutex
	trusted map[identity.Principal]struct{}
}

// NewGate builds a gate from the configured allow-list.
func NewGate(trusted ...identity.Principal) *Gate {
	g := &Gate{trusted: make(map[identity.Principal]struct{}, len(trusted))}
	for _, p := range trusted {
		g.trusted[p] = struct{}{}
	}
	return g
}

// Trust adds principals to the allow-list.
func (g *Gate) Trust(principals ...identity.Principal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range principals {
		g.trusted[p] = struct{}{}
	}
}

// Trusted returns the allow-list in sorted order.
func (g *Gate) Trusted() []identity.Principal {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]identity.Principal, 0, len(g.trusted))
	for p := range g.trusted {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClassifyAnonymous rejects the anonymous principal.
func (g *Gate) ClassifyAnonymous(caller identity.Principal) error {
	if caller.IsZero() || caller.IsAnonymous() {
		return apierror.NewUnauthorized(apierror.MsgAnonymousCaller)
	}
	return nil
}

// ClassifyAdmin accepts only allow-listed principals.
func (g *Gate) ClassifyAdmin(caller identity.Principal) error {
	g.mu.RLock()
	_, ok := g.trusted[caller]
	g.mu.RUnlock()

	if !ok {
		return apierror.NewUnauthorized(apierror.MsgCallerNotTrusted)
	}
	return nil
}

// ClassifyAnonymousAndAdmin requires both checks to pass.
func (g *Gate) ClassifyAnonymousAndAdmin(caller identity.Principal) error {
	if err := g.ClassifyAnonymous(caller); err != nil {
		return err
	}
	return g.ClassifyAdmin(caller)
}
