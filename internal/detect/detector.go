// Package detect implements the opportunity detectors: Bellman-Ford arbitrage
// over the market graph plus the mempool- and protocol-state-driven strategy
// detectors (sandwich, liquidation, flash-loan, JIT liquidity, cross-chain).
package detect

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/calebmori/mevengine/internal/domain"
	"github.com/calebmori/mevengine/internal/market"
)

// Detector is the common capability all strategy detectors implement: given
// an immutable market snapshot, emit zero or more candidate opportunities.
type Detector interface {
	Name() string
	Kind() domain.StrategyKind
	Scan(ctx context.Context, snap *market.Snapshot) ([]*domain.Opportunity, error)
}

// MempoolDetector is implemented by detectors that additionally react to
// decoded pending transactions (sandwich, JIT liquidity).
type MempoolDetector interface {
	Detector
	OnPendingTx(ctx context.Context, tx domain.PendingTx, snap *market.Snapshot) ([]*domain.Opportunity, error)
}

// HealthDetector is implemented by detectors that consume lending-protocol
// account health updates (liquidation).
type HealthDetector interface {
	Detector
	OnAccountHealth(health domain.AccountHealth)
}

// Registry manages a named collection of detectors that can be looked up at
// runtime. It is safe for concurrent use.
type Registry struct {
	detectors map[string]Detector
	mu        sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{detectors: make(map[string]Detector)}
}

// Register adds a detector under its Name. An existing detector with the same
// name is replaced.
func (r *Registry) Register(d Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detectors[d.Name()] = d
}

// Get retrieves a detector by name.
func (r *Registry) Get(name string) (Detector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[name]
	if !ok {
		return nil, fmt.Errorf("detector %q: not registered", name)
	}
	return d, nil
}

// List returns all registered detectors sorted by name.
func (r *Registry) List() []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.detectors))
	for n := range r.detectors {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Detector, 0, len(names))
	for _, n := range names {
		out = append(out, r.detectors[n])
	}
	return out
}
