package market

import (
	"time"

	"github.com/calebmori/mevengine/internal/domain"
)

// Snapshot is an immutable view over the fresh edges of a Graph at a point in
// time. Detectors traverse snapshots concurrently without coordination; a
// snapshot never changes after construction.
type Snapshot struct {
	Version uint64
	TakenAt time.Time

	edges       []Edge
	adjacency   map[domain.Instrument][]Edge
	instruments []domain.Instrument
	hot         map[domain.Instrument]bool
}

func newSnapshot(version uint64, takenAt time.Time, edges []Edge, hot map[domain.Instrument]bool) *Snapshot {
	adjacency := make(map[domain.Instrument][]Edge)
	seen := make(map[domain.Instrument]bool)
	instruments := make([]domain.Instrument, 0, len(edges))
	for _, e := range edges {
		adjacency[e.From] = append(adjacency[e.From], e)
		for _, ins := range [2]domain.Instrument{e.From, e.To} {
			if !seen[ins] {
				seen[ins] = true
				instruments = append(instruments, ins)
			}
		}
	}
	return &Snapshot{
		Version:     version,
		TakenAt:     takenAt,
		edges:       edges,
		adjacency:   adjacency,
		instruments: instruments,
		hot:         hot,
	}
}

// Edges returns all fresh edges. Callers must not modify the slice.
func (s *Snapshot) Edges() []Edge {
	return s.edges
}

// Outgoing returns the fresh edges leaving the given instrument.
func (s *Snapshot) Outgoing(from domain.Instrument) []Edge {
	return s.adjacency[from]
}

// Instruments returns every instrument that appears on a fresh edge.
func (s *Snapshot) Instruments() []domain.Instrument {
	return s.instruments
}

// Hot reports whether the instrument saw activity within the graph's hot
// window. Detection reruns are restricted to hot instruments to keep latency
// bounded as the graph grows.
func (s *Snapshot) Hot(ins domain.Instrument) bool {
	return s.hot[ins]
}

// HotInstruments returns the instruments in the hot set that also appear on a
// fresh edge.
func (s *Snapshot) HotInstruments() []domain.Instrument {
	out := make([]domain.Instrument, 0, len(s.hot))
	for _, ins := range s.instruments {
		if s.hot[ins] {
			out = append(out, ins)
		}
	}
	return out
}
