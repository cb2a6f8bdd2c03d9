package httpapi

import (
	"sync"

	"github.com/corvus-labs/swarmd/runtime/agent/topology"
)

// hierarchyStore is the process-wide, in-memory registry of Topologies
// created via hierarchies/create, keyed by the opaque ID handed back to
// the caller. It is deliberately the only singleton state this package
// holds beyond RunRegistry/EventBus, exposed here at the HTTP boundary per
// spec §9's "global mutable state" design note.
type hierarchyStore struct {
	mu      sync.RWMutex
	byID    map[string]*topology.Topology
	order   []string
}

func newHierarchyStore() *hierarchyStore {
	return &hierarchyStore{byID: make(map[string]*topology.Topology)}
}

func (h *hierarchyStore) put(id string, topo *topology.Topology) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byID[id] = topo
	h.order = append(h.order, id)
}

func (h *hierarchyStore) get(id string) (*topology.Topology, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.byID[id]
	return t, ok
}

// list returns a page of hierarchy summaries, most recently created first.
func (h *hierarchyStore) list(page, size int) ([]hierarchySummary, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Reverse insertion order so the most recently created hierarchy is
	// first, matching runregistry.Store.List's ordering contract.
	ids := make([]string, len(h.order))
	for i, id := range h.order {
		ids[len(h.order)-1-i] = id
	}

	total := len(ids)
	start := (page - 1) * size
	if start >= total || start < 0 {
		return nil, total
	}
	end := start + size
	if end > total {
		end = total
	}

	items := make([]hierarchySummary, 0, end-start)
	for _, id := range ids[start:end] {
		topo := h.byID[id]
		items = append(items, hierarchySummary{ID: id, Teams: len(topo.Teams)})
	}
	return items, total
}
