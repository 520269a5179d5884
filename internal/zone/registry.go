package zone

import "sync"

// Registry tracks every live zone so coordinators can ask whether a sibling
// on the same heat source still wants heat. The query reads each zone's
// atomic flag, never its lock, so two zones transitioning at once cannot
// deadlock through it.
type Registry struct {
	mu    sync.RWMutex
	zones map[string]*Controller
}

func NewRegistry() *Registry {
	return &Registry{zones: make(map[string]*Controller)}
}

func (r *Registry) Add(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zones[c.ID()] = c
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.zones, id)
}

func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.zones[id]
	return c, ok
}

// All returns the registered zones in no particular order.
func (r *Registry) All() []*Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Controller, 0, len(r.zones))
	for _, c := range r.zones {
		out = append(out, c)
	}
	return out
}

// SiblingWantsHeat reports whether any other zone on the given heat source
// currently calls for heat.
func (r *Registry) SiblingWantsHeat(heaterID, excludeZoneID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.zones {
		if id == excludeZoneID || c.CentralHeaterID() != heaterID {
			continue
		}
		if c.WantsHeat() {
			return true
		}
	}
	return false
}
