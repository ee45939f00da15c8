package coop

// Participant is one member of the shared session as seen locally.
type Participant struct {
	ID          string
	DisplayName string
	IsHost      bool
}

// Registry is the ordered membership view. It is owned by the session loop and
// only changes on server-confirmed events.
type Registry struct {
	order []string
	byID  map[string]Participant
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Participant)}
}

// AddOrIgnore inserts p unless its id is already present. A new host entry demotes
// any previous one so the view never shows two hosts.
func (r *Registry) AddOrIgnore(p Participant) bool {
	if p.ID == "" {
		return false
	}
	if _, ok := r.byID[p.ID]; ok {
		return false
	}
	if p.IsHost {
		r.demoteHost()
	}
	r.byID[p.ID] = p
	r.order = append(r.order, p.ID)
	return true
}

// Remove deletes id; unknown ids are ignored.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Replace swaps the whole roster (welcome semantics).
func (r *Registry) Replace(ps []Participant) {
	r.Clear()
	for _, p := range ps {
		r.AddOrIgnore(p)
	}
}

// Clear empties the registry.
func (r *Registry) Clear() {
	r.order = nil
	r.byID = make(map[string]Participant)
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// Get returns the participant for id.
func (r *Registry) Get(id string) (Participant, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// List returns participants in insertion order.
func (r *Registry) List() []Participant {
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len returns the member count.
func (r *Registry) Len() int { return len(r.order) }

func (r *Registry) demoteHost() {
	for id, p := range r.byID {
		if p.IsHost {
			p.IsHost = false
			r.byID[id] = p
		}
	}
}
