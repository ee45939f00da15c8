package coop

import "strings"

// roundSeparator joins participant inputs in the combined prompt.
const roundSeparator = "\n\n"

// Aggregator is the host-only pending input set.
//
// Entries keep the position of their first submission in the round; a second
// submit for the same id replaces the text in place.
type Aggregator struct {
	order []string
	texts map[string]string
}

// NewAggregator returns an empty pending set.
func NewAggregator() *Aggregator {
	return &Aggregator{texts: make(map[string]string)}
}

// Submit stores or overwrites the entry for id.
func (a *Aggregator) Submit(id, text string) {
	if _, ok := a.texts[id]; !ok {
		a.order = append(a.order, id)
	}
	a.texts[id] = text
}

// Drop forgets a participant's pending entry.
func (a *Aggregator) Drop(id string) {
	if _, ok := a.texts[id]; !ok {
		return
	}
	delete(a.texts, id)
	for i, v := range a.order {
		if v == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// Combine drains the set. It returns false, and changes nothing, when empty.
func (a *Aggregator) Combine() (string, bool) {
	if len(a.order) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(a.order))
	for _, id := range a.order {
		parts = append(parts, a.texts[id])
	}
	a.order = nil
	a.texts = make(map[string]string)
	return strings.Join(parts, roundSeparator), true
}

// Len returns the number of pending entries.
func (a *Aggregator) Len() int { return len(a.order) }

// Pending returns the ids with an entry, in submission order.
func (a *Aggregator) Pending() []string {
	return append([]string(nil), a.order...)
}
