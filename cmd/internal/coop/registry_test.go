package coop

import (
	"reflect"
	"testing"
)

func participantIDs(ps []Participant) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func TestRegistry_AddRemoveOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		if !r.AddOrIgnore(Participant{ID: id, DisplayName: id}) {
			t.Fatalf("add %s: want true", id)
		}
	}
	if r.AddOrIgnore(Participant{ID: "b", DisplayName: "other"}) {
		t.Fatalf("duplicate add must be ignored")
	}
	if r.AddOrIgnore(Participant{}) {
		t.Fatalf("empty id must be ignored")
	}
	if p, _ := r.Get("b"); p.DisplayName != "b" {
		t.Fatalf("duplicate overwrote entry: %+v", p)
	}

	if !r.Remove("b") || r.Remove("b") {
		t.Fatalf("remove should succeed once")
	}
	if got := participantIDs(r.List()); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("order=%v", got)
	}
	if r.Contains("b") || r.Len() != 2 {
		t.Fatalf("contains b=%v len=%d", r.Contains("b"), r.Len())
	}
}

func TestRegistry_SingleHost(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Replace([]Participant{
		{ID: "a", IsHost: true},
		{ID: "b", IsHost: true},
		{ID: "c"},
	})
	r.AddOrIgnore(Participant{ID: "d", IsHost: true})

	var hosts []string
	for _, p := range r.List() {
		if p.IsHost {
			hosts = append(hosts, p.ID)
		}
	}
	if !reflect.DeepEqual(hosts, []string{"d"}) {
		t.Fatalf("hosts=%v", hosts)
	}
}

func TestRegistry_ReplaceAndClear(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.AddOrIgnore(Participant{ID: "old"})
	r.Replace([]Participant{{ID: "x"}, {ID: "y"}, {ID: "x"}})
	if got := participantIDs(r.List()); !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Fatalf("after replace=%v", got)
	}

	r.Clear()
	if r.Len() != 0 || len(r.List()) != 0 || r.Contains("x") {
		t.Fatalf("registry not empty after clear")
	}
}
