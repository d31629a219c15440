package entity

import "testing"

func TestSpawnDespawnRecyclesGeneration(t *testing.T) {
	s := NewStore()
	a := s.Spawn()
	if !s.Alive(a) {
		t.Fatalf("expected a alive")
	}
	s.DespawnRecursive(a)
	if s.Alive(a) {
		t.Fatalf("expected a dead after despawn")
	}

	b := s.Spawn()
	if a.Index() != b.Index() {
		t.Fatalf("expected slot reuse: a.idx=%d b.idx=%d", a.Index(), b.Index())
	}
	if a.Generation() == b.Generation() {
		t.Fatalf("expected generation bump on reuse")
	}
	if s.Alive(a) {
		t.Fatalf("stale id a must never alias reused slot")
	}
	if !s.Alive(b) {
		t.Fatalf("expected b alive")
	}
}

func TestDespawnRecursivePostOrder(t *testing.T) {
	s := NewStore()
	parent := s.Spawn()
	child := s.Spawn()
	grandchild := s.Spawn()
	s.SetParent(child, parent)
	s.SetParent(grandchild, child)

	s.Health.Insert(parent, 10)
	s.Health.Insert(child, 20)
	s.Health.Insert(grandchild, 30)

	s.DespawnRecursive(parent)

	for _, id := range []ID{parent, child, grandchild} {
		if s.Alive(id) {
			t.Fatalf("entity %d should be dead after recursive despawn", id)
		}
		if s.Health.Has(id) {
			t.Fatalf("entity %d should have no components left", id)
		}
	}
}

func TestSetEachDeterministicOrder(t *testing.T) {
	s := NewSet[int]()
	ids := []ID{newID(0, 5), newID(0, 1), newID(0, 3)}
	for _, id := range ids {
		s.Insert(id, int(id.Index()))
	}
	var seen []ID
	s.Each(func(id ID, _ int) { seen = append(seen, id) })
	for i := 1; i < len(seen); i++ {
		if seen[i-1] >= seen[i] {
			t.Fatalf("Each did not iterate in ascending order: %v", seen)
		}
	}
}

func TestSetUpdateNoOpWhenAbsent(t *testing.T) {
	s := NewSet[int]()
	id := newID(0, 1)
	s.Update(id, func(v int) int { return v + 1 }) // must not panic or insert
	if s.Has(id) {
		t.Fatalf("Update must not insert a value for an absent id")
	}
}

func TestHasAnyComponent(t *testing.T) {
	s := NewStore()
	id := s.Spawn()
	if s.HasAnyComponent(id) {
		t.Fatalf("freshly spawned entity should carry no components")
	}
	s.Player.Insert(id, struct{}{})
	if !s.HasAnyComponent(id) {
		t.Fatalf("expected HasAnyComponent true once a component is attached")
	}
}
