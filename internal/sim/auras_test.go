package sim

import (
	"testing"
	"time"

	"github.com/izzymg/spellserver/internal/entity"
)

// TestTickAuras_TickingHPEmitsPerPeriod covers the Immolated-style
// ticking damage aura from spec.md §8: one HealthDelta event per full
// period elapsed, not per tick.
func TestTickAuras_TickingHPEmitsPerPeriod(t *testing.T) {
	store := entity.NewStore()
	owner := store.Spawn()
	store.Health.Insert(owner, 100)
	AddAura(store, owner, 0) // Immolated: period 1s, multiplier -5

	events, expired := TickAuras(store, 500*time.Millisecond)
	if len(events) != 0 {
		t.Fatalf("expected no tick event before a full period elapses, got %d", len(events))
	}
	if len(expired) != 0 {
		t.Fatalf("expected no expiry yet")
	}

	events, _ = TickAuras(store, 600*time.Millisecond) // crosses the 1s boundary
	if len(events) != 1 {
		t.Fatalf("expected exactly one tick event, got %d", len(events))
	}
	if *events[0].HealthDelta != -5 {
		t.Fatalf("expected -5 delta, got %d", *events[0].HealthDelta)
	}
	if events[0].Target != owner {
		t.Fatalf("expected event targeting owner")
	}
}

// TestTickAuras_ExpiresAfterDuration covers duration expiry reporting.
func TestTickAuras_ExpiresAfterDuration(t *testing.T) {
	store := entity.NewStore()
	owner := store.Spawn()
	child, _ := AddAura(store, owner, 1) // Arcane Shield: duration 5s

	_, expired := TickAuras(store, 4*time.Second)
	if len(expired) != 0 {
		t.Fatalf("expected not yet expired at 4s")
	}
	_, expired = TickAuras(store, 2*time.Second) // total 6s > 5s duration
	if len(expired) != 1 || expired[0] != child {
		t.Fatalf("expected aura child expired, got %v", expired)
	}
}

func TestAddAura_UnknownIDReturnsFalse(t *testing.T) {
	store := entity.NewStore()
	owner := store.Spawn()
	if _, ok := AddAura(store, owner, entity.AuraID(99)); ok {
		t.Fatalf("expected unknown aura id to fail")
	}
}

func TestRemoveAura_DespawnsSubtree(t *testing.T) {
	store := entity.NewStore()
	owner := store.Spawn()
	child, _ := AddAura(store, owner, 0)
	RemoveAura(store, child)
	if store.Alive(child) {
		t.Fatalf("expected aura entity despawned")
	}
}
