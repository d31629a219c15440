package sim

import (
	"testing"

	"github.com/izzymg/spellserver/internal/entity"
)

// TestDispatchEffects_HostileHitNoShield covers the plain damage
// scenario from spec.md §8: a hostile Fire Ball hit reduces health with
// no shield present.
func TestDispatchEffects_HostileHitNoShield(t *testing.T) {
	store := entity.NewStore()
	target := store.Spawn()
	store.Health.Insert(target, 100)

	delta := int64(-50)
	DispatchEffects(store, []EffectEvent{{Target: target, HealthDelta: &delta}})

	hp, _ := store.Health.Get(target)
	if hp != 50 {
		t.Fatalf("expected hp=50, got %d", hp)
	}
}

// TestDispatchEffects_ShieldAbsorbsFully covers the case where an
// absorb shield fully consumes the incoming damage.
func TestDispatchEffects_ShieldAbsorbsFully(t *testing.T) {
	store := entity.NewStore()
	target := store.Spawn()
	store.Health.Insert(target, 100)
	shieldChild, ok := AddAura(store, target, 1) // Arcane Shield, value 100
	if !ok {
		t.Fatalf("expected aura 1 to exist in catalog")
	}

	delta := int64(-50)
	DispatchEffects(store, []EffectEvent{{Target: target, HealthDelta: &delta}})

	hp, _ := store.Health.Get(target)
	if hp != 100 {
		t.Fatalf("expected hp unchanged at 100, got %d", hp)
	}
	sa, _ := store.ShieldAura.Get(shieldChild)
	if sa.Value != 50 {
		t.Fatalf("expected remaining shield 50, got %d", sa.Value)
	}
}

// TestDispatchEffects_ShieldSpillover covers absorb "spillover": damage
// exceeding the shield's remaining value reduces health by the excess.
func TestDispatchEffects_ShieldSpillover(t *testing.T) {
	store := entity.NewStore()
	target := store.Spawn()
	store.Health.Insert(target, 100)
	shieldChild, _ := AddAura(store, target, 1) // value 100
	store.ShieldAura.Insert(shieldChild, entity.ShieldAura{Value: 30})

	delta := int64(-50)
	DispatchEffects(store, []EffectEvent{{Target: target, HealthDelta: &delta}})

	hp, _ := store.Health.Get(target)
	if hp != 80 { // 100 - (50-30) spillover
		t.Fatalf("expected hp=80 after spillover, got %d", hp)
	}
	sa, _ := store.ShieldAura.Get(shieldChild)
	if sa.Value != 0 {
		t.Fatalf("expected shield fully consumed, got %d", sa.Value)
	}
}

// TestDispatchEffects_HealIgnoresShield covers that positive health
// deltas bypass the absorb pass entirely.
func TestDispatchEffects_HealIgnoresShield(t *testing.T) {
	store := entity.NewStore()
	target := store.Spawn()
	store.Health.Insert(target, 50)
	AddAura(store, target, 1)

	delta := int64(40)
	DispatchEffects(store, []EffectEvent{{Target: target, HealthDelta: &delta}})

	hp, _ := store.Health.Get(target)
	if hp != 90 {
		t.Fatalf("expected hp=90, got %d", hp)
	}
}

func TestDispatchEffects_AddsAura(t *testing.T) {
	store := entity.NewStore()
	caster := store.Spawn()
	target := store.Spawn()

	auraID := entity.AuraID(0)
	DispatchEffects(store, []EffectEvent{{Target: target, AuraToAdd: &auraID, AuraOwner: target}})

	found := false
	for _, child := range store.Children(target) {
		if a, ok := store.Aura.Get(child); ok && a.AuraID == 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected aura 0 attached to target via child entity")
	}
	_ = caster
}
