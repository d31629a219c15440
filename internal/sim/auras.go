package sim

import (
	"time"

	"github.com/izzymg/spellserver/internal/entity"
)

// AddAura spawns a new child entity under owner carrying the aura named
// by id from the static catalog, wiring in the variant-specific
// TickingEffectAura or ShieldAura component per its Kind. Unknown ids
// are dropped (the caller logs/counts the miss).
//
// Grounded on original_source's sys_add_aura_ev
// (server/src/game/effect_application/mod.rs), reimplemented as plain
// child-entity spawning over internal/entity.Store instead of Bevy
// commands.
func AddAura(store *entity.Store, owner entity.ID, id entity.AuraID) (entity.ID, bool) {
	data, ok := AuraByID(id)
	if !ok {
		return 0, false
	}
	child := store.Spawn()
	store.SetParent(child, owner)
	store.Aura.Insert(child, entity.Aura{AuraID: id, Owner: owner, Duration: data.Duration})

	switch data.Kind {
	case AuraKindTickingHP:
		store.TickingEffectAura.Insert(child, entity.TickingEffectAura{
			Period:         time.Second,
			BaseMultiplier: data.BaseMultiplier,
		})
	case AuraKindShield:
		store.ShieldAura.Insert(child, entity.ShieldAura{Value: data.BaseMultiplier})
	}
	return child, true
}

// RemoveAura despawns the given aura child entity and its subtree.
// Grounded on original_source's sys_remove_aura_ev.
func RemoveAura(store *entity.Store, auraEntity entity.ID) {
	store.DespawnRecursive(auraEntity)
}

// TickAuras advances every Aura's elapsed duration by dt, emits one
// EffectEvent per TickingEffectAura that crosses its period boundary
// during this step, and returns the child entities whose total duration
// has now expired (for the caller to despawn after dispatch).
//
// Grounded on original_source's periodic aura-tick systems
// (server/src/game/effect_application/mod.rs), collapsed into a single
// pass since the Go store has no per-component system scheduling.
func TickAuras(store *entity.Store, dt time.Duration) (events []EffectEvent, expired []entity.ID) {
	store.Aura.Each(func(id entity.ID, a entity.Aura) {
		a.Elapsed += dt
		store.Aura.Insert(id, a)
		if a.Expired() {
			expired = append(expired, id)
		}
	})

	store.TickingEffectAura.Each(func(id entity.ID, t entity.TickingEffectAura) {
		aura, ok := store.Aura.Get(id)
		if !ok {
			return
		}
		t.SinceLastHit += dt
		for t.SinceLastHit >= t.Period {
			t.SinceLastHit -= t.Period
			delta := t.BaseMultiplier
			events = append(events, EffectEvent{Target: aura.Owner, HealthDelta: &delta})
		}
		store.TickingEffectAura.Insert(id, t)
	})

	return events, expired
}
