package sim

import (
	"time"

	"github.com/izzymg/spellserver/internal/entity"
)

// StartCasting attaches a CastingSpell to caster, replacing any cast
// already in progress. Unlike Tick's Validate step, StartCasting itself
// does not check hostility/faction: spec.md §4.G only gates casts at
// tick time, so a cast started against an invalid target is simply
// cancelled silently on its first tick rather than rejected up front.
// Returns ok=false for an unknown spell id or a caster lacking
// SpellCaster.
func StartCasting(store *entity.Store, caster, target entity.ID, spellID entity.SpellID) bool {
	data, ok := SpellByID(spellID)
	if !ok {
		return false
	}
	if !store.SpellCaster.Has(caster) {
		return false
	}
	store.CastingSpell.Insert(caster, entity.CastingSpell{
		SpellID: spellID,
		Target:  target,
		Total:   data.CastTime,
	})
	return true
}

// IsValidTarget implements spec.md §3/§4.G's bitwise faction rule: a
// Hostile spell requires the two factions share no bit, a Friendly
// spell requires they share at least one. Absent factions default to 0.
func IsValidTarget(hostility entity.Hostility, casterFaction, targetFaction uint32) bool {
	shared := casterFaction&targetFaction != 0
	if hostility == entity.Friendly {
		return shared
	}
	return !shared
}

// TickCasts advances every in-progress cast by dt, silently cancels any
// that Validate rejects, and returns the EffectEvents produced by casts
// that completed this tick. Grounded on spec.md §4.G's
// tick-then-validate-then-finish ordering within EFFECT_CREATION.
func TickCasts(store *entity.Store, dt time.Duration) []EffectEvent {
	var events []EffectEvent
	var removed []entity.ID

	store.CastingSpell.Each(func(caster entity.ID, cs entity.CastingSpell) {
		cs.Elapsed += dt
		if !isCastValid(store, caster, cs) {
			removed = append(removed, caster)
			return
		}
		if cs.Done() {
			removed = append(removed, caster)
			if ev, ok := resolveCast(cs); ok {
				events = append(events, ev)
			}
			return
		}
		store.CastingSpell.Insert(caster, cs)
	})

	for _, caster := range removed {
		store.CastingSpell.Remove(caster)
	}
	return events
}

// isCastValid implements spec.md §4.G's Validate step: a cast whose
// target has despawned, whose spell id no longer resolves, or whose
// caster/target no longer satisfy is_valid_target is cancelled without
// emitting a SpellApplicationEvent.
func isCastValid(store *entity.Store, caster entity.ID, cs entity.CastingSpell) bool {
	if !store.Alive(cs.Target) {
		return false
	}
	data, ok := SpellByID(cs.SpellID)
	if !ok {
		return false
	}
	if caster == cs.Target {
		return data.Hostility == entity.Friendly
	}
	casterFaction, _ := store.Faction.Get(caster)
	targetFaction, _ := store.Faction.Get(cs.Target)
	return IsValidTarget(data.Hostility, casterFaction, targetFaction)
}

func resolveCast(cs entity.CastingSpell) (EffectEvent, bool) {
	data, ok := SpellByID(cs.SpellID)
	if !ok {
		return EffectEvent{}, false
	}
	ev := EffectEvent{Target: cs.Target}
	if data.TargetHealthDelta != nil {
		delta := *data.TargetHealthDelta
		ev.HealthDelta = &delta
	}
	if data.TargetAuraID != nil {
		id := *data.TargetAuraID
		ev.AuraToAdd = &id
		ev.AuraOwner = cs.Target
	}
	if ev.HealthDelta == nil && ev.AuraToAdd == nil {
		return EffectEvent{}, false
	}
	return ev, true
}
