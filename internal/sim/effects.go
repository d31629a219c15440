package sim

import (
	"sort"

	"github.com/izzymg/spellserver/internal/entity"
	"github.com/izzymg/spellserver/internal/metrics"
)

// EffectEvent is one pending health/aura application, queued by spell
// resolution or a ticking aura and drained each tick's EFFECT_APPLICATION
// phase (spec.md §4.F).
//
// Grounded on original_source's EffectQueueEvent / EffectPass
// (server/src/game/effects/effect_processing.rs), collapsed into a
// single struct since Go has no event-bus equivalent to Bevy's
// EventWriter/EventReader.
type EffectEvent struct {
	Target       entity.ID
	HealthDelta  *int64
	AuraToAdd    *entity.AuraID
	AuraOwner    entity.ID // owner of the aura child entity, when AuraToAdd is set
}

// absorbState tracks a target's shield consumption across a single
// dispatch pass.
type absorbState struct {
	total     int64
	remaining int64
}

// totalShielding sums every ShieldAura child entity of target, mirroring
// original_source's get_total_entity_shielding. Returns ok=false when
// target carries no shield children at all (so the caller can
// distinguish "no shield" from "shield depleted to zero").
func totalShielding(store *entity.Store, target entity.ID) (int64, bool) {
	var sum int64
	found := false
	for _, child := range store.Children(target) {
		if sa, ok := store.ShieldAura.Get(child); ok {
			sum += sa.Value
			found = true
		}
	}
	return sum, found
}

// DispatchEffects runs the two-pass effect pipeline over pending events:
// pass one absorbs negative health deltas against each target's shield
// auras (spillover continues past zero), pass two applies the resulting
// health deltas and queues new auras. Grounded on original_source's
// sys_dispatch_shields / sys_dispatch_damage pipeline.
func DispatchEffects(store *entity.Store, events []EffectEvent) {
	cache := make(map[entity.ID]*absorbState)
	order := make([]entity.ID, 0, len(events))

	for i := range events {
		ev := &events[i]
		if ev.HealthDelta == nil || *ev.HealthDelta >= 0 {
			continue
		}
		st, ok := cache[ev.Target]
		if !ok {
			total, hasShield := totalShielding(store, ev.Target)
			if !hasShield {
				continue
			}
			st = &absorbState{total: total, remaining: total}
			cache[ev.Target] = st
			order = append(order, ev.Target)
		}
		if st.total <= 0 {
			continue
		}
		remaining := st.remaining + *ev.HealthDelta
		if remaining < 0 {
			st.remaining = 0
			spill := remaining
			ev.HealthDelta = &spill
		} else {
			st.remaining = remaining
			ev.HealthDelta = nil
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	for _, target := range order {
		st := cache[target]
		consumed := st.total - st.remaining
		applyShieldConsumption(store, target, consumed)
	}

	for _, ev := range events {
		if ev.HealthDelta != nil {
			ApplyHealthDelta(store, ev.Target, *ev.HealthDelta)
		}
		if ev.AuraToAdd != nil {
			if _, ok := AddAura(store, ev.AuraOwner, *ev.AuraToAdd); !ok {
				metrics.IncDroppedSimEvent("unknown_aura")
			}
		}
	}
}

// applyShieldConsumption subtracts consumed absorb value from target's
// shield child entities, oldest first, never going negative.
func applyShieldConsumption(store *entity.Store, target entity.ID, consumed int64) {
	for _, child := range store.Children(target) {
		if consumed <= 0 {
			return
		}
		sa, ok := store.ShieldAura.Get(child)
		if !ok {
			continue
		}
		take := sa.Value
		if take > consumed {
			take = consumed
		}
		sa.Value -= take
		consumed -= take
		store.ShieldAura.Insert(child, sa)
	}
}

// ApplyHealthDelta adds delta to target's Health component, if present.
func ApplyHealthDelta(store *entity.Store, target entity.ID, delta int64) {
	store.Health.Update(target, func(hp int64) int64 { return hp + delta })
}
