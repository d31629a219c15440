// Package sim implements the fixed-tick simulation scheduler and the
// spell/aura/effect pipeline described in spec.md §4.E-4.J: casting,
// shield absorption, health application, ticking and timed auras, and
// the per-tick world snapshot.
//
// Grounded on internal/hub.Hub's fixed-rate ticker loop (internal/hub/hub.go)
// for the scheduler shape, and on original_source's Bevy ECS systems
// (server/src/game/assets/{spells,auras}.rs, server/src/game/effects/effect_processing.rs,
// server/src/game/effect_application/mod.rs) for the spell/aura catalog
// data and the two-pass shield/damage dispatch semantics, reimplemented
// over internal/entity's component-sparse-set store instead of Bevy's
// archetype ECS.
package sim

import (
	"time"

	"github.com/izzymg/spellserver/internal/entity"
)

// AuraKind distinguishes a periodic-damage aura from an absorb shield.
type AuraKind uint8

const (
	AuraKindTickingHP AuraKind = iota
	AuraKindShield
)

// SpellData is one row of the static, read-only-after-init spell catalog.
type SpellData struct {
	Name             string
	CastTime         time.Duration
	Hostility        entity.Hostility
	TargetHealthDelta *int64
	TargetAuraID      *entity.AuraID
}

// AuraData is one row of the static, read-only-after-init aura catalog.
type AuraData struct {
	Name           string
	BaseMultiplier int64
	Duration       time.Duration
	Kind           AuraKind
}

func i64p(v int64) *int64          { return &v }
func auraIDp(v entity.AuraID) *entity.AuraID { return &v }

// Spells is the fixed catalog of castable spells, indexed by
// entity.SpellID, carried verbatim from the original game's asset data
// (original_source/server/src/game/assets/spells.rs).
var Spells = []SpellData{
	0: { // Fire Ball
		Name:              "Fire Ball",
		CastTime:          5500 * time.Millisecond,
		Hostility:         entity.Hostile,
		TargetHealthDelta: i64p(-50),
		TargetAuraID:      auraIDp(0),
	},
	1: { // Grand Heal
		Name:              "Grand Heal",
		CastTime:          5500 * time.Millisecond,
		Hostility:         entity.Friendly,
		TargetHealthDelta: i64p(40),
	},
	2: { // Arcane Barrier
		Name:         "Arcane Barrier",
		CastTime:     0,
		Hostility:    entity.Friendly,
		TargetAuraID: auraIDp(1),
	},
}

// Auras is the fixed catalog of status effects, indexed by
// entity.AuraID, carried verbatim from the original game's asset data
// (original_source/server/src/game/assets/auras.rs).
var Auras = []AuraData{
	0: { // Immolated
		Name:           "Immolated",
		BaseMultiplier: -5,
		Duration:       10 * time.Second,
		Kind:           AuraKindTickingHP,
	},
	1: { // Arcane Shield
		Name:           "Arcane Shield",
		BaseMultiplier: 100,
		Duration:       5 * time.Second,
		Kind:           AuraKindShield,
	},
}

// SpellByID returns the catalog row for id, or ok=false if unknown.
func SpellByID(id entity.SpellID) (SpellData, bool) {
	i := int(id)
	if i < 0 || i >= len(Spells) {
		return SpellData{}, false
	}
	return Spells[i], true
}

// AuraByID returns the catalog row for id, or ok=false if unknown.
func AuraByID(id entity.AuraID) (AuraData, bool) {
	i := int(id)
	if i < 0 || i >= len(Auras) {
		return AuraData{}, false
	}
	return Auras[i], true
}
