package sim

import (
	"github.com/izzymg/spellserver/internal/entity"
	"github.com/izzymg/spellserver/internal/proto"
)

// BuildWorldState walks every replicated component set in store and
// assembles the wire-format snapshot for the current tick (spec.md §4.D).
// Aura/CastingSpell child/caster entities that carry no other replicated
// component still appear if entity.Store.HasAnyComponent reports true
// for them, so clients can render status-effect icons on entities they
// otherwise have no data for.
func BuildWorldState(store *entity.Store) proto.WorldState {
	entities := make(map[uint64]proto.EntityState)

	merge := func(id entity.ID, fn func(*proto.EntityState)) {
		es := entities[uint64(id)]
		fn(&es)
		entities[uint64(id)] = es
	}

	store.Health.Each(func(id entity.ID, hp int64) {
		merge(id, func(es *proto.EntityState) { es.Health = &hp })
	})
	store.Position.Each(func(id entity.ID, v entity.Vec3) {
		merge(id, func(es *proto.EntityState) { es.Position = &proto.Vec3Wire{X: v.X, Y: v.Y, Z: v.Z} })
	})
	store.Velocity.Each(func(id entity.ID, v entity.Vec3) {
		merge(id, func(es *proto.EntityState) { es.Velocity = &proto.Vec3Wire{X: v.X, Y: v.Y, Z: v.Z} })
	})
	store.SpellCaster.Each(func(id entity.ID, _ struct{}) {
		merge(id, func(es *proto.EntityState) { es.SpellCaster = true })
	})
	store.Player.Each(func(id entity.ID, _ struct{}) {
		merge(id, func(es *proto.EntityState) { es.Player = true })
	})
	store.Name.Each(func(id entity.ID, n string) {
		merge(id, func(es *proto.EntityState) { es.Name = &n })
	})
	store.CastingSpell.Each(func(id entity.ID, cs entity.CastingSpell) {
		merge(id, func(es *proto.EntityState) {
			es.CastingSpell = &proto.CastingSpellState{
				SpellID:   uint32(cs.SpellID),
				ElapsedMS: uint64(cs.Elapsed.Milliseconds()),
				TotalMS:   uint64(cs.Total.Milliseconds()),
				Target:    uint64(cs.Target),
			}
		})
	})
	store.Aura.Each(func(id entity.ID, a entity.Aura) {
		merge(id, func(es *proto.EntityState) {
			es.Aura = &proto.AuraState{
				AuraID:      uint32(a.AuraID),
				RemainingMS: uint64(a.Remaining().Milliseconds()),
				Owner:       uint64(a.Owner),
			}
		})
	})

	return proto.WorldState{Entities: entities}
}
