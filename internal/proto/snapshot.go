package proto

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Presence bits for EntityState, in the order spec.md §4.J lists the
// WorldState fields. This is the tagged-record re-expression of the
// macro-generated EntityState from the reference implementation
// (spec.md Design Notes §9): one stable bit per optional field, merged
// right-biased by Update.
const (
	presHealth uint8 = 1 << iota
	presSpellCaster
	presAura
	presCastingSpell
	presPosition
	presPlayer
	presName
	presVelocity
)

// Vec3Wire is the wire encoding of a 3D vector: three little-endian
// float64s.
type Vec3Wire struct{ X, Y, Z float64 }

// AuraState is the replicated view of an Aura component.
type AuraState struct {
	AuraID      uint32
	RemainingMS uint64
	Owner       uint64
}

// CastingSpellState is the replicated view of a CastingSpell component.
type CastingSpellState struct {
	SpellID uint32
	ElapsedMS uint64
	TotalMS   uint64
	Target    uint64
}

// EntityState holds every optional, individually-tagged replicated
// component for one entity. Update merges right-biased: any field set
// on other overwrites the receiver's value.
type EntityState struct {
	Health       *int64
	SpellCaster  bool
	Aura         *AuraState
	CastingSpell *CastingSpellState
	Position     *Vec3Wire
	Player       bool
	Name         *string
	Velocity     *Vec3Wire
}

func (e *EntityState) presence() uint8 {
	var p uint8
	if e.Health != nil {
		p |= presHealth
	}
	if e.SpellCaster {
		p |= presSpellCaster
	}
	if e.Aura != nil {
		p |= presAura
	}
	if e.CastingSpell != nil {
		p |= presCastingSpell
	}
	if e.Position != nil {
		p |= presPosition
	}
	if e.Player {
		p |= presPlayer
	}
	if e.Name != nil {
		p |= presName
	}
	if e.Velocity != nil {
		p |= presVelocity
	}
	return p
}

// WorldState is the end-of-tick snapshot broadcast to every connected
// client (spec.md §4.J). Entities with no replicated component are
// never present in the map.
type WorldState struct {
	Entities map[uint64]EntityState
}

// EncodeWorldState serializes w as:
//
//	[u32 count]
//	for each entity, ascending id:
//	  [u64 id][u8 presence][present fields...]
//
// Field order within an entity follows the presence bit order above.
// Name is length-prefixed (u16 LE length + UTF-8 bytes); every other
// field is fixed-size. Absent fields contribute zero bytes, satisfying
// spec.md §6's "encode absent optional fields as zero bytes" by never
// emitting them at all.
func EncodeWorldState(w WorldState) []byte {
	ids := make([]uint64, 0, len(w.Entities))
	for id := range w.Entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(len(ids)))

	for _, id := range ids {
		st := w.Entities[id]
		idBuf := make([]byte, 8)
		binary.LittleEndian.PutUint64(idBuf, id)
		out = append(out, idBuf...)
		out = append(out, st.presence())

		if st.Health != nil {
			out = appendInt64(out, *st.Health)
		}
		if st.Aura != nil {
			out = appendUint32(out, st.Aura.AuraID)
			out = appendUint64(out, st.Aura.RemainingMS)
			out = appendUint64(out, st.Aura.Owner)
		}
		if st.CastingSpell != nil {
			out = appendUint32(out, st.CastingSpell.SpellID)
			out = appendUint64(out, st.CastingSpell.ElapsedMS)
			out = appendUint64(out, st.CastingSpell.TotalMS)
			out = appendUint64(out, st.CastingSpell.Target)
		}
		if st.Position != nil {
			out = appendVec3(out, *st.Position)
		}
		if st.Name != nil {
			nameBytes := []byte(*st.Name)
			out = appendUint16(out, uint16(len(nameBytes)))
			out = append(out, nameBytes...)
		}
		if st.Velocity != nil {
			out = appendVec3(out, *st.Velocity)
		}
	}
	return out
}

// DecodeWorldState is the inverse of EncodeWorldState.
func DecodeWorldState(b []byte) (WorldState, error) {
	if len(b) < 4 {
		return WorldState{}, &ParseError{Reason: "short world state"}
	}
	count := binary.LittleEndian.Uint32(b[0:4])
	rest := b[4:]
	entities := make(map[uint64]EntityState, count)

	for i := uint32(0); i < count; i++ {
		if len(rest) < 9 {
			return WorldState{}, &ParseError{Reason: "truncated entity header"}
		}
		id := binary.LittleEndian.Uint64(rest[0:8])
		presence := rest[8]
		rest = rest[9:]

		var st EntityState
		if presence&presHealth != 0 {
			v, tail, err := takeInt64(rest)
			if err != nil {
				return WorldState{}, err
			}
			st.Health = &v
			rest = tail
		}
		st.SpellCaster = presence&presSpellCaster != 0
		if presence&presAura != 0 {
			a, tail, err := takeAura(rest)
			if err != nil {
				return WorldState{}, err
			}
			st.Aura = &a
			rest = tail
		}
		if presence&presCastingSpell != 0 {
			c, tail, err := takeCastingSpell(rest)
			if err != nil {
				return WorldState{}, err
			}
			st.CastingSpell = &c
			rest = tail
		}
		if presence&presPosition != 0 {
			v, tail, err := takeVec3(rest)
			if err != nil {
				return WorldState{}, err
			}
			st.Position = &v
			rest = tail
		}
		st.Player = presence&presPlayer != 0
		if presence&presName != 0 {
			s, tail, err := takeString(rest)
			if err != nil {
				return WorldState{}, err
			}
			st.Name = &s
			rest = tail
		}
		if presence&presVelocity != 0 {
			v, tail, err := takeVec3(rest)
			if err != nil {
				return WorldState{}, err
			}
			st.Velocity = &v
			rest = tail
		}
		entities[id] = st
	}
	return WorldState{Entities: entities}, nil
}

func appendUint16(b []byte, v uint16) []byte {
	tmp := make([]byte, 2)
	binary.LittleEndian.PutUint16(tmp, v)
	return append(b, tmp...)
}

func appendUint32(b []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(b, tmp...)
}

func appendUint64(b []byte, v uint64) []byte {
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp, v)
	return append(b, tmp...)
}

func appendInt64(b []byte, v int64) []byte {
	return appendUint64(b, uint64(v))
}

func appendVec3(b []byte, v Vec3Wire) []byte {
	b = appendUint64(b, math.Float64bits(v.X))
	b = appendUint64(b, math.Float64bits(v.Y))
	b = appendUint64(b, math.Float64bits(v.Z))
	return b
}

func takeInt64(b []byte) (int64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, &ParseError{Reason: "short int64"}
	}
	return int64(binary.LittleEndian.Uint64(b[0:8])), b[8:], nil
}

func takeUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, &ParseError{Reason: "short uint32"}
	}
	return binary.LittleEndian.Uint32(b[0:4]), b[4:], nil
}

func takeUint64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, &ParseError{Reason: "short uint64"}
	}
	return binary.LittleEndian.Uint64(b[0:8]), b[8:], nil
}

func takeVec3(b []byte) (Vec3Wire, []byte, error) {
	var v Vec3Wire
	xb, rest, err := takeUint64(b)
	if err != nil {
		return v, nil, err
	}
	yb, rest, err := takeUint64(rest)
	if err != nil {
		return v, nil, err
	}
	zb, rest, err := takeUint64(rest)
	if err != nil {
		return v, nil, err
	}
	v.X, v.Y, v.Z = math.Float64frombits(xb), math.Float64frombits(yb), math.Float64frombits(zb)
	return v, rest, nil
}

func takeAura(b []byte) (AuraState, []byte, error) {
	var a AuraState
	id, rest, err := takeUint32(b)
	if err != nil {
		return a, nil, err
	}
	rem, rest, err := takeUint64(rest)
	if err != nil {
		return a, nil, err
	}
	owner, rest, err := takeUint64(rest)
	if err != nil {
		return a, nil, err
	}
	a.AuraID, a.RemainingMS, a.Owner = id, rem, owner
	return a, rest, nil
}

func takeCastingSpell(b []byte) (CastingSpellState, []byte, error) {
	var c CastingSpellState
	id, rest, err := takeUint32(b)
	if err != nil {
		return c, nil, err
	}
	elapsed, rest, err := takeUint64(rest)
	if err != nil {
		return c, nil, err
	}
	total, rest, err := takeUint64(rest)
	if err != nil {
		return c, nil, err
	}
	target, rest, err := takeUint64(rest)
	if err != nil {
		return c, nil, err
	}
	c.SpellID, c.ElapsedMS, c.TotalMS, c.Target = id, elapsed, total, target
	return c, rest, nil
}

func takeString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, &ParseError{Reason: "short string length"}
	}
	n := int(binary.LittleEndian.Uint16(b[0:2]))
	rest := b[2:]
	if len(rest) < n {
		return "", nil, &ParseError{Reason: "short string body"}
	}
	return string(rest[:n]), rest[n:], nil
}

// Update merges other onto e, right-biased: any field other sets
// overwrites e's existing value, matching the "update" operation spec.md
// Design Notes §9 requires for the tagged-record re-expression.
func (e *EntityState) Update(other EntityState) {
	if other.Health != nil {
		e.Health = other.Health
	}
	if other.SpellCaster {
		e.SpellCaster = true
	}
	if other.Aura != nil {
		e.Aura = other.Aura
	}
	if other.CastingSpell != nil {
		e.CastingSpell = other.CastingSpell
	}
	if other.Position != nil {
		e.Position = other.Position
	}
	if other.Player {
		e.Player = true
	}
	if other.Name != nil {
		e.Name = other.Name
	}
	if other.Velocity != nil {
		e.Velocity = other.Velocity
	}
}

// validatePresence is used by tests to assert a round trip preserved
// exactly the fields that were set.
func validatePresence(e EntityState) string {
	return fmt.Sprintf("%08b", e.presence())
}
