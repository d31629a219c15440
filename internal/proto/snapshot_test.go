package proto

import "testing"

func TestWorldStateRoundTrip(t *testing.T) {
	hp := int64(-12)
	name := "Glorfindel"
	pos := Vec3Wire{X: 1.5, Y: -2.25, Z: 0}
	w := WorldState{Entities: map[uint64]EntityState{
		1: {Health: &hp, Player: true, Name: &name, Position: &pos},
		2: {SpellCaster: true},
		3: {
			Aura:         &AuraState{AuraID: 1, RemainingMS: 4500, Owner: 1},
			CastingSpell: &CastingSpellState{SpellID: 0, ElapsedMS: 100, TotalMS: 5500, Target: 1},
		},
	}}

	encoded := EncodeWorldState(w)
	decoded, err := DecodeWorldState(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Entities) != len(w.Entities) {
		t.Fatalf("got %d entities, want %d", len(decoded.Entities), len(w.Entities))
	}

	got1 := decoded.Entities[1]
	if got1.Health == nil || *got1.Health != hp {
		t.Fatalf("entity 1 health mismatch: %+v", got1)
	}
	if !got1.Player || got1.Name == nil || *got1.Name != name {
		t.Fatalf("entity 1 player/name mismatch: %+v", got1)
	}
	if got1.Position == nil || *got1.Position != pos {
		t.Fatalf("entity 1 position mismatch: %+v", got1)
	}

	got2 := decoded.Entities[2]
	if !got2.SpellCaster {
		t.Fatalf("entity 2 should be spellcaster")
	}
	if got2.Health != nil || got2.Position != nil {
		t.Fatalf("entity 2 should carry no other fields: %+v", got2)
	}

	got3 := decoded.Entities[3]
	if got3.Aura == nil || *got3.Aura != *w.Entities[3].Aura {
		t.Fatalf("entity 3 aura mismatch: %+v", got3)
	}
	if got3.CastingSpell == nil || *got3.CastingSpell != *w.Entities[3].CastingSpell {
		t.Fatalf("entity 3 casting spell mismatch: %+v", got3)
	}
}

func TestWorldStateEmpty(t *testing.T) {
	w := WorldState{Entities: map[uint64]EntityState{}}
	encoded := EncodeWorldState(w)
	decoded, err := DecodeWorldState(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Entities) != 0 {
		t.Fatalf("expected empty world, got %d entities", len(decoded.Entities))
	}
}

func TestEntityStateUpdateRightBiased(t *testing.T) {
	hp1, hp2 := int64(10), int64(-5)
	base := EntityState{Health: &hp1}
	base.Update(EntityState{Health: &hp2, SpellCaster: true})
	if *base.Health != hp2 {
		t.Fatalf("expected right-biased health overwrite, got %d", *base.Health)
	}
	if !base.SpellCaster {
		t.Fatalf("expected spellcaster flag set")
	}
	if validatePresence(base) == "00000000" {
		t.Fatalf("expected non-zero presence bitmask")
	}
}

func TestPacketRoundTrip(t *testing.T) {
	p := Packet{TimestampMS: 123456, Seq: 7, Type: CommandMove, Move: MoveCommand{Mask: MoveLeft | MoveForward}}
	encoded := EncodePacket(p)
	decoded, err := DecodePacket(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != p {
		t.Fatalf("got %+v, want %+v", decoded, p)
	}
}

func TestDecodePacket_InvalidType(t *testing.T) {
	raw := EncodePacket(Packet{Type: CommandMove, Move: MoveCommand{Mask: 0}})
	raw[9] = 200 // corrupt the command byte
	if _, err := DecodePacket(raw); err == nil {
		t.Fatalf("expected invalid packet type error")
	}
}

func TestDecodePacket_ShortPayload(t *testing.T) {
	if _, err := DecodePacket([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected parse error for short payload")
	}
}

func TestMoveMaskRoundTrip(t *testing.T) {
	cases := []uint8{
		0,
		MoveLeft,
		MoveRight,
		MoveUp | MoveForward,
		MoveDown | MoveBackward,
		MoveLeft | MoveUp | MoveForward,
	}
	for _, mask := range cases {
		x, y, z := MoveCommand{Mask: mask}.DecodeVec3()
		got := EncodeMoveMask(x, y, z)
		if got != mask {
			t.Fatalf("mask %08b round-tripped to %08b", mask, got)
		}
	}
}

func TestMoveMaskOpposingBitsCancel(t *testing.T) {
	x, y, z := MoveCommand{Mask: MoveLeft | MoveRight | MoveUp | MoveDown}.DecodeVec3()
	if x != 0 || y != 0 || z != 0 {
		t.Fatalf("expected cancellation, got (%v,%v,%v)", x, y, z)
	}
}
