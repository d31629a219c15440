package sim

import (
	"context"
	"log/slog"
	"time"

	"github.com/izzymg/spellserver/internal/conn"
	"github.com/izzymg/spellserver/internal/entity"
	"github.com/izzymg/spellserver/internal/logging"
	"github.com/izzymg/spellserver/internal/metrics"
	"github.com/izzymg/spellserver/internal/proto"
)

// DefaultTickRate is the fixed simulation frequency used when the
// caller doesn't request one explicitly (spec.md §4.F: "fixed 2Hz tick
// ... configurable").
const DefaultTickRate = 2 // ticks per second

// playerState tracks the entity/session bookkeeping the scheduler needs
// per connected client, beyond what entity.Store itself holds.
type playerState struct {
	entity entity.ID
}

// Scheduler owns the entity.Store exclusively and drives the six-phase
// tick pipeline: INGEST, EFFECT_CREATION, EFFECT_APPLICATION,
// EFFECT_PROCESSING, ENTITY_PROCESSING, SNAPSHOT (spec.md §4.F). It is
// the sole goroutine that ever touches its Store.
//
// Grounded on internal/hub.Hub's single-owner broadcast loop for the
// "exactly one goroutine owns this state" shape, generalized from a
// frame-forwarding hub to a full simulation scheduler per spec.md §5.
type Scheduler struct {
	store   *entity.Store
	players map[conn.Token]*playerState

	incoming   <-chan conn.Incoming
	outgoing   chan<- conn.Outgoing
	tickPeriod time.Duration

	logger *slog.Logger
}

// NewScheduler constructs a Scheduler bridging incoming/outgoing to a
// fresh entity.Store, ticking at tickRate Hz. tickRate <= 0 falls back
// to DefaultTickRate.
func NewScheduler(incoming <-chan conn.Incoming, outgoing chan<- conn.Outgoing, tickRate int) *Scheduler {
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	return &Scheduler{
		store:      entity.NewStore(),
		players:    make(map[conn.Token]*playerState),
		incoming:   incoming,
		outgoing:   outgoing,
		tickPeriod: time.Second / time.Duration(tickRate),
		logger:     logging.L(),
	}
}

// Run drives the fixed-rate tick loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			s.tick(s.tickPeriod)
			metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// tick runs the six ordered phases once.
func (s *Scheduler) tick(dt time.Duration) {
	s.ingest()

	events, expired := s.effectCreation(dt)

	DispatchEffects(s.store, events)
	for _, id := range expired {
		RemoveAura(s.store, id)
	}

	s.effectProcessing(dt)
	s.entityProcessing(dt)
	s.snapshot()
}

// ingest drains every pending Incoming message without blocking
// (INGEST phase).
func (s *Scheduler) ingest() {
	for {
		select {
		case msg, ok := <-s.incoming:
			if !ok {
				return
			}
			s.applyIncoming(msg)
		default:
			return
		}
	}
}

func (s *Scheduler) applyIncoming(msg conn.Incoming) {
	switch msg.Kind {
	case conn.IncomingJoined:
		s.spawnPlayer(msg.Token)
	case conn.IncomingLeft:
		s.despawnPlayer(msg.Token)
	case conn.IncomingData:
		s.applyInput(msg.Token, msg.Packet)
	}
}

// DefaultPlayerFaction is the faction bitmask every spawned player
// carries. Sharing this bit makes Friendly spells valid between
// players while leaving Hostile spells valid against factionless
// (default 0) entities such as monsters, per spec.md §3's shared-bit
// rule.
const DefaultPlayerFaction uint32 = 0b001

func (s *Scheduler) spawnPlayer(token conn.Token) {
	id := s.store.Spawn()
	s.store.Player.Insert(id, struct{}{})
	s.store.SpellCaster.Insert(id, struct{}{})
	s.store.Health.Insert(id, 100)
	s.store.Position.Insert(id, entity.Vec3{})
	s.store.Velocity.Insert(id, entity.Vec3{})
	s.store.Faction.Insert(id, DefaultPlayerFaction)
	s.players[token] = &playerState{entity: id}

	s.logger.Info("player_spawned", "token", token, "entity", uint64(id))
	select {
	case s.outgoing <- conn.Outgoing{Kind: conn.OutgoingClientInfo, Token: token, Info: proto.ClientInfo{You: uint64(id)}}:
	default:
		metrics.IncDroppedSimEvent("outgoing_full")
	}
}

func (s *Scheduler) despawnPlayer(token conn.Token) {
	ps, ok := s.players[token]
	if !ok {
		return
	}
	s.store.DespawnRecursive(ps.entity)
	delete(s.players, token)
	s.logger.Info("player_despawned", "token", token)
}

// applyInput turns one client movement packet into a velocity update.
// Grounded on spec.md §4.G: movement input sets Velocity directly; the
// scheduler integrates Position from Velocity during ENTITY_PROCESSING.
const moveSpeed = 4.0 // world units per second

func (s *Scheduler) applyInput(token conn.Token, pkt proto.Packet) {
	ps, ok := s.players[token]
	if !ok {
		return
	}
	switch pkt.Type {
	case proto.CommandMove:
		x, y, z := pkt.Move.DecodeVec3()
		s.store.Velocity.Insert(ps.entity, entity.Vec3{X: x * moveSpeed, Y: y * moveSpeed, Z: z * moveSpeed})
	}
}

// effectCreation runs spell-cast timers and aura tick timers, returning
// the EffectEvents produced this tick and the auras that expired
// (EFFECT_CREATION phase).
func (s *Scheduler) effectCreation(dt time.Duration) ([]EffectEvent, []entity.ID) {
	events := TickCasts(s.store, dt)
	auraEvents, expired := TickAuras(s.store, dt)
	events = append(events, auraEvents...)
	return events, expired
}

// effectProcessing removes entities whose health has reached zero or
// below (EFFECT_PROCESSING phase), grounded on original_source's health
// death-check system.
func (s *Scheduler) effectProcessing(_ time.Duration) {
	var dead []entity.ID
	s.store.Health.Each(func(id entity.ID, hp int64) {
		if hp <= 0 {
			dead = append(dead, id)
		}
	})
	for _, id := range dead {
		s.store.DespawnRecursive(id)
		for token, ps := range s.players {
			if ps.entity == id {
				delete(s.players, token)
				select {
				case s.outgoing <- conn.Outgoing{Kind: conn.OutgoingKick, Token: token}:
				default:
					metrics.IncDroppedSimEvent("outgoing_full")
				}
			}
		}
	}
}

// entityProcessing integrates Position from Velocity (ENTITY_PROCESSING
// phase).
func (s *Scheduler) entityProcessing(dt time.Duration) {
	seconds := dt.Seconds()
	s.store.Velocity.Each(func(id entity.ID, v entity.Vec3) {
		s.store.Position.Update(id, func(p entity.Vec3) entity.Vec3 {
			return p.Add(v.Scale(seconds))
		})
	})
	metrics.EntitiesAlive.Set(float64(len(s.players)))
}

// snapshot builds the world state and queues it for broadcast
// (SNAPSHOT phase).
func (s *Scheduler) snapshot() {
	ws := BuildWorldState(s.store)
	payload := proto.EncodeWorldState(ws)
	metrics.SnapshotBytes.Set(float64(len(payload)))
	select {
	case s.outgoing <- conn.Outgoing{Kind: conn.OutgoingBroadcast, Payload: payload}:
	default:
		metrics.IncDroppedSimEvent("outgoing_full")
	}
}
