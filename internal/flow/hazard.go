package flow

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"hextactics/internal/domain"
	"hextactics/internal/event"
	"hextactics/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// HazardRollsPhase rolls one hazard die per active player and forwards the
// results. Pass-through: it self-drives into turn ordering immediately.
type HazardRollsPhase struct {
	req     Requester
	bus     *event.Bus
	players ports.PlayersPort
	logger  runtime.Logger
	rng     *rand.Rand
	sides   int

	lastRolls []domain.HazardRoll
}

// NewHazardRollsPhase constructs the hazard phase with the provided rng or
// a time-seeded default.
func NewHazardRollsPhase(req Requester, bus *event.Bus, players ports.PlayersPort, logger runtime.Logger, rng *rand.Rand, sides int) *HazardRollsPhase {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if sides <= 0 {
		sides = 20
	}
	return &HazardRollsPhase{req: req, bus: bus, players: players, logger: logger, rng: rng, sides: sides}
}

// Enter rolls for every active player in seat order, publishes the rolls,
// and defers the transition into turn ordering.
func (p *HazardRollsPhase) Enter(ctx context.Context, payload Payload) error {
	active := p.players.ActivePlayers()
	rolls := make([]domain.HazardRoll, 0, len(active))
	for _, player := range active {
		rolls = append(rolls, domain.HazardRoll{
			UserID: player.UserID,
			Roll:   p.rng.Intn(p.sides) + 1,
		})
	}
	p.lastRolls = rolls

	p.bus.Publish(EventHazardRolled, event.Data{
		"turn":  payloadInt(payload, "turn"),
		"rolls": rolls,
	})

	next := Payload{
		"turn":   payload["turn"],
		"inputs": payloadInputs(payload),
		"rolls":  rolls,
	}
	p.req.DeferTransition(domain.PhaseTurnOrder, next)
	return nil
}

// Exit is a no-op.
func (p *HazardRollsPhase) Exit(ctx context.Context) error {
	return nil
}

// Update is a no-op; this phase is pass-through.
func (p *HazardRollsPhase) Update(elapsed time.Duration) {}

type hazardState struct {
	LastRolls []domain.HazardRoll `json:"last_rolls"`
}

// Serialize snapshots the most recent rolls.
func (p *HazardRollsPhase) Serialize() (json.RawMessage, error) {
	return json.Marshal(hazardState{LastRolls: p.lastRolls})
}

// Restore reapplies the most recent rolls.
func (p *HazardRollsPhase) Restore(blob json.RawMessage) error {
	if len(blob) == 0 {
		p.lastRolls = nil
		return nil
	}
	var st hazardState
	if err := json.Unmarshal(blob, &st); err != nil {
		return err
	}
	p.lastRolls = st.LastRolls
	return nil
}

// TurnOrderPhase derives the execution order from the hazard rolls: roll
// descending, ties by seat. Pass-through like the hazard phase.
type TurnOrderPhase struct {
	req     Requester
	players ports.PlayersPort
	logger  runtime.Logger

	lastOrder []domain.OrderEntry
}

// NewTurnOrderPhase constructs the ordering phase.
func NewTurnOrderPhase(req Requester, players ports.PlayersPort, logger runtime.Logger) *TurnOrderPhase {
	return &TurnOrderPhase{req: req, players: players, logger: logger}
}

// Enter orders the rolls and defers the transition into execution.
func (p *TurnOrderPhase) Enter(ctx context.Context, payload Payload) error {
	order := domain.OrderByRolls(payloadRolls(payload), p.players.SeatOf)
	p.lastOrder = order
	p.logger.Debug("turn_order: %d entries", len(order))

	next := Payload{
		"turn":   payload["turn"],
		"inputs": payloadInputs(payload),
		"order":  order,
	}
	p.req.DeferTransition(domain.PhaseTurnExecution, next)
	return nil
}

// Exit is a no-op.
func (p *TurnOrderPhase) Exit(ctx context.Context) error {
	return nil
}

// Update is a no-op; this phase is pass-through.
func (p *TurnOrderPhase) Update(elapsed time.Duration) {}

type turnOrderState struct {
	LastOrder []domain.OrderEntry `json:"last_order"`
}

// Serialize snapshots the most recent ordering.
func (p *TurnOrderPhase) Serialize() (json.RawMessage, error) {
	return json.Marshal(turnOrderState{LastOrder: p.lastOrder})
}

// Restore reapplies the most recent ordering.
func (p *TurnOrderPhase) Restore(blob json.RawMessage) error {
	if len(blob) == 0 {
		p.lastOrder = nil
		return nil
	}
	var st turnOrderState
	if err := json.Unmarshal(blob, &st); err != nil {
		return err
	}
	p.lastOrder = st.LastOrder
	return nil
}
