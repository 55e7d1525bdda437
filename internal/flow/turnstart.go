package flow

import (
	"context"
	"encoding/json"
	"time"

	"hextactics/internal/domain"
	"hextactics/internal/event"
	"hextactics/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// TurnStartPhase owns the turn counter. It applies start-of-turn effects,
// advances the weather, then self-drives into the input phase.
type TurnStartPhase struct {
	req     Requester
	bus     *event.Bus
	weather ports.WeatherPort
	logger  runtime.Logger

	turn int
}

// NewTurnStartPhase constructs the turn-start phase.
func NewTurnStartPhase(req Requester, bus *event.Bus, weather ports.WeatherPort, logger runtime.Logger) *TurnStartPhase {
	return &TurnStartPhase{req: req, bus: bus, weather: weather, logger: logger}
}

// Enter bumps the turn counter, waits for every start-of-turn effect
// handler, advances the weather, and defers the transition into player
// input. The turn number travels onward in the payload; later phases read
// it from there rather than reaching into this one.
func (p *TurnStartPhase) Enter(ctx context.Context, payload Payload) error {
	p.turn++
	p.logger.Info("turn_start: turn %d", p.turn)

	p.bus.PublishAwaiting(ctx, EventTurnStart, event.Data{"turn": p.turn})

	conditions := p.weather.AdvanceTurn(p.turn)
	p.bus.Publish(EventWeatherChanged, event.Data{
		"turn":      p.turn,
		"condition": conditions.Condition,
		"severity":  conditions.Severity,
	})

	p.req.DeferTransition(domain.PhasePlayerInput, Payload{"turn": p.turn})
	return nil
}

// Exit is a no-op; the turn counter deliberately survives activations.
func (p *TurnStartPhase) Exit(ctx context.Context) error {
	return nil
}

// Update is a no-op; this phase is pass-through.
func (p *TurnStartPhase) Update(elapsed time.Duration) {}

// Turn returns the current turn number.
func (p *TurnStartPhase) Turn() int {
	return p.turn
}

// Reset zeroes the turn counter for a fresh game.
func (p *TurnStartPhase) Reset() {
	p.turn = 0
}

type turnStartState struct {
	Turn int `json:"turn"`
}

// Serialize snapshots the turn counter.
func (p *TurnStartPhase) Serialize() (json.RawMessage, error) {
	return json.Marshal(turnStartState{Turn: p.turn})
}

// Restore reapplies the turn counter.
func (p *TurnStartPhase) Restore(blob json.RawMessage) error {
	if len(blob) == 0 {
		p.turn = 0
		return nil
	}
	var st turnStartState
	if err := json.Unmarshal(blob, &st); err != nil {
		return err
	}
	p.turn = st.Turn
	return nil
}
