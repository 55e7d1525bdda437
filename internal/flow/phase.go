// Package flow implements the turn-flow state machine and its phases. One
// machine drives one match through setup, the per-turn cycle, and game over;
// subsystems observe it through the event bus rather than direct wiring.
package flow

import (
	"context"
	"encoding/json"
	"time"

	"hextactics/internal/domain"
)

// Event names published by the machine and its phases.
const (
	// EventPhaseChanged announces a committed transition, before the new
	// phase's enter hook runs.
	EventPhaseChanged = "phase_changed"
	// EventSetupStep announces one completed setup sub-step.
	EventSetupStep = "setup_step"
	// EventTurnStart is the awaiting start-of-turn effects broadcast.
	EventTurnStart = "turn_start"
	// EventWeatherChanged carries the turn's new weather conditions.
	EventWeatherChanged = "weather_changed"
	// EventHazardRolled carries the turn's hazard rolls.
	EventHazardRolled = "hazard_rolled"
	// EventActionResolve is the awaiting per-action resolution broadcast;
	// listeners return int64 score contributions.
	EventActionResolve = "action_resolve"
	// EventActionResolved announces one fully resolved action.
	EventActionResolved = "action_resolved"
	// EventTurnEnd is the awaiting end-of-turn effects broadcast.
	EventTurnEnd = "turn_end"
	// EventGameOver carries the frozen results.
	EventGameOver = "game_over"
)

// Payload is the loose bag of values carried by a transition request and
// handed to the destination phase's enter hook.
type Payload map[string]any

// Phase is the capability set every turn-flow state implements. Enter and
// Exit may block on collaborators; Update never does. A phase instance is
// registered once and reused across activations, so its private fields
// survive between turns.
type Phase interface {
	Enter(ctx context.Context, payload Payload) error
	Exit(ctx context.Context) error
	Update(elapsed time.Duration)
	Serialize() (json.RawMessage, error)
	Restore(blob json.RawMessage) error
}

// Requester is the narrow transition capability handed to phases at
// construction. Phases drive the machine through this rather than holding
// the machine itself, so a self-driving phase cannot reach any other
// machine operation.
type Requester interface {
	// RequestTransition performs a transition now; refused while another is
	// in flight.
	RequestTransition(ctx context.Context, to domain.Phase, payload Payload) bool
	// DeferTransition schedules a transition to run once the in-flight one
	// completes; the only way a phase may self-drive from its enter hook.
	DeferTransition(to domain.Phase, payload Payload)
	Current() domain.Phase
}

// payloadInt reads an int out of a payload, tolerating the float64 shape
// JSON round-trips produce.
func payloadInt(p Payload, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// payloadInputs reads the collected turn inputs out of a payload.
func payloadInputs(p Payload) []domain.TurnInput {
	inputs, _ := p["inputs"].([]domain.TurnInput)
	return inputs
}

// payloadRolls reads the hazard rolls out of a payload.
func payloadRolls(p Payload) []domain.HazardRoll {
	rolls, _ := p["rolls"].([]domain.HazardRoll)
	return rolls
}

// payloadOrder reads the execution order out of a payload.
func payloadOrder(p Payload) []domain.OrderEntry {
	order, _ := p["order"].([]domain.OrderEntry)
	return order
}
