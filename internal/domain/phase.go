package domain

// Phase identifies one state of the turn-flow machine.
type Phase string

const (
	// PhaseNone is the implicit state before the first transition.
	PhaseNone Phase = ""
	// PhaseSetup runs the ordered pre-game sub-step sequence.
	PhaseSetup Phase = "setup"
	// PhaseTurnStart applies start-of-turn effects and weather.
	PhaseTurnStart Phase = "turn_start"
	// PhasePlayerInput collects one input per player needing one.
	PhasePlayerInput Phase = "player_input"
	// PhaseHazardRolls rolls per-player hazard dice.
	PhaseHazardRolls Phase = "hazard_rolls"
	// PhaseTurnOrder derives the action ordering from the rolls.
	PhaseTurnOrder Phase = "turn_order"
	// PhaseTurnExecution drains the action queue in order.
	PhaseTurnExecution Phase = "turn_execution"
	// PhaseTurnEnd applies end-of-turn effects and checks victory.
	PhaseTurnEnd Phase = "turn_end"
	// PhaseGameOver freezes results until a new game is requested.
	PhaseGameOver Phase = "game_over"
)

// InitialPhase is the only phase reachable from PhaseNone.
const InitialPhase = PhaseSetup

// String returns the phase identity as a plain string.
func (p Phase) String() string {
	return string(p)
}

// AllPhases lists every phase identity in ruleset order.
func AllPhases() []Phase {
	return []Phase{
		PhaseSetup,
		PhaseTurnStart,
		PhasePlayerInput,
		PhaseHazardRolls,
		PhaseTurnOrder,
		PhaseTurnExecution,
		PhaseTurnEnd,
		PhaseGameOver,
	}
}

// DefaultTransitions returns the static turn-flow ruleset: source phase to
// the ordered set of permitted destinations. The table is built once per
// machine and never mutated during a run.
func DefaultTransitions() map[Phase][]Phase {
	return map[Phase][]Phase{
		PhaseSetup:         {PhaseTurnStart},
		PhaseTurnStart:     {PhasePlayerInput},
		PhasePlayerInput:   {PhaseHazardRolls},
		PhaseHazardRolls:   {PhaseTurnOrder},
		PhaseTurnOrder:     {PhaseTurnExecution},
		PhaseTurnExecution: {PhaseTurnEnd},
		PhaseTurnEnd:       {PhaseTurnStart, PhaseGameOver},
		PhaseGameOver:      {PhaseSetup},
	}
}

// KnownPhase reports whether id names a phase in the ruleset.
func KnownPhase(id Phase) bool {
	for _, p := range AllPhases() {
		if p == id {
			return true
		}
	}
	return false
}
