package flow

import (
	"context"
	"encoding/json"
	"time"

	"hextactics/internal/domain"
	"hextactics/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// PlayerInputPhase collects one input per player that needs one this turn.
// It self-drives onward once every required input arrives, or when the
// input deadline elapses, in which case stragglers are recorded as a
// default pass.
type PlayerInputPhase struct {
	req     Requester
	players ports.PlayersPort
	logger  runtime.Logger

	// timeout is the wall-clock input deadline; zero disables it.
	timeout time.Duration

	turn      int
	required  []string
	inputs    map[string]domain.TurnInput
	armed     bool
	remaining time.Duration
}

// NewPlayerInputPhase constructs the input phase.
func NewPlayerInputPhase(req Requester, players ports.PlayersPort, logger runtime.Logger, timeout time.Duration) *PlayerInputPhase {
	return &PlayerInputPhase{
		req:     req,
		players: players,
		logger:  logger,
		timeout: timeout,
		inputs:  make(map[string]domain.TurnInput),
	}
}

// Enter resets the collection state for the new turn and arms the deadline.
// With nobody needing input the phase passes straight through.
func (p *PlayerInputPhase) Enter(ctx context.Context, payload Payload) error {
	p.turn = payloadInt(payload, "turn")
	p.required = p.players.PlayersNeedingInput(p.turn)
	p.inputs = make(map[string]domain.TurnInput, len(p.required))

	if len(p.required) == 0 {
		p.logger.Info("player_input: turn %d needs no inputs, passing through", p.turn)
		p.req.DeferTransition(domain.PhaseHazardRolls, p.forwardPayload())
		return nil
	}

	if p.timeout > 0 {
		p.armed = true
		p.remaining = p.timeout
	}
	p.logger.Info("player_input: turn %d awaiting %d inputs", p.turn, len(p.required))
	return nil
}

// Exit disarms the deadline unconditionally, so a deadline that would have
// fired after the phase moved on is a guaranteed no-op.
func (p *PlayerInputPhase) Exit(ctx context.Context) error {
	p.armed = false
	p.remaining = 0
	return nil
}

// Update counts the deadline down. When it elapses, stragglers get a
// default pass recorded on their behalf and the phase completes.
func (p *PlayerInputPhase) Update(elapsed time.Duration) {
	if !p.armed || p.req.Current() != domain.PhasePlayerInput {
		return
	}
	p.remaining -= elapsed
	if p.remaining > 0 {
		return
	}
	p.armed = false
	p.logger.Info("player_input: turn %d deadline elapsed with %d/%d inputs", p.turn, len(p.inputs), len(p.required))
	for _, userID := range p.required {
		if _, ok := p.inputs[userID]; ok {
			continue
		}
		fallback := domain.TurnInput{UserID: userID, Kind: domain.InputPass, Defaulted: true}
		if err := p.players.RecordInput(fallback); err != nil {
			p.logger.Warn("player_input: default input for %s rejected: %v", userID, err)
		}
		p.inputs[userID] = fallback
	}
	p.complete(context.Background())
}

// RecordInput accepts one player's input for the turn. Inputs from players
// not required this turn are refused; a repeat input overwrites the
// previous one. Completing the set self-drives into hazard rolls.
func (p *PlayerInputPhase) RecordInput(ctx context.Context, input domain.TurnInput) bool {
	if p.req.Current() != domain.PhasePlayerInput {
		return false
	}
	if !p.isRequired(input.UserID) {
		p.logger.Warn("player_input: input from %s refused, not required this turn", input.UserID)
		return false
	}
	if err := p.players.RecordInput(input); err != nil {
		p.logger.Warn("player_input: input from %s rejected by registry: %v", input.UserID, err)
		return false
	}
	p.inputs[input.UserID] = input

	if len(p.inputs) >= len(p.required) {
		p.armed = false
		p.complete(ctx)
	}
	return true
}

// InputsReceived reports collection progress for the match label and debug
// display.
func (p *PlayerInputPhase) InputsReceived() (received, required int) {
	return len(p.inputs), len(p.required)
}

func (p *PlayerInputPhase) isRequired(userID string) bool {
	for _, id := range p.required {
		if id == userID {
			return true
		}
	}
	return false
}

// complete forwards the collected inputs, in required-player order, to the
// hazard phase.
func (p *PlayerInputPhase) complete(ctx context.Context) {
	p.req.RequestTransition(ctx, domain.PhaseHazardRolls, p.forwardPayload())
}

func (p *PlayerInputPhase) forwardPayload() Payload {
	collected := make([]domain.TurnInput, 0, len(p.inputs))
	for _, userID := range p.required {
		if input, ok := p.inputs[userID]; ok {
			collected = append(collected, input)
		}
	}
	return Payload{"turn": p.turn, "inputs": collected}
}

type playerInputState struct {
	Turn      int                         `json:"turn"`
	Required  []string                    `json:"required"`
	Inputs    map[string]domain.TurnInput `json:"inputs"`
	Armed     bool                        `json:"armed"`
	Remaining time.Duration               `json:"remaining"`
}

// Serialize snapshots the collection progress and the live deadline.
func (p *PlayerInputPhase) Serialize() (json.RawMessage, error) {
	return json.Marshal(playerInputState{
		Turn:      p.turn,
		Required:  p.required,
		Inputs:    p.inputs,
		Armed:     p.armed,
		Remaining: p.remaining,
	})
}

// Restore reapplies collection progress; the deadline resumes from where it
// stood at save time.
func (p *PlayerInputPhase) Restore(blob json.RawMessage) error {
	if len(blob) == 0 {
		p.turn = 0
		p.required = nil
		p.inputs = make(map[string]domain.TurnInput)
		p.armed = false
		p.remaining = 0
		return nil
	}
	var st playerInputState
	if err := json.Unmarshal(blob, &st); err != nil {
		return err
	}
	p.turn = st.Turn
	p.required = st.Required
	p.inputs = st.Inputs
	if p.inputs == nil {
		p.inputs = make(map[string]domain.TurnInput)
	}
	p.armed = st.Armed
	p.remaining = st.Remaining
	return nil
}
