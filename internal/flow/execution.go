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

// TurnExecutionPhase drains the turn's action queue strictly in order. Each
// action is resolved through an awaiting broadcast so every subsystem's
// contribution has completed before the next action starts.
type TurnExecutionPhase struct {
	req     Requester
	bus     *event.Bus
	players ports.PlayersPort
	logger  runtime.Logger

	// baseScore maps an input kind to its base score contribution.
	baseScore func(kind domain.InputKind) int64

	queue []domain.TurnInput
}

// NewTurnExecutionPhase constructs the execution phase. baseScore may be
// nil, in which case actions score zero beyond listener contributions.
func NewTurnExecutionPhase(req Requester, bus *event.Bus, players ports.PlayersPort, logger runtime.Logger, baseScore func(kind domain.InputKind) int64) *TurnExecutionPhase {
	if baseScore == nil {
		baseScore = func(domain.InputKind) int64 { return 0 }
	}
	return &TurnExecutionPhase{req: req, bus: bus, players: players, logger: logger, baseScore: baseScore}
}

// Enqueue appends an extra action behind whatever is already queued. Used
// by subsystems that inject follow-up actions (hazard consequences,
// scripted events) before the phase drains.
func (p *TurnExecutionPhase) Enqueue(input domain.TurnInput) {
	p.queue = append(p.queue, input)
}

// Enter builds the queue from the ordered inputs, appends any pre-enqueued
// extras behind them, drains everything in order, then defers the
// transition to turn end.
func (p *TurnExecutionPhase) Enter(ctx context.Context, payload Payload) error {
	turn := payloadInt(payload, "turn")
	inputs := payloadInputs(payload)
	order := payloadOrder(payload)

	byUser := make(map[string]domain.TurnInput, len(inputs))
	for _, input := range inputs {
		byUser[input.UserID] = input
	}

	ordered := make([]domain.TurnInput, 0, len(order)+len(p.queue))
	for _, entry := range order {
		if input, ok := byUser[entry.UserID]; ok {
			ordered = append(ordered, input)
		}
	}
	p.queue = append(ordered, p.queue...)

	for len(p.queue) > 0 {
		action := p.queue[0]
		p.queue = p.queue[1:]
		p.resolve(ctx, turn, action)
	}

	p.req.DeferTransition(domain.PhaseTurnEnd, Payload{"turn": turn})
	return nil
}

// resolve runs one action to completion: the awaiting broadcast collects
// every handler's contribution, the score lands on the acting player, and
// the outcome is announced.
func (p *TurnExecutionPhase) resolve(ctx context.Context, turn int, action domain.TurnInput) {
	results := p.bus.PublishAwaiting(ctx, EventActionResolve, event.Data{
		"turn":     turn,
		"user_id":  action.UserID,
		"kind":     string(action.Kind),
		"target_q": action.TargetQ,
		"target_r": action.TargetR,
	})

	score := p.baseScore(action.Kind)
	for _, result := range results {
		switch v := result.(type) {
		case int64:
			score += v
		case int:
			score += int64(v)
		}
	}
	if score != 0 {
		p.players.AddScore(action.UserID, score)
	}

	p.bus.Publish(EventActionResolved, event.Data{
		"turn":    turn,
		"user_id": action.UserID,
		"kind":    string(action.Kind),
		"score":   score,
	})
	p.logger.Debug("turn_execution: %s %s scored %d", action.UserID, action.Kind, score)
}

// Exit is a no-op; an interrupted queue stays pending for the next
// activation or a restore.
func (p *TurnExecutionPhase) Exit(ctx context.Context) error {
	return nil
}

// Update is a no-op; the queue drains inside Enter.
func (p *TurnExecutionPhase) Update(elapsed time.Duration) {}

type executionState struct {
	Queue []domain.TurnInput `json:"queue"`
}

// Serialize snapshots the pending queue.
func (p *TurnExecutionPhase) Serialize() (json.RawMessage, error) {
	return json.Marshal(executionState{Queue: p.queue})
}

// Restore reapplies the pending queue.
func (p *TurnExecutionPhase) Restore(blob json.RawMessage) error {
	if len(blob) == 0 {
		p.queue = nil
		return nil
	}
	var st executionState
	if err := json.Unmarshal(blob, &st); err != nil {
		return err
	}
	p.queue = st.Queue
	return nil
}
