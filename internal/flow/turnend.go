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

// VictoryFunc decides whether the game ends after the given turn.
type VictoryFunc func(players []domain.PlayerSummary, turn int) bool

// ScoreVictory ends the game when any player reaches the target score or
// the turn limit (zero meaning none) is hit.
func ScoreVictory(targetScore int64, maxTurns int) VictoryFunc {
	return func(players []domain.PlayerSummary, turn int) bool {
		for _, p := range players {
			if p.Score >= targetScore {
				return true
			}
		}
		return maxTurns > 0 && turn >= maxTurns
	}
}

// TurnEndPhase applies end-of-turn effects and evaluates the victory
// predicate: game over when satisfied, otherwise back around to turn start.
// This is the machine's only cycle.
type TurnEndPhase struct {
	req     Requester
	bus     *event.Bus
	players ports.PlayersPort
	logger  runtime.Logger
	victory VictoryFunc

	turnsCompleted int
}

// NewTurnEndPhase constructs the turn-end phase.
func NewTurnEndPhase(req Requester, bus *event.Bus, players ports.PlayersPort, logger runtime.Logger, victory VictoryFunc) *TurnEndPhase {
	if victory == nil {
		victory = ScoreVictory(100, 0)
	}
	return &TurnEndPhase{req: req, bus: bus, players: players, logger: logger, victory: victory}
}

// Enter waits for every end-of-turn effect handler, then defers either the
// game-over transition or the next turn.
func (p *TurnEndPhase) Enter(ctx context.Context, payload Payload) error {
	turn := payloadInt(payload, "turn")
	p.turnsCompleted++

	p.bus.PublishAwaiting(ctx, EventTurnEnd, event.Data{"turn": turn})

	summaries := p.players.ActivePlayers()
	if p.victory(summaries, turn) {
		p.logger.Info("turn_end: victory condition met on turn %d", turn)
		p.req.DeferTransition(domain.PhaseGameOver, Payload{"turn": turn})
		return nil
	}

	p.req.DeferTransition(domain.PhaseTurnStart, Payload{})
	return nil
}

// Exit is a no-op.
func (p *TurnEndPhase) Exit(ctx context.Context) error {
	return nil
}

// Update is a no-op; this phase is pass-through.
func (p *TurnEndPhase) Update(elapsed time.Duration) {}

type turnEndState struct {
	TurnsCompleted int `json:"turns_completed"`
}

// Serialize snapshots the completed-turn count.
func (p *TurnEndPhase) Serialize() (json.RawMessage, error) {
	return json.Marshal(turnEndState{TurnsCompleted: p.turnsCompleted})
}

// Restore reapplies the completed-turn count.
func (p *TurnEndPhase) Restore(blob json.RawMessage) error {
	if len(blob) == 0 {
		p.turnsCompleted = 0
		return nil
	}
	var st turnEndState
	if err := json.Unmarshal(blob, &st); err != nil {
		return err
	}
	p.turnsCompleted = st.TurnsCompleted
	return nil
}
