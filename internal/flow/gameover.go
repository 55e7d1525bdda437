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

// GameOverPhase freezes the final standings and waits for a new-game
// request. The results are computed once on entry and never recomputed, so
// later registry changes (a player leaving) cannot rewrite history.
type GameOverPhase struct {
	req     Requester
	bus     *event.Bus
	players ports.PlayersPort
	logger  runtime.Logger

	results []domain.PlayerResult
}

// NewGameOverPhase constructs the game-over phase.
func NewGameOverPhase(req Requester, bus *event.Bus, players ports.PlayersPort, logger runtime.Logger) *GameOverPhase {
	return &GameOverPhase{req: req, bus: bus, players: players, logger: logger}
}

// Enter computes and freezes the results, then announces them.
func (p *GameOverPhase) Enter(ctx context.Context, payload Payload) error {
	p.results = domain.ComputeResults(p.players.ActivePlayers())
	p.logger.Info("game_over: %d players ranked", len(p.results))

	p.bus.Publish(EventGameOver, event.Data{
		"turn":    payloadInt(payload, "turn"),
		"results": p.results,
	})
	return nil
}

// Exit is a no-op; the frozen results survive until the next game over.
func (p *GameOverPhase) Exit(ctx context.Context) error {
	return nil
}

// Update is a no-op.
func (p *GameOverPhase) Update(elapsed time.Duration) {}

// Results returns the frozen standings computed on entry.
func (p *GameOverPhase) Results() []domain.PlayerResult {
	return p.results
}

// StartNewGame requests the restart transition back into setup.
func (p *GameOverPhase) StartNewGame(ctx context.Context) bool {
	if p.req.Current() != domain.PhaseGameOver {
		return false
	}
	return p.req.RequestTransition(ctx, domain.PhaseSetup, Payload{"restart": true})
}

type gameOverState struct {
	Results []domain.PlayerResult `json:"results"`
}

// Serialize snapshots the frozen results.
func (p *GameOverPhase) Serialize() (json.RawMessage, error) {
	return json.Marshal(gameOverState{Results: p.results})
}

// Restore reapplies the frozen results.
func (p *GameOverPhase) Restore(blob json.RawMessage) error {
	if len(blob) == 0 {
		p.results = nil
		return nil
	}
	var st gameOverState
	if err := json.Unmarshal(blob, &st); err != nil {
		return err
	}
	p.results = st.Results
	return nil
}
