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

// Setup sub-steps in execution order. Each is advanced explicitly so a
// client can pause between them; finalize requests the first turn.
var setupSteps = []string{
	"map_init",
	"player_selection",
	"team_assignment",
	"placement",
	"finalize",
}

// SetupPhase runs the ordered pre-game sub-step sequence.
type SetupPhase struct {
	req     Requester
	bus     *event.Bus
	players ports.PlayersPort
	logger  runtime.Logger

	// autoComplete collapses the whole sequence into the first advance.
	autoComplete bool
	minPlayers   int

	step int
}

// NewSetupPhase constructs the setup phase.
func NewSetupPhase(req Requester, bus *event.Bus, players ports.PlayersPort, logger runtime.Logger, minPlayers int, autoComplete bool) *SetupPhase {
	return &SetupPhase{
		req:          req,
		bus:          bus,
		players:      players,
		logger:       logger,
		autoComplete: autoComplete,
		minPlayers:   minPlayers,
	}
}

// Enter resets the sub-step cursor. The sequence itself waits for Advance
// calls; nothing runs automatically here.
func (p *SetupPhase) Enter(ctx context.Context, payload Payload) error {
	p.step = 0
	p.logger.Info("setup: entered, %d sub-steps pending", len(setupSteps))
	return nil
}

// Exit is a no-op; setup holds no phase-scoped resources.
func (p *SetupPhase) Exit(ctx context.Context) error {
	return nil
}

// Update is a no-op; setup is driven by Advance calls, not polling.
func (p *SetupPhase) Update(elapsed time.Duration) {}

// Advance runs the next sub-step. Finalize refuses until enough players are
// seated, then requests the first turn. With auto-complete enabled the
// first call collapses the remaining sequence. Returns false when setup is
// not the current phase or the final step cannot complete yet.
func (p *SetupPhase) Advance(ctx context.Context) bool {
	if p.req.Current() != domain.PhaseSetup {
		return false
	}
	for {
		if p.step >= len(setupSteps) {
			return false
		}
		name := setupSteps[p.step]
		if name == "finalize" {
			if len(p.players.ActivePlayers()) < p.minPlayers {
				p.logger.Warn("setup: cannot finalize with %d players, need %d", len(p.players.ActivePlayers()), p.minPlayers)
				return false
			}
			p.step++
			p.bus.Publish(EventSetupStep, event.Data{"step": name, "index": p.step})
			return p.req.RequestTransition(ctx, domain.PhaseTurnStart, Payload{})
		}
		p.step++
		p.bus.Publish(EventSetupStep, event.Data{"step": name, "index": p.step})
		if !p.autoComplete {
			return true
		}
	}
}

// StepsRemaining reports how many sub-steps are left, for the match label
// and debug display.
func (p *SetupPhase) StepsRemaining() int {
	return len(setupSteps) - p.step
}

type setupState struct {
	Step int `json:"step"`
}

// Serialize snapshots the sub-step cursor.
func (p *SetupPhase) Serialize() (json.RawMessage, error) {
	return json.Marshal(setupState{Step: p.step})
}

// Restore reapplies a sub-step cursor.
func (p *SetupPhase) Restore(blob json.RawMessage) error {
	if len(blob) == 0 {
		p.step = 0
		return nil
	}
	var st setupState
	if err := json.Unmarshal(blob, &st); err != nil {
		return err
	}
	p.step = st.Step
	return nil
}
