// Package app composes the event bus, the state machine, and the external
// collaborators into one match lifecycle.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"hextactics/internal/config"
	"hextactics/internal/domain"
	"hextactics/internal/event"
	"hextactics/internal/flow"
	"hextactics/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// SaveVersion tags the envelope shape; Load refuses any other version.
const SaveVersion = 1

var (
	// ErrCorruptSaveData is returned by Load when the envelope is
	// malformed or version-mismatched. The in-memory game is untouched.
	ErrCorruptSaveData = errors.New("save envelope is corrupt or version-mismatched")
	// ErrAlreadyInitialized guards against double initialization.
	ErrAlreadyInitialized = errors.New("orchestrator already initialized")
	// ErrNotInitialized is returned by operations that need a running game.
	ErrNotInitialized = errors.New("orchestrator not initialized")
)

// SaveEnvelope is the versioned persistence shape composing the machine's
// snapshot with the player registry's own blob.
type SaveEnvelope struct {
	Version int           `json:"version"`
	SavedAt int64         `json:"saved_at"`
	Machine flow.Snapshot `json:"machine"`
	// TurnState carries the turn counter, which lives in the turn-start
	// phase and would otherwise only survive a save taken while that phase
	// is current.
	TurnState json.RawMessage `json:"turn_state,omitempty"`
	Players   json.RawMessage `json:"players"`
}

// Orchestrator owns one bus and one machine and drives the top-level match
// lifecycle. External collaborators arrive as ports; phases never see the
// orchestrator itself.
type Orchestrator struct {
	logger  runtime.Logger
	bus     *event.Bus
	machine *flow.Machine
	players ports.PlayersPort
	weather ports.WeatherPort
	storage ports.StoragePort
	economy ports.EconomyPort
	rng     *rand.Rand
	saveKey string

	setup     *flow.SetupPhase
	turnStart *flow.TurnStartPhase
	input     *flow.PlayerInputPhase
	execution *flow.TurnExecutionPhase
	gameOver  *flow.GameOverPhase

	initialized bool
}

// New constructs an orchestrator with the provided collaborators and rng,
// or a time-seeded default. saveKey identifies this match's save slot.
func New(logger runtime.Logger, players ports.PlayersPort, weather ports.WeatherPort, storage ports.StoragePort, economy ports.EconomyPort, rng *rand.Rand, saveKey string) *Orchestrator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	bus := event.NewBus(logger)
	return &Orchestrator{
		logger:  logger,
		bus:     bus,
		machine: flow.NewMachine(bus, logger),
		players: players,
		weather: weather,
		storage: storage,
		economy: economy,
		rng:     rng,
		saveKey: saveKey,
	}
}

// Bus exposes the event bus for adapter subscriptions.
func (o *Orchestrator) Bus() *event.Bus {
	return o.bus
}

// Machine exposes the state machine for read-only debug display.
func (o *Orchestrator) Machine() *flow.Machine {
	return o.machine
}

// CurrentPhase returns the active phase identity.
func (o *Orchestrator) CurrentPhase() domain.Phase {
	return o.machine.Current()
}

// Initialize registers every phase, wires the cross-cutting listeners, and
// performs the setup transition.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if o.initialized {
		return ErrAlreadyInitialized
	}

	o.setup = flow.NewSetupPhase(o.machine, o.bus, o.players, o.logger, config.GetMinPlayersToStart(), config.GetSetupAutoComplete())
	o.turnStart = flow.NewTurnStartPhase(o.machine, o.bus, o.weather, o.logger)
	o.input = flow.NewPlayerInputPhase(o.machine, o.players, o.logger, config.GetInputTimeout())
	hazard := flow.NewHazardRollsPhase(o.machine, o.bus, o.players, o.logger, o.rng, config.GetHazardDieSides())
	order := flow.NewTurnOrderPhase(o.machine, o.players, o.logger)
	o.execution = flow.NewTurnExecutionPhase(o.machine, o.bus, o.players, o.logger, func(kind domain.InputKind) int64 {
		return config.GetActionScore(string(kind))
	})
	turnEnd := flow.NewTurnEndPhase(o.machine, o.bus, o.players, o.logger, flow.ScoreVictory(config.GetVictoryScore(), config.GetMaxTurns()))
	o.gameOver = flow.NewGameOverPhase(o.machine, o.bus, o.players, o.logger)

	o.machine.RegisterPhase(domain.PhaseSetup, o.setup)
	o.machine.RegisterPhase(domain.PhaseTurnStart, o.turnStart)
	o.machine.RegisterPhase(domain.PhasePlayerInput, o.input)
	o.machine.RegisterPhase(domain.PhaseHazardRolls, hazard)
	o.machine.RegisterPhase(domain.PhaseTurnOrder, order)
	o.machine.RegisterPhase(domain.PhaseTurnExecution, o.execution)
	o.machine.RegisterPhase(domain.PhaseTurnEnd, turnEnd)
	o.machine.RegisterPhase(domain.PhaseGameOver, o.gameOver)

	// Transition logging sits above every other subscriber so it observes
	// state before any mutating listener runs.
	if _, err := o.bus.Subscribe(flow.EventPhaseChanged, func(ctx context.Context, ev event.Event) (any, error) {
		o.logger.Info("phase %v -> %v", ev.Data["previous_phase"], ev.Data["new_phase"])
		return nil, nil
	}, 100); err != nil {
		return err
	}
	if _, err := o.bus.Subscribe(flow.EventGameOver, o.onGameOver, 0); err != nil {
		return err
	}

	o.initialized = true
	if !o.machine.RequestTransition(ctx, domain.PhaseSetup, flow.Payload{}) {
		o.initialized = false
		return fmt.Errorf("initial setup transition refused")
	}
	return nil
}

// Start drives the remaining setup sub-steps to completion, entering the
// first turn. Returns false if the machine is not in setup or a sub-step
// refuses (too few players).
func (o *Orchestrator) Start(ctx context.Context) bool {
	if !o.initialized || o.machine.Current() != domain.PhaseSetup {
		return false
	}
	for o.machine.Current() == domain.PhaseSetup {
		if !o.setup.Advance(ctx) {
			return false
		}
	}
	return true
}

// End settles the finished game: every first-ranked player receives the
// winner reward. Invoked from the game-over announcement; safe to call with
// an empty result set.
func (o *Orchestrator) End(ctx context.Context, results []domain.PlayerResult) {
	if o.economy == nil || len(results) == 0 {
		return
	}
	reward := config.GetWinnerReward()
	updates := make([]ports.WalletUpdate, 0, 1)
	for _, r := range results {
		if r.Rank != 1 {
			break
		}
		updates = append(updates, ports.WalletUpdate{
			UserID: r.UserID,
			Amount: reward,
			Metadata: map[string]interface{}{
				"match_id": o.saveKey,
				"reason":   "victory_reward",
			},
		})
	}
	if err := o.economy.UpdateBalances(ctx, updates); err != nil {
		o.logger.Error("failed to settle winner rewards: %v", err)
	}
}

func (o *Orchestrator) onGameOver(ctx context.Context, ev event.Event) (any, error) {
	results, _ := ev.Data["results"].([]domain.PlayerResult)
	o.End(ctx, results)
	return nil, nil
}

// Tick forwards the scheduler tick to the machine.
func (o *Orchestrator) Tick(elapsed time.Duration) {
	o.machine.Tick(elapsed)
}

// AdvanceSetup runs the next setup sub-step on a client's behalf.
func (o *Orchestrator) AdvanceSetup(ctx context.Context) bool {
	if !o.initialized {
		return false
	}
	return o.setup.Advance(ctx)
}

// SubmitInput records one player's turn input.
func (o *Orchestrator) SubmitInput(ctx context.Context, input domain.TurnInput) bool {
	if !o.initialized {
		return false
	}
	return o.input.RecordInput(ctx, input)
}

// InputProgress reports input collection progress for the match label.
func (o *Orchestrator) InputProgress() (received, required int) {
	if !o.initialized {
		return 0, 0
	}
	return o.input.InputsReceived()
}

// Turn returns the current turn number.
func (o *Orchestrator) Turn() int {
	if !o.initialized {
		return 0
	}
	return o.turnStart.Turn()
}

// Results returns the frozen game-over standings, nil before game over.
func (o *Orchestrator) Results() []domain.PlayerResult {
	if !o.initialized {
		return nil
	}
	return o.gameOver.Results()
}

// StartNewGame restarts into setup from game over. Scores and the turn
// counter reset so the finished game cannot bleed into the next one; the
// frozen results survive on the game-over phase until it is re-entered.
func (o *Orchestrator) StartNewGame(ctx context.Context) bool {
	if !o.initialized {
		return false
	}
	if !o.gameOver.StartNewGame(ctx) {
		return false
	}
	o.players.ResetScores()
	o.turnStart.Reset()
	return true
}

// Save composes the versioned envelope, persists it under the match's save
// key, and returns the blob.
func (o *Orchestrator) Save(ctx context.Context) ([]byte, error) {
	if !o.initialized {
		return nil, ErrNotInitialized
	}
	snap, err := o.machine.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize machine: %w", err)
	}
	playersBlob, err := o.players.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize players: %w", err)
	}
	turnBlob, err := o.turnStart.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize turn counter: %w", err)
	}
	blob, err := json.Marshal(SaveEnvelope{
		Version:   SaveVersion,
		SavedAt:   time.Now().Unix(),
		Machine:   snap,
		TurnState: turnBlob,
		Players:   playersBlob,
	})
	if err != nil {
		return nil, err
	}
	if o.storage != nil {
		if err := o.storage.WriteSave(ctx, o.saveKey, blob); err != nil {
			return nil, fmt.Errorf("persist save: %w", err)
		}
	}
	return blob, nil
}

// Load reads the match's save slot and applies it.
func (o *Orchestrator) Load(ctx context.Context) error {
	if !o.initialized {
		return ErrNotInitialized
	}
	if o.storage == nil {
		return ErrCorruptSaveData
	}
	blob, err := o.storage.ReadSave(ctx, o.saveKey)
	if err != nil {
		return fmt.Errorf("read save: %w", err)
	}
	return o.LoadBlob(blob)
}

// LoadBlob applies a save envelope. The envelope is validated up front, the
// subordinate blobs apply first, and the machine commits last; if any apply
// fails, whatever already applied is rolled back to its pre-load snapshot.
// A load that returns ErrCorruptSaveData leaves the in-memory game exactly
// as it was.
func (o *Orchestrator) LoadBlob(blob []byte) error {
	if !o.initialized {
		return ErrNotInitialized
	}
	var env SaveEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSaveData, err)
	}
	if env.Version != SaveVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrCorruptSaveData, env.Version, SaveVersion)
	}
	if err := o.machine.Validate(env.Machine); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSaveData, err)
	}
	if len(env.Players) > 0 && !json.Valid(env.Players) {
		return fmt.Errorf("%w: players blob is not valid JSON", ErrCorruptSaveData)
	}
	if len(env.TurnState) > 0 && !json.Valid(env.TurnState) {
		return fmt.Errorf("%w: turn blob is not valid JSON", ErrCorruptSaveData)
	}

	// Pre-load snapshots, taken before anything mutates, so a failed apply
	// below can always put the game back.
	preTurn, err := o.turnStart.Serialize()
	if err != nil {
		return fmt.Errorf("snapshot turn counter: %w", err)
	}
	prePlayers, err := o.players.Serialize()
	if err != nil {
		return fmt.Errorf("snapshot players: %w", err)
	}

	if len(env.TurnState) > 0 {
		if err := o.turnStart.Restore(env.TurnState); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptSaveData, err)
		}
	}
	if len(env.Players) > 0 {
		if err := o.players.Restore(env.Players); err != nil {
			o.rollback(preTurn, prePlayers)
			return fmt.Errorf("%w: %v", ErrCorruptSaveData, err)
		}
	}
	// The machine validates the phase blob before touching the current-phase
	// pointer, so a failure here only needs the components above unwound.
	if err := o.machine.Restore(env.Machine); err != nil {
		o.rollback(preTurn, prePlayers)
		return fmt.Errorf("%w: %v", ErrCorruptSaveData, err)
	}
	o.logger.Info("restored save from %d, phase %s", env.SavedAt, env.Machine.Current)
	return nil
}

// rollback reapplies the pre-load snapshots after a failed load. The blobs
// come from serializing a live game, so these restores succeed in practice;
// a failure here is only logged.
func (o *Orchestrator) rollback(turnBlob, playersBlob json.RawMessage) {
	if err := o.turnStart.Restore(turnBlob); err != nil {
		o.logger.Error("rollback turn counter: %v", err)
	}
	if err := o.players.Restore(playersBlob); err != nil {
		o.logger.Error("rollback players: %v", err)
	}
}
