package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"hextactics/internal/domain"
	"hextactics/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// noopLogger implements runtime.Logger for tests that only need to satisfy
// the interface.
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) WithField(string, interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) WithFields(map[string]interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) Fields() map[string]interface{} {
	return nil
}

type fakePlayers struct {
	players  []domain.PlayerSummary
	needing  []string
	recorded []domain.TurnInput
}

func (f *fakePlayers) ActivePlayers() []domain.PlayerSummary {
	return append([]domain.PlayerSummary(nil), f.players...)
}

func (f *fakePlayers) PlayersNeedingInput(turn int) []string {
	return append([]string(nil), f.needing...)
}

func (f *fakePlayers) RecordInput(input domain.TurnInput) error {
	f.recorded = append(f.recorded, input)
	return nil
}

func (f *fakePlayers) AddScore(userID string, delta int64) {
	for i := range f.players {
		if f.players[i].UserID == userID {
			f.players[i].Score += delta
		}
	}
}

func (f *fakePlayers) ResetScores() {
	for i := range f.players {
		f.players[i].Score = 0
	}
}

func (f *fakePlayers) SeatOf(userID string) int {
	for _, p := range f.players {
		if p.UserID == userID {
			return p.Seat
		}
	}
	return -1
}

func (f *fakePlayers) Serialize() (json.RawMessage, error) {
	return json.Marshal(f.players)
}

func (f *fakePlayers) Restore(blob json.RawMessage) error {
	return json.Unmarshal(blob, &f.players)
}

type fakeWeather struct{}

func (fakeWeather) Current() domain.Weather {
	return domain.Weather{Condition: "clear"}
}

func (fakeWeather) AdvanceTurn(turn int) domain.Weather {
	return domain.Weather{Condition: "clear", Turn: turn}
}

type fakeStorage struct {
	saves map[string][]byte
}

func (f *fakeStorage) WriteSave(ctx context.Context, key string, blob []byte) error {
	if f.saves == nil {
		f.saves = make(map[string][]byte)
	}
	f.saves[key] = append([]byte(nil), blob...)
	return nil
}

func (f *fakeStorage) ReadSave(ctx context.Context, key string) ([]byte, error) {
	blob, ok := f.saves[key]
	if !ok {
		return nil, fmt.Errorf("no save under %s", key)
	}
	return blob, nil
}

type fakeEconomy struct {
	updates []ports.WalletUpdate
}

func (f *fakeEconomy) GetBalance(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

func (f *fakeEconomy) UpdateBalances(ctx context.Context, updates []ports.WalletUpdate) error {
	f.updates = append(f.updates, updates...)
	return nil
}

func twoPlayers() *fakePlayers {
	return &fakePlayers{
		players: []domain.PlayerSummary{
			{UserID: "u1", Seat: 0},
			{UserID: "u2", Seat: 1},
		},
		needing: []string{"u1", "u2"},
	}
}

func newTestOrchestrator(t *testing.T, players *fakePlayers, storage ports.StoragePort, economy ports.EconomyPort) *Orchestrator {
	t.Helper()
	o := New(noopLogger{}, players, fakeWeather{}, storage, economy, rand.New(rand.NewSource(11)), "match-1")
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return o
}

func TestInitializeEntersSetup(t *testing.T) {
	o := newTestOrchestrator(t, twoPlayers(), nil, nil)
	if o.CurrentPhase() != domain.PhaseSetup {
		t.Fatalf("phase = %s, want setup", o.CurrentPhase())
	}
	if err := o.Initialize(context.Background()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second initialize err = %v, want ErrAlreadyInitialized", err)
	}
}

func TestStartDrivesSetupToFirstInput(t *testing.T) {
	o := newTestOrchestrator(t, twoPlayers(), nil, nil)
	if !o.Start(context.Background()) {
		t.Fatal("start failed")
	}
	if o.CurrentPhase() != domain.PhasePlayerInput {
		t.Fatalf("phase = %s, want player_input", o.CurrentPhase())
	}
	if o.Turn() != 1 {
		t.Fatalf("turn = %d, want 1", o.Turn())
	}
}

func TestStartRefusesTooFewPlayers(t *testing.T) {
	solo := &fakePlayers{players: []domain.PlayerSummary{{UserID: "u1", Seat: 0}}}
	o := newTestOrchestrator(t, solo, nil, nil)
	if o.Start(context.Background()) {
		t.Fatal("start should refuse with one player")
	}
	if o.CurrentPhase() != domain.PhaseSetup {
		t.Fatalf("phase = %s, want setup", o.CurrentPhase())
	}
}

func TestSubmitInputProgress(t *testing.T) {
	o := newTestOrchestrator(t, twoPlayers(), nil, nil)
	ctx := context.Background()
	o.Start(ctx)

	if !o.SubmitInput(ctx, domain.TurnInput{UserID: "u1", Kind: domain.InputMove}) {
		t.Fatal("input refused")
	}
	received, required := o.InputProgress()
	if received != 1 || required != 2 {
		t.Fatalf("progress = %d/%d, want 1/2", received, required)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	storage := &fakeStorage{}
	players := twoPlayers()
	o := newTestOrchestrator(t, players, storage, nil)
	ctx := context.Background()
	o.Start(ctx)
	o.SubmitInput(ctx, domain.TurnInput{UserID: "u1", Kind: domain.InputMove})
	players.AddScore("u1", 7)

	if _, err := o.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	restoredPlayers := twoPlayers()
	restored := newTestOrchestrator(t, restoredPlayers, storage, nil)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if restored.CurrentPhase() != domain.PhasePlayerInput {
		t.Fatalf("phase = %s, want player_input", restored.CurrentPhase())
	}
	if restored.Turn() != 1 {
		t.Fatalf("turn = %d, want 1", restored.Turn())
	}
	received, required := restored.InputProgress()
	if received != 1 || required != 2 {
		t.Fatalf("progress = %d/%d, want 1/2", received, required)
	}
	if restoredPlayers.players[0].Score != 7 {
		t.Fatalf("u1 score = %d, want 7", restoredPlayers.players[0].Score)
	}

	// Re-serializing the restored game must reproduce the same machine
	// snapshot and phase blob.
	first, err := o.Machine().Serialize()
	if err != nil {
		t.Fatal(err)
	}
	second, err := restored.Machine().Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if first.Current != second.Current || string(first.PhaseState) != string(second.PhaseState) {
		t.Fatalf("machine snapshots differ:\n%+v\n%+v", first, second)
	}
}

func TestLoadRejectsVersionMismatch(t *testing.T) {
	o := newTestOrchestrator(t, twoPlayers(), nil, nil)
	ctx := context.Background()
	o.Start(ctx)
	before := o.CurrentPhase()

	blob := []byte(`{"version":99,"saved_at":0,"machine":{"current_phase":"setup","previous_phase":""},"players":"[]"}`)
	err := o.LoadBlob(blob)
	if !errors.Is(err, ErrCorruptSaveData) {
		t.Fatalf("err = %v, want ErrCorruptSaveData", err)
	}
	if o.CurrentPhase() != before {
		t.Fatalf("phase changed by rejected load: %s", o.CurrentPhase())
	}
}

func TestLoadRejectsMalformedBlob(t *testing.T) {
	o := newTestOrchestrator(t, twoPlayers(), nil, nil)
	before := o.CurrentPhase()

	for _, blob := range [][]byte{
		[]byte("not json at all"),
		[]byte(`{"version":1,"machine":{"current_phase":"limbo"}}`),
	} {
		if err := o.LoadBlob(blob); !errors.Is(err, ErrCorruptSaveData) {
			t.Fatalf("err = %v for %q, want ErrCorruptSaveData", err, blob)
		}
	}
	if o.CurrentPhase() != before {
		t.Fatalf("phase changed by rejected load: %s", o.CurrentPhase())
	}
}

func TestLoadRejectsShapeBadSubBlobs(t *testing.T) {
	players := twoPlayers()
	o := newTestOrchestrator(t, players, nil, nil)
	ctx := context.Background()
	o.Start(ctx)
	beforePhase := o.CurrentPhase()
	beforeTurn := o.Turn()

	// Each envelope parses and names a known machine phase, but one of its
	// blobs decodes into the wrong shape. The failure surfaces at different
	// points of the apply sequence; none of them may leave anything changed.
	for _, blob := range [][]byte{
		[]byte(`{"version":1,"machine":{"current_phase":"turn_start","previous_phase":"setup"},"players":"not-a-registry"}`),
		[]byte(`{"version":1,"machine":{"current_phase":"turn_start","previous_phase":"setup"},"turn_state":[4],"players":[]}`),
		[]byte(`{"version":1,"machine":{"current_phase":"player_input","previous_phase":"turn_start","phase_state":"bogus"},"players":[]}`),
	} {
		if err := o.LoadBlob(blob); !errors.Is(err, ErrCorruptSaveData) {
			t.Fatalf("err = %v for %s, want ErrCorruptSaveData", err, blob)
		}
		if o.CurrentPhase() != beforePhase {
			t.Fatalf("phase = %s after rejected load of %s, want %s", o.CurrentPhase(), blob, beforePhase)
		}
		if o.Turn() != beforeTurn {
			t.Fatalf("turn = %d after rejected load of %s, want %d", o.Turn(), blob, beforeTurn)
		}
		if len(players.players) != 2 {
			t.Fatalf("players = %+v after rejected load of %s, want both intact", players.players, blob)
		}
	}
}

func TestGameOverSettlesWinnerReward(t *testing.T) {
	economy := &fakeEconomy{}
	players := twoPlayers()
	// Past the default victory score, so the first turn ends the game.
	players.players[0].Score = 150
	o := newTestOrchestrator(t, players, nil, economy)
	ctx := context.Background()
	o.Start(ctx)

	o.SubmitInput(ctx, domain.TurnInput{UserID: "u1", Kind: domain.InputPass})
	o.SubmitInput(ctx, domain.TurnInput{UserID: "u2", Kind: domain.InputPass})

	if o.CurrentPhase() != domain.PhaseGameOver {
		t.Fatalf("phase = %s, want game_over", o.CurrentPhase())
	}
	results := o.Results()
	if len(results) == 0 || results[0].UserID != "u1" {
		t.Fatalf("results = %+v, want u1 first", results)
	}
	if len(economy.updates) != 1 || economy.updates[0].UserID != "u1" {
		t.Fatalf("wallet updates = %+v, want one for u1", economy.updates)
	}
	if economy.updates[0].Amount <= 0 {
		t.Fatalf("reward = %d, want positive", economy.updates[0].Amount)
	}

	if !o.StartNewGame(ctx) {
		t.Fatal("new game failed")
	}
	if o.CurrentPhase() != domain.PhaseSetup {
		t.Fatalf("phase = %s, want setup", o.CurrentPhase())
	}
	if players.players[0].Score != 0 || players.players[1].Score != 0 {
		t.Fatalf("scores = %+v, want zeroed for the new game", players.players)
	}
	if o.Turn() != 0 {
		t.Fatalf("turn = %d, want counter reset before the new game", o.Turn())
	}
}
