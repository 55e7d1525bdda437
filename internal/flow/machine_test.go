package flow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"hextactics/internal/domain"
	"hextactics/internal/event"

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

// stubPhase is a scriptable phase for machine tests.
type stubPhase struct {
	onEnter  func(ctx context.Context, payload Payload) error
	onExit   func(ctx context.Context) error
	onUpdate func(elapsed time.Duration)
	blob     json.RawMessage
	restored json.RawMessage
}

func (s *stubPhase) Enter(ctx context.Context, payload Payload) error {
	if s.onEnter != nil {
		return s.onEnter(ctx, payload)
	}
	return nil
}

func (s *stubPhase) Exit(ctx context.Context) error {
	if s.onExit != nil {
		return s.onExit(ctx)
	}
	return nil
}

func (s *stubPhase) Update(elapsed time.Duration) {
	if s.onUpdate != nil {
		s.onUpdate(elapsed)
	}
}

func (s *stubPhase) Serialize() (json.RawMessage, error) {
	return s.blob, nil
}

func (s *stubPhase) Restore(blob json.RawMessage) error {
	s.restored = blob
	return nil
}

// newStubMachine registers a stub for every phase identity and returns the
// machine plus the stubs by identity.
func newStubMachine(t *testing.T) (*Machine, map[domain.Phase]*stubPhase) {
	t.Helper()
	bus := event.NewBus(noopLogger{})
	m := NewMachine(bus, noopLogger{})
	stubs := make(map[domain.Phase]*stubPhase)
	for _, id := range domain.AllPhases() {
		stub := &stubPhase{}
		stubs[id] = stub
		m.RegisterPhase(id, stub)
	}
	return m, stubs
}

func TestFreshMachineOnlyAllowsSetup(t *testing.T) {
	m, _ := newStubMachine(t)

	if !m.CanTransition(domain.PhaseSetup) {
		t.Fatal("CanTransition(setup) = false on fresh machine")
	}
	for _, id := range domain.AllPhases() {
		if id == domain.PhaseSetup {
			continue
		}
		if m.CanTransition(id) {
			t.Errorf("CanTransition(%s) = true on fresh machine", id)
		}
	}
}

func TestCanTransitionFollowsTable(t *testing.T) {
	m, _ := newStubMachine(t)
	ctx := context.Background()

	if !m.RequestTransition(ctx, domain.PhaseSetup, nil) {
		t.Fatal("setup transition failed")
	}

	table := domain.DefaultTransitions()
	for _, id := range domain.AllPhases() {
		allowed := false
		for _, to := range table[domain.PhaseSetup] {
			if to == id {
				allowed = true
			}
		}
		if got := m.CanTransition(id); got != allowed {
			t.Errorf("CanTransition(%s) = %v, want %v", id, got, allowed)
		}
	}
}

func TestSelfTransitionRejected(t *testing.T) {
	m, _ := newStubMachine(t)
	ctx := context.Background()
	m.RequestTransition(ctx, domain.PhaseSetup, nil)

	if m.CanTransition(domain.PhaseSetup) {
		t.Fatal("self-transition should not be permitted")
	}
	if m.RequestTransition(ctx, domain.PhaseSetup, nil) {
		t.Fatal("self-transition request should fail")
	}
}

func TestUnregisteredTargetRefused(t *testing.T) {
	bus := event.NewBus(noopLogger{})
	m := NewMachine(bus, noopLogger{})
	m.RegisterPhase(domain.PhaseSetup, &stubPhase{})

	if m.RequestTransition(context.Background(), domain.PhaseTurnStart, nil) {
		t.Fatal("transition to unregistered phase should fail")
	}
	if m.Current() != domain.PhaseNone {
		t.Fatalf("current = %s, want none", m.Current())
	}
}

func TestReentrantRequestRefusedWithoutMutation(t *testing.T) {
	m, _ := newStubMachine(t)
	ctx := context.Background()

	bus := m.bus
	var nestedResult *bool
	if _, err := bus.Subscribe(EventPhaseChanged, func(ctx context.Context, ev event.Event) (any, error) {
		if ev.Data["new_phase"] == domain.PhaseSetup.String() {
			got := m.RequestTransition(ctx, domain.PhaseTurnStart, nil)
			nestedResult = &got
		}
		return nil, nil
	}, 0); err != nil {
		t.Fatal(err)
	}

	if !m.RequestTransition(ctx, domain.PhaseSetup, nil) {
		t.Fatal("outer transition failed")
	}
	if nestedResult == nil {
		t.Fatal("nested request never ran")
	}
	if *nestedResult {
		t.Fatal("nested request returned true, want false")
	}
	if m.Current() != domain.PhaseSetup {
		t.Fatalf("current = %s, want setup", m.Current())
	}
}

func TestAnnouncementDispatchedBeforeEnter(t *testing.T) {
	m, stubs := newStubMachine(t)
	var order []string

	if _, err := m.bus.Subscribe(EventPhaseChanged, func(ctx context.Context, ev event.Event) (any, error) {
		order = append(order, "announce:"+ev.Data["new_phase"].(string))
		return nil, nil
	}, 0); err != nil {
		t.Fatal(err)
	}
	stubs[domain.PhaseSetup].onEnter = func(ctx context.Context, payload Payload) error {
		order = append(order, "enter:setup")
		return nil
	}

	m.RequestTransition(context.Background(), domain.PhaseSetup, nil)
	if len(order) != 2 || order[0] != "announce:setup" || order[1] != "enter:setup" {
		t.Fatalf("order = %v, want announcement before enter", order)
	}
}

func TestPhaseChangedListenerPriorityOrder(t *testing.T) {
	m, _ := newStubMachine(t)
	var order []int

	for _, priority := range []int{1, 10} {
		pr := priority
		if _, err := m.bus.Subscribe(EventPhaseChanged, func(ctx context.Context, ev event.Event) (any, error) {
			order = append(order, pr)
			return nil, nil
		}, pr); err != nil {
			t.Fatal(err)
		}
	}

	m.RequestTransition(context.Background(), domain.PhaseSetup, nil)
	if len(order) != 2 || order[0] != 10 || order[1] != 1 {
		t.Fatalf("order = %v, want [10 1]", order)
	}
}

func TestEnterFailureCommitsPointer(t *testing.T) {
	m, stubs := newStubMachine(t)
	stubs[domain.PhaseSetup].onEnter = func(ctx context.Context, payload Payload) error {
		return errors.New("setup blew up")
	}

	if m.RequestTransition(context.Background(), domain.PhaseSetup, nil) {
		t.Fatal("request should report failure when enter fails")
	}
	// The machine does not roll back a half-entered phase.
	if m.Current() != domain.PhaseSetup {
		t.Fatalf("current = %s, want setup despite enter failure", m.Current())
	}
}

func TestEnterPanicContained(t *testing.T) {
	m, stubs := newStubMachine(t)
	stubs[domain.PhaseSetup].onEnter = func(ctx context.Context, payload Payload) error {
		panic("boom")
	}

	if m.RequestTransition(context.Background(), domain.PhaseSetup, nil) {
		t.Fatal("request should report failure when enter panics")
	}
	if m.Current() != domain.PhaseSetup {
		t.Fatalf("current = %s, want setup", m.Current())
	}
}

func TestExitFailureDoesNotBlockTransition(t *testing.T) {
	m, stubs := newStubMachine(t)
	ctx := context.Background()
	m.RequestTransition(ctx, domain.PhaseSetup, nil)

	stubs[domain.PhaseSetup].onExit = func(ctx context.Context) error {
		return errors.New("cleanup failed")
	}
	if !m.RequestTransition(ctx, domain.PhaseTurnStart, nil) {
		t.Fatal("transition should proceed despite exit failure")
	}
	if m.Current() != domain.PhaseTurnStart || m.Previous() != domain.PhaseSetup {
		t.Fatalf("current/previous = %s/%s, want turn_start/setup", m.Current(), m.Previous())
	}
}

func TestDeferredChainCascades(t *testing.T) {
	m, stubs := newStubMachine(t)

	stubs[domain.PhaseSetup].onEnter = func(ctx context.Context, payload Payload) error {
		m.DeferTransition(domain.PhaseTurnStart, Payload{"hop": 1})
		return nil
	}
	stubs[domain.PhaseTurnStart].onEnter = func(ctx context.Context, payload Payload) error {
		m.DeferTransition(domain.PhasePlayerInput, Payload{"hop": 2})
		return nil
	}

	if !m.RequestTransition(context.Background(), domain.PhaseSetup, nil) {
		t.Fatal("setup transition failed")
	}
	if m.Current() != domain.PhasePlayerInput {
		t.Fatalf("current = %s, want player_input after cascade", m.Current())
	}
	if m.Previous() != domain.PhaseTurnStart {
		t.Fatalf("previous = %s, want turn_start", m.Previous())
	}
}

func TestTickForwardsToCurrentPhase(t *testing.T) {
	m, stubs := newStubMachine(t)
	var got time.Duration
	stubs[domain.PhaseSetup].onUpdate = func(elapsed time.Duration) { got = elapsed }

	m.Tick(time.Second) // no current phase yet, must be a no-op
	if got != 0 {
		t.Fatal("tick before first transition reached a phase")
	}

	m.RequestTransition(context.Background(), domain.PhaseSetup, nil)
	m.Tick(250 * time.Millisecond)
	if got != 250*time.Millisecond {
		t.Fatalf("elapsed = %v, want 250ms", got)
	}
}

func TestTickSwallowsUpdatePanic(t *testing.T) {
	m, stubs := newStubMachine(t)
	stubs[domain.PhaseSetup].onUpdate = func(elapsed time.Duration) { panic("bad frame") }

	m.RequestTransition(context.Background(), domain.PhaseSetup, nil)
	m.Tick(time.Second) // must not panic
	if m.Current() != domain.PhaseSetup {
		t.Fatalf("current = %s, want setup", m.Current())
	}
}

func TestSerializeRestoreRoundTrip(t *testing.T) {
	m, stubs := newStubMachine(t)
	ctx := context.Background()
	m.RequestTransition(ctx, domain.PhaseSetup, nil)
	m.RequestTransition(ctx, domain.PhaseTurnStart, nil)
	stubs[domain.PhaseTurnStart].blob = json.RawMessage(`{"turn":7}`)

	snap, err := m.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	restored, stubs2 := newStubMachine(t)
	if err := restored.Restore(snap); err != nil {
		t.Fatal(err)
	}
	if restored.Current() != domain.PhaseTurnStart || restored.Previous() != domain.PhaseSetup {
		t.Fatalf("current/previous = %s/%s, want turn_start/setup", restored.Current(), restored.Previous())
	}
	if string(stubs2[domain.PhaseTurnStart].restored) != `{"turn":7}` {
		t.Fatalf("phase blob = %s, want {\"turn\":7}", stubs2[domain.PhaseTurnStart].restored)
	}

	// Round-trip again: identical identity and identical phase blob.
	stubs2[domain.PhaseTurnStart].blob = stubs2[domain.PhaseTurnStart].restored
	snap2, err := restored.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if snap2.Current != snap.Current || string(snap2.PhaseState) != string(snap.PhaseState) {
		t.Fatalf("round trip mismatch: %+v vs %+v", snap2, snap)
	}
}

func TestRestoreRejectsUnknownPhase(t *testing.T) {
	m, _ := newStubMachine(t)
	ctx := context.Background()
	m.RequestTransition(ctx, domain.PhaseSetup, nil)

	if err := m.Restore(Snapshot{Current: "limbo"}); err == nil {
		t.Fatal("restore of unknown phase should fail")
	}
	if m.Current() != domain.PhaseSetup {
		t.Fatalf("current = %s, machine mutated by failed restore", m.Current())
	}
}

func TestRestoreRejectsUnregisteredPhase(t *testing.T) {
	bus := event.NewBus(noopLogger{})
	m := NewMachine(bus, noopLogger{})
	m.RegisterPhase(domain.PhaseSetup, &stubPhase{})

	err := m.Restore(Snapshot{Current: domain.PhaseTurnStart})
	if err == nil {
		t.Fatal("restore of unregistered phase should fail")
	}
	if m.Current() != domain.PhaseNone {
		t.Fatalf("current = %s, want none", m.Current())
	}
}

func TestRegisterPhaseLastWins(t *testing.T) {
	m, _ := newStubMachine(t)
	var entered bool
	replacement := &stubPhase{onEnter: func(ctx context.Context, payload Payload) error {
		entered = true
		return nil
	}}
	m.RegisterPhase(domain.PhaseSetup, replacement)

	m.RequestTransition(context.Background(), domain.PhaseSetup, nil)
	if !entered {
		t.Fatal("replacement phase was not used")
	}
}
