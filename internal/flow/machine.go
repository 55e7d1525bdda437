package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hextactics/internal/domain"
	"hextactics/internal/event"

	"github.com/heroiclabs/nakama-common/runtime"
)

// Denial reasons surfaced through logs when a transition request is refused.
// Requests report refusal to the caller as a false return, not an error, so
// callers can retry or surface UI feedback.
var (
	ErrUnknownPhase       = errors.New("transition target is not a registered phase")
	ErrIllegalTransition  = errors.New("transition not permitted from current phase")
	ErrTransitionInFlight = errors.New("another transition is already in flight")
)

// Snapshot is the machine's serialized form: the current and previous
// identities plus the current phase's own blob. Other phases persist their
// own state through the owning orchestrator if they need it.
type Snapshot struct {
	Current    domain.Phase    `json:"current_phase"`
	Previous   domain.Phase    `json:"previous_phase"`
	PhaseState json.RawMessage `json:"phase_state,omitempty"`
}

// Machine owns the phase registry, the transition table, and the current
// phase pointer. It is confined to the match goroutine; the in-flight flag
// guards against re-entrant requests from listeners, not other goroutines.
type Machine struct {
	bus    *event.Bus
	logger runtime.Logger

	phases  map[domain.Phase]Phase
	table   map[domain.Phase][]domain.Phase
	initial domain.Phase

	current  domain.Phase
	previous domain.Phase
	inFlight bool
	deferred []deferredTransition
}

// deferredTransition is a follow-up request scheduled by a self-driving
// phase from inside its enter hook, processed once the in-flight transition
// completes.
type deferredTransition struct {
	to      domain.Phase
	payload Payload
}

// NewMachine builds a machine over the static turn-flow ruleset. The table
// is fixed here and never mutated during a run.
func NewMachine(bus *event.Bus, logger runtime.Logger) *Machine {
	return &Machine{
		bus:     bus,
		logger:  logger,
		phases:  make(map[domain.Phase]Phase),
		table:   domain.DefaultTransitions(),
		initial: domain.InitialPhase,
	}
}

// RegisterPhase associates an identity with its behavior. Last registration
// for an identity wins, which lets tests swap a phase implementation.
func (m *Machine) RegisterPhase(id domain.Phase, impl Phase) {
	m.phases[id] = impl
}

// Current returns the active phase identity, or domain.PhaseNone before the
// first transition.
func (m *Machine) Current() domain.Phase {
	return m.current
}

// Previous returns the phase the machine most recently left.
func (m *Machine) Previous() domain.Phase {
	return m.previous
}

// InFlight reports whether a transition is currently being processed.
func (m *Machine) InFlight() bool {
	return m.inFlight
}

// CanTransition reports whether to is a legal destination from the current
// phase: the designated initial phase when no phase is active, or a table
// entry of the current phase otherwise. Never suspends.
func (m *Machine) CanTransition(to domain.Phase) bool {
	return m.checkTransition(to) == nil
}

func (m *Machine) checkTransition(to domain.Phase) error {
	if m.current == domain.PhaseNone {
		if to != m.initial {
			return ErrIllegalTransition
		}
		return nil
	}
	for _, allowed := range m.table[m.current] {
		if allowed == to {
			return nil
		}
	}
	return ErrIllegalTransition
}

// RequestTransition validates and performs a transition to the given phase.
// It returns false without mutation when the target is unregistered, another
// transition is in flight, or the table forbids the move. The announcement
// event is fully dispatched before the destination's enter hook runs. An
// enter-hook failure is logged and reported as false, but the current-phase
// pointer stays committed; the machine does not roll back a half-entered
// phase.
func (m *Machine) RequestTransition(ctx context.Context, to domain.Phase, payload Payload) bool {
	ok := m.transition(ctx, to, payload)
	m.drainDeferred(ctx)
	return ok
}

// DeferTransition schedules a transition to run after the in-flight one
// completes. Self-driving phases use this from their enter hooks, where a
// direct request would be refused by the re-entrancy guard. Deferred
// requests are validated at drain time like any other.
func (m *Machine) DeferTransition(to domain.Phase, payload Payload) {
	m.deferred = append(m.deferred, deferredTransition{to: to, payload: payload})
}

// drainDeferred processes follow-up requests until the chain settles. A
// deferred transition may itself defer another, so TurnStart can cascade all
// the way to TurnEnd in one external call.
func (m *Machine) drainDeferred(ctx context.Context) {
	for len(m.deferred) > 0 && !m.inFlight {
		next := m.deferred[0]
		m.deferred = m.deferred[1:]
		m.transition(ctx, next.to, next.payload)
	}
}

func (m *Machine) transition(ctx context.Context, to domain.Phase, payload Payload) bool {
	if m.inFlight {
		m.logger.Warn("flow: transition to %s refused: %v", to, ErrTransitionInFlight)
		return false
	}
	next, ok := m.phases[to]
	if !ok {
		m.logger.Warn("flow: transition to %s refused: %v", to, ErrUnknownPhase)
		return false
	}
	if err := m.checkTransition(to); err != nil {
		m.logger.Warn("flow: transition %s -> %s refused: %v", m.current, to, err)
		return false
	}

	m.inFlight = true
	defer func() { m.inFlight = false }()

	if m.current != domain.PhaseNone {
		outgoing := m.phases[m.current]
		if err := m.safeExit(ctx, outgoing); err != nil {
			// Forward progress is prioritized over cleanup correctness.
			m.logger.Warn("flow: exit hook of %s failed: %v", m.current, err)
		}
	}

	m.previous = m.current
	m.current = to

	m.bus.Publish(EventPhaseChanged, event.Data{
		"previous_phase": m.previous.String(),
		"new_phase":      m.current.String(),
		"payload":        map[string]any(payload),
	})

	if err := m.safeEnter(ctx, next, payload); err != nil {
		m.logger.Error("flow: enter hook of %s failed: %v", to, err)
		return false
	}
	return true
}

// Tick forwards the elapsed time to the current phase's update hook. Update
// failures are swallowed after logging; a bad frame must not halt the loop.
func (m *Machine) Tick(elapsed time.Duration) {
	if m.inFlight || m.current == domain.PhaseNone {
		return
	}
	if err := m.safeUpdate(m.phases[m.current], elapsed); err != nil {
		m.logger.Warn("flow: update hook of %s failed: %v", m.current, err)
	}
}

// Serialize snapshots the current identity pair plus the current phase's
// own blob.
func (m *Machine) Serialize() (Snapshot, error) {
	snap := Snapshot{Current: m.current, Previous: m.previous}
	if m.current == domain.PhaseNone {
		return snap, nil
	}
	blob, err := m.phases[m.current].Serialize()
	if err != nil {
		return Snapshot{}, fmt.Errorf("serialize phase %s: %w", m.current, err)
	}
	snap.PhaseState = blob
	return snap, nil
}

// Validate checks a snapshot against the registry without mutating
// anything, so callers can refuse a corrupt save before applying any of it.
func (m *Machine) Validate(snap Snapshot) error {
	if snap.Current != domain.PhaseNone && !domain.KnownPhase(snap.Current) {
		return fmt.Errorf("snapshot names unknown phase %q", snap.Current)
	}
	if snap.Previous != domain.PhaseNone && !domain.KnownPhase(snap.Previous) {
		return fmt.Errorf("snapshot names unknown previous phase %q", snap.Previous)
	}
	if snap.Current != domain.PhaseNone {
		if _, ok := m.phases[snap.Current]; !ok {
			return fmt.Errorf("snapshot phase %q is not registered", snap.Current)
		}
	}
	return nil
}

// Restore applies a snapshot. Validation happens before any mutation: an
// unknown or unregistered phase identity leaves the machine untouched.
func (m *Machine) Restore(snap Snapshot) error {
	if err := m.Validate(snap); err != nil {
		return err
	}
	if snap.Current != domain.PhaseNone {
		if err := m.phases[snap.Current].Restore(snap.PhaseState); err != nil {
			return fmt.Errorf("restore phase %s: %w", snap.Current, err)
		}
	}
	m.current = snap.Current
	m.previous = snap.Previous
	return nil
}

// The safe wrappers convert hook panics into errors so one misbehaving
// phase cannot unwind through the machine.

func (m *Machine) safeEnter(ctx context.Context, p Phase, payload Payload) (err error) {
	defer recoverHook(&err)
	return p.Enter(ctx, payload)
}

func (m *Machine) safeExit(ctx context.Context, p Phase) (err error) {
	defer recoverHook(&err)
	return p.Exit(ctx)
}

func (m *Machine) safeUpdate(p Phase, elapsed time.Duration) (err error) {
	defer recoverHook(&err)
	p.Update(elapsed)
	return nil
}

func recoverHook(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("phase hook panic: %v", r)
	}
}
