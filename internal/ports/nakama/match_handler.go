package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"hextactics/internal/app"
	"hextactics/internal/config"
	"hextactics/internal/domain"
	"hextactics/internal/weather"

	"github.com/heroiclabs/nakama-common/runtime"
)

// MatchState holds the authoritative runtime state for the match handler.
type MatchState struct {
	Registry     *SeatRegistry     `json:"registry"`
	Orchestrator *app.Orchestrator `json:"-"`
	Relay        *eventRelay       `json:"-"`
	Tick         int64             `json:"tick"`

	LastLoopAt       time.Time `json:"-"`
	AutosaveInterval int64     `json:"autosave_interval"` // ticks, 0 disables
	LastAutosaveTick int64     `json:"-"`
	lastLabel        string
}

// NewMatch is the factory function registered with Nakama.
func NewMatch(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule) (runtime.Match, error) {
	return &matchHandler{}, nil
}

type matchHandler struct{}

// MatchInit builds the registry and the orchestrator and drives the machine
// into setup. Runs at 1 tick per second; the cadence doubles as the input
// countdown clock.
func (mh *matchHandler) MatchInit(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, params map[string]interface{}) (interface{}, int, string) {
	logger.Debug("MatchInit: initializing match handler")

	if err := config.LoadGameConfig("data/game_config.json"); err != nil {
		logger.Warn("MatchInit: could not load game config, using defaults: %v", err)
	}

	matchID, _ := ctx.Value(runtime.RUNTIME_CTX_MATCH_ID).(string)

	registry := NewSeatRegistry()
	relay := &eventRelay{logger: logger}
	orch := app.New(logger, registry, weather.NewProvider(nil), NewNakamaStorageAdapter(nk), NewNakamaEconomyAdapter(nk), nil, matchID)

	if err := relay.subscribe(orch.Bus()); err != nil {
		logger.Error("MatchInit: failed to subscribe relay: %v", err)
		return nil, 0, ""
	}
	if err := orch.Initialize(ctx); err != nil {
		logger.Error("MatchInit: failed to initialize orchestrator: %v", err)
		return nil, 0, ""
	}

	state := &MatchState{
		Registry:     registry,
		Orchestrator: orch,
		Relay:        relay,
	}

	if env, ok := ctx.Value(runtime.RUNTIME_CTX_ENV).(map[string]string); ok {
		if val, ok := env["hextactics_autosave_sec"]; ok {
			if i, err := strconv.ParseInt(val, 10, 64); err == nil && i >= 0 {
				state.AutosaveInterval = i
			}
		}
	}

	labelBytes, err := json.Marshal(mh.labelFor(state))
	if err != nil {
		logger.Error("MatchInit: failed to marshal label: %v", err)
		return nil, 0, ""
	}
	state.lastLabel = string(labelBytes)

	tickRate := 1
	return state, tickRate, string(labelBytes)
}

// MatchJoinAttempt admits rejoining seated users at any time and new users
// only while the match is still in setup with a seat open.
func (mh *matchHandler) MatchJoinAttempt(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presence runtime.Presence, metadata map[string]string) (interface{}, bool, string) {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state, false, "state not found"
	}

	if matchState.Registry.SeatOf(presence.GetUserId()) >= 0 {
		return state, true, ""
	}
	if matchState.Orchestrator.CurrentPhase() != domain.PhaseSetup {
		return state, false, "game in progress"
	}
	if matchState.Registry.OpenSeats() == 0 {
		return state, false, "match full"
	}
	return state, true, ""
}

func (mh *matchHandler) MatchJoin(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchJoin: state not found")
		return state
	}
	matchState.Relay.dispatcher = dispatcher

	for _, p := range presences {
		matchState.Registry.Presences[p.GetUserId()] = p
		seat := matchState.Registry.Seat(p.GetUserId())
		if seat < 0 {
			logger.Warn("MatchJoin: user %s joined but no seat was available", p.GetUserId())
			continue
		}
		logger.Debug("MatchJoin: user %s seated at %d", p.GetUserId(), seat)
	}

	mh.updateLabel(matchState, dispatcher, logger)
	mh.broadcastSnapshot(matchState, dispatcher, logger)
	return matchState
}

// MatchLeave drops the presence. Seats are only freed during setup; once the
// game has started a departed player keeps their seat so the turn flow can
// time them out into a default pass and they can rejoin.
func (mh *matchHandler) MatchLeave(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchLeave: state not found")
		return state
	}
	matchState.Relay.dispatcher = dispatcher

	inSetup := matchState.Orchestrator.CurrentPhase() == domain.PhaseSetup
	for _, p := range presences {
		delete(matchState.Registry.Presences, p.GetUserId())
		if inSetup {
			matchState.Registry.Unseat(p.GetUserId())
			logger.Debug("MatchLeave: user %s left during setup, seat freed", p.GetUserId())
		}
	}

	if matchState.Registry.ConnectedCount() == 0 {
		logger.Info("MatchLeave: terminating empty match")
		return nil
	}

	mh.updateLabel(matchState, dispatcher, logger)
	return matchState
}

func (mh *matchHandler) MatchLoop(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, messages []runtime.MatchData) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state
	}
	matchState.Relay.dispatcher = dispatcher
	matchState.Tick = tick

	for _, msg := range messages {
		switch msg.GetOpCode() {
		case OpStartGame:
			mh.handleStartGame(ctx, matchState, dispatcher, logger, msg)
		case OpAdvanceSetup:
			mh.handleAdvanceSetup(ctx, matchState, dispatcher, logger, msg)
		case OpSubmitInput:
			mh.handleSubmitInput(ctx, matchState, dispatcher, logger, msg)
		case OpRequestSave:
			mh.handleRequestSave(ctx, matchState, dispatcher, logger, msg)
		case OpRequestLoad:
			mh.handleRequestLoad(ctx, matchState, dispatcher, logger, msg)
		case OpNewGame:
			mh.handleNewGame(ctx, matchState, dispatcher, logger, msg)
		default:
			logger.Warn("MatchLoop: unknown opcode received: %d", msg.GetOpCode())
		}
	}

	now := time.Now()
	if !matchState.LastLoopAt.IsZero() {
		matchState.Orchestrator.Tick(now.Sub(matchState.LastLoopAt))
	}
	matchState.LastLoopAt = now

	mh.maybeAutosave(ctx, matchState, logger)
	mh.updateLabel(matchState, dispatcher, logger)

	return matchState
}

func (mh *matchHandler) maybeAutosave(ctx context.Context, state *MatchState, logger runtime.Logger) {
	if state.AutosaveInterval <= 0 {
		return
	}
	if state.Tick-state.LastAutosaveTick < state.AutosaveInterval {
		return
	}
	state.LastAutosaveTick = state.Tick
	if _, err := state.Orchestrator.Save(ctx); err != nil {
		logger.Error("MatchLoop: autosave failed: %v", err)
	}
}

func (mh *matchHandler) handleStartGame(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	senderID := msg.GetUserId()
	if !state.Registry.IsOwner(senderID) {
		logger.Warn("StartGame: user %s is not the owner (owner_seat=%d)", senderID, state.Registry.OwnerSeat)
		mh.sendError(state, dispatcher, logger, senderID, 403, "only the owner can start the game")
		return
	}
	if !state.Orchestrator.Start(ctx) {
		logger.Warn("StartGame: refused (phase=%s, seated=%d)", state.Orchestrator.CurrentPhase(), MaxSeats-state.Registry.OpenSeats())
		mh.sendError(state, dispatcher, logger, senderID, 400, "cannot start: not enough players or not in setup")
		return
	}
	logger.Info("StartGame: game started with %d players", MaxSeats-state.Registry.OpenSeats())
	mh.broadcastSnapshot(state, dispatcher, logger)
}

func (mh *matchHandler) handleAdvanceSetup(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	senderID := msg.GetUserId()
	if !state.Registry.IsOwner(senderID) {
		mh.sendError(state, dispatcher, logger, senderID, 403, "only the owner can advance setup")
		return
	}
	if !state.Orchestrator.AdvanceSetup(ctx) {
		mh.sendError(state, dispatcher, logger, senderID, 400, "setup step refused")
	}
}

func (mh *matchHandler) handleSubmitInput(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	senderID := msg.GetUserId()

	var req SubmitInputMessage
	if err := json.Unmarshal(msg.GetData(), &req); err != nil {
		logger.Warn("SubmitInput: invalid payload from %s: %v", senderID, err)
		mh.sendError(state, dispatcher, logger, senderID, 400, "invalid input payload")
		return
	}

	accepted := state.Orchestrator.SubmitInput(ctx, domain.TurnInput{
		UserID:  senderID,
		Kind:    domain.InputKind(req.Kind),
		TargetQ: req.TargetQ,
		TargetR: req.TargetR,
	})
	if !accepted {
		logger.Warn("SubmitInput: refused input from %s (phase=%s)", senderID, state.Orchestrator.CurrentPhase())
		mh.sendError(state, dispatcher, logger, senderID, 400, "input not accepted in current phase")
	}
}

func (mh *matchHandler) handleRequestSave(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	senderID := msg.GetUserId()
	if !state.Registry.IsOwner(senderID) {
		mh.sendError(state, dispatcher, logger, senderID, 403, "only the owner can save")
		return
	}
	if _, err := state.Orchestrator.Save(ctx); err != nil {
		logger.Error("RequestSave: save failed: %v", err)
		mh.sendError(state, dispatcher, logger, senderID, 500, "save failed")
	}
}

func (mh *matchHandler) handleRequestLoad(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	senderID := msg.GetUserId()
	if !state.Registry.IsOwner(senderID) {
		mh.sendError(state, dispatcher, logger, senderID, 403, "only the owner can load")
		return
	}
	if err := state.Orchestrator.Load(ctx); err != nil {
		logger.Error("RequestLoad: load failed: %v", err)
		mh.sendError(state, dispatcher, logger, senderID, 500, "load failed")
		return
	}
	mh.broadcastSnapshot(state, dispatcher, logger)
}

func (mh *matchHandler) handleNewGame(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	senderID := msg.GetUserId()
	if !state.Registry.IsOwner(senderID) {
		mh.sendError(state, dispatcher, logger, senderID, 403, "only the owner can start a new game")
		return
	}
	if !state.Orchestrator.StartNewGame(ctx) {
		mh.sendError(state, dispatcher, logger, senderID, 400, "new game only allowed after game over")
		return
	}
	mh.broadcastSnapshot(state, dispatcher, logger)
}

func (mh *matchHandler) broadcastSnapshot(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	received, required := state.Orchestrator.InputProgress()

	players := make([]PlayerWire, 0, MaxSeats)
	for _, summary := range state.Registry.ActivePlayers() {
		displayName := summary.UserID
		connected := false
		if p, ok := state.Registry.Presences[summary.UserID]; ok {
			displayName = p.GetUsername()
			connected = true
		}
		players = append(players, PlayerWire{
			UserID:      summary.UserID,
			Seat:        summary.Seat,
			Score:       summary.Score,
			IsOwner:     summary.Seat == state.Registry.OwnerSeat,
			Connected:   connected,
			DisplayName: displayName,
		})
	}

	snapshot := MatchSnapshot{
		Phase:          state.Orchestrator.CurrentPhase().String(),
		Turn:           state.Orchestrator.Turn(),
		OwnerSeat:      state.Registry.OwnerSeat,
		OpenSeats:      state.Registry.OpenSeats(),
		Players:        players,
		InputsReceived: received,
		InputsRequired: required,
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		logger.Error("broadcastSnapshot: failed to marshal: %v", err)
		return
	}
	if err := dispatcher.BroadcastMessage(OpMatchSnapshot, data, nil, nil, true); err != nil {
		logger.Error("broadcastSnapshot: broadcast failed: %v", err)
	}
}

// sendError delivers a GameErrorMessage to a single user.
func (mh *matchHandler) sendError(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, userID string, code int, message string) {
	presence, ok := state.Registry.Presences[userID]
	if !ok {
		logger.Warn("sendError: no presence for %s", userID)
		return
	}
	data, err := json.Marshal(GameErrorMessage{Code: code, Message: message})
	if err != nil {
		logger.Error("sendError: failed to marshal: %v", err)
		return
	}
	if err := dispatcher.BroadcastMessage(OpGameError, data, []runtime.Presence{presence}, nil, true); err != nil {
		logger.Error("sendError: broadcast failed: %v", err)
	}
}

func (mh *matchHandler) labelFor(state *MatchState) MatchLabel {
	return MatchLabel{
		Open:  state.Registry.OpenSeats(),
		Game:  "hextactics",
		Phase: state.Orchestrator.CurrentPhase().String(),
	}
}

func (mh *matchHandler) updateLabel(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	labelBytes, err := json.Marshal(mh.labelFor(state))
	if err != nil {
		logger.Error("updateLabel: failed to marshal: %v", err)
		return
	}
	label := string(labelBytes)
	if label == state.lastLabel {
		return
	}
	if err := dispatcher.MatchLabelUpdate(label); err != nil {
		logger.Error("updateLabel: failed to update: %v", err)
		return
	}
	state.lastLabel = label
}

// MatchTerminate flushes a final save so the match can resume later.
func (mh *matchHandler) MatchTerminate(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, reason int) interface{} {
	logger.Debug("MatchTerminate: match terminated for reason %d", reason)
	if matchState, ok := state.(*MatchState); ok {
		if _, err := matchState.Orchestrator.Save(ctx); err != nil {
			logger.Warn("MatchTerminate: final save failed: %v", err)
		}
	}
	return state
}

func (mh *matchHandler) MatchSignal(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, data string) (interface{}, string) {
	return state, ""
}
