package nakama

import (
	"context"
	"encoding/json"

	"hextactics/internal/domain"
	"hextactics/internal/event"
	"hextactics/internal/flow"

	"github.com/heroiclabs/nakama-common/runtime"
)

// Client -> server message payloads. All messages are JSON.

// SubmitInputMessage carries one player's declared action for the turn. The
// acting user is always the message sender; any user_id in the payload is
// ignored.
type SubmitInputMessage struct {
	Kind    string `json:"kind"`
	TargetQ int    `json:"target_q"`
	TargetR int    `json:"target_r"`
}

// Server -> client event payloads.

// MatchSnapshot is the full public view of the match, broadcast on join and
// on demand.
type MatchSnapshot struct {
	Phase          string          `json:"phase"`
	Turn           int             `json:"turn"`
	OwnerSeat      int             `json:"owner_seat"`
	OpenSeats      int             `json:"open_seats"`
	Players        []PlayerWire    `json:"players"`
	InputsReceived int             `json:"inputs_received"`
	InputsRequired int             `json:"inputs_required"`
	Weather        *domain.Weather `json:"weather,omitempty"`
}

// PlayerWire is one seat's public state.
type PlayerWire struct {
	UserID      string `json:"user_id"`
	Seat        int    `json:"seat"`
	Score       int64  `json:"score"`
	IsOwner     bool   `json:"is_owner"`
	Connected   bool   `json:"connected"`
	DisplayName string `json:"display_name"`
}

// PhaseChangedMessage announces a committed transition.
type PhaseChangedMessage struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// WeatherChangedMessage announces the turn's rolled conditions.
type WeatherChangedMessage struct {
	Turn      int    `json:"turn"`
	Condition string `json:"condition"`
	Severity  int    `json:"severity"`
}

// HazardRolledMessage carries every seat's hazard roll for the turn.
type HazardRolledMessage struct {
	Turn  int                 `json:"turn"`
	Rolls []domain.HazardRoll `json:"rolls"`
}

// ActionResolvedMessage announces one resolved action and its score.
type ActionResolvedMessage struct {
	Turn   int    `json:"turn"`
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
	Score  int64  `json:"score"`
}

// GameOverMessage carries the frozen final standings.
type GameOverMessage struct {
	Turn    int                   `json:"turn"`
	Results []domain.PlayerResult `json:"results"`
}

// GameErrorMessage is sent to a single user when their request is refused.
type GameErrorMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// MatchLabel is the queryable listing entry kept current via
// MatchLabelUpdate.
type MatchLabel struct {
	Open  int    `json:"open"`
	Game  string `json:"game"`
	Phase string `json:"phase"`
}

// eventRelay forwards bus events to connected clients. The dispatcher is
// only handed to match callbacks, never to MatchInit, so the relay holds a
// slot the handler refreshes at the top of every callback. Events published
// before the first callback are dropped.
type eventRelay struct {
	logger     runtime.Logger
	dispatcher runtime.MatchDispatcher
}

func (r *eventRelay) broadcast(opCode int64, payload any) {
	if r.dispatcher == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("relay: failed to marshal opcode %d payload: %v", opCode, err)
		return
	}
	if err := r.dispatcher.BroadcastMessage(opCode, data, nil, nil, true); err != nil {
		r.logger.Error("relay: broadcast opcode %d failed: %v", opCode, err)
	}
}

// subscribe wires the relay onto the bus. Priority 0 keeps game listeners
// ahead of transport fan-out where ordering matters.
func (r *eventRelay) subscribe(bus *event.Bus) error {
	subs := []struct {
		name string
		fn   event.Listener
	}{
		{flow.EventPhaseChanged, r.onPhaseChanged},
		{flow.EventWeatherChanged, r.onWeatherChanged},
		{flow.EventHazardRolled, r.onHazardRolled},
		{flow.EventActionResolved, r.onActionResolved},
		{flow.EventGameOver, r.onGameOver},
	}
	for _, s := range subs {
		if _, err := bus.Subscribe(s.name, s.fn, 0); err != nil {
			return err
		}
	}
	return nil
}

func (r *eventRelay) onPhaseChanged(ctx context.Context, ev event.Event) (any, error) {
	prev, _ := ev.Data["previous_phase"].(string)
	next, _ := ev.Data["new_phase"].(string)
	r.broadcast(OpPhaseChanged, PhaseChangedMessage{Previous: prev, Current: next})
	return nil, nil
}

func (r *eventRelay) onWeatherChanged(ctx context.Context, ev event.Event) (any, error) {
	condition, _ := ev.Data["condition"].(string)
	severity, _ := ev.Data["severity"].(int)
	r.broadcast(OpWeatherChanged, WeatherChangedMessage{
		Turn:      dataInt(ev.Data, "turn"),
		Condition: condition,
		Severity:  severity,
	})
	return nil, nil
}

func (r *eventRelay) onHazardRolled(ctx context.Context, ev event.Event) (any, error) {
	rolls, _ := ev.Data["rolls"].([]domain.HazardRoll)
	r.broadcast(OpHazardRolled, HazardRolledMessage{
		Turn:  dataInt(ev.Data, "turn"),
		Rolls: rolls,
	})
	return nil, nil
}

func (r *eventRelay) onActionResolved(ctx context.Context, ev event.Event) (any, error) {
	userID, _ := ev.Data["user_id"].(string)
	kind, _ := ev.Data["kind"].(string)
	score, _ := ev.Data["score"].(int64)
	r.broadcast(OpActionResolved, ActionResolvedMessage{
		Turn:   dataInt(ev.Data, "turn"),
		UserID: userID,
		Kind:   kind,
		Score:  score,
	})
	return nil, nil
}

func (r *eventRelay) onGameOver(ctx context.Context, ev event.Event) (any, error) {
	results, _ := ev.Data["results"].([]domain.PlayerResult)
	r.broadcast(OpGameOver, GameOverMessage{
		Turn:    dataInt(ev.Data, "turn"),
		Results: results,
	})
	return nil, nil
}

func dataInt(d event.Data, key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
