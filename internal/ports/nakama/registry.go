package nakama

import (
	"encoding/json"
	"fmt"

	"hextactics/internal/domain"
	"hextactics/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// SeatRegistry is the seat-based player registry backing ports.PlayersPort.
// Seats are assigned on join and survive a mid-game disconnect, so a
// dropped player still counts toward required inputs and times out into a
// default pass instead of stalling the turn.
type SeatRegistry struct {
	Seats     [MaxSeats]string            `json:"seats"`
	OwnerSeat int                         `json:"owner_seat"`
	Scores    map[string]int64            `json:"scores"`
	Presences map[string]runtime.Presence `json:"-"`

	lastInputs map[string]domain.TurnInput
}

// NewSeatRegistry constructs an empty registry.
func NewSeatRegistry() *SeatRegistry {
	return &SeatRegistry{
		OwnerSeat:  -1,
		Scores:     make(map[string]int64),
		Presences:  make(map[string]runtime.Presence),
		lastInputs: make(map[string]domain.TurnInput),
	}
}

// Seat places a user in the lowest empty seat and returns its index, or -1
// when the match is full. Re-seating a user returns their existing seat.
func (r *SeatRegistry) Seat(userID string) int {
	for i, id := range r.Seats {
		if id == userID {
			return i
		}
	}
	for i, id := range r.Seats {
		if id == "" {
			r.Seats[i] = userID
			if r.OwnerSeat < 0 {
				r.OwnerSeat = i
			}
			return i
		}
	}
	return -1
}

// Unseat frees a user's seat and reassigns ownership to the lowest
// remaining seat.
func (r *SeatRegistry) Unseat(userID string) {
	for i, id := range r.Seats {
		if id == userID {
			r.Seats[i] = ""
			break
		}
	}
	if r.OwnerSeat >= 0 && r.Seats[r.OwnerSeat] == "" {
		r.OwnerSeat = -1
		for i, id := range r.Seats {
			if id != "" {
				r.OwnerSeat = i
				break
			}
		}
	}
}

// IsOwner reports whether the user holds the owner seat.
func (r *SeatRegistry) IsOwner(userID string) bool {
	return r.OwnerSeat >= 0 && r.Seats[r.OwnerSeat] == userID
}

// OpenSeats counts the empty seats.
func (r *SeatRegistry) OpenSeats() int {
	count := 0
	for _, id := range r.Seats {
		if id == "" {
			count++
		}
	}
	return count
}

// ConnectedCount counts seated users with a live presence.
func (r *SeatRegistry) ConnectedCount() int {
	count := 0
	for _, id := range r.Seats {
		if id == "" {
			continue
		}
		if _, ok := r.Presences[id]; ok {
			count++
		}
	}
	return count
}

// ActivePlayers returns every seated player in seat order.
func (r *SeatRegistry) ActivePlayers() []domain.PlayerSummary {
	players := make([]domain.PlayerSummary, 0, MaxSeats)
	for i, id := range r.Seats {
		if id == "" {
			continue
		}
		players = append(players, domain.PlayerSummary{
			UserID: id,
			Seat:   i,
			Score:  r.Scores[id],
		})
	}
	return players
}

// PlayersNeedingInput returns every seated player; everyone declares an
// action each turn, connected or not.
func (r *SeatRegistry) PlayersNeedingInput(turn int) []string {
	ids := make([]string, 0, MaxSeats)
	for _, id := range r.Seats {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// RecordInput stores a player's latest input record.
func (r *SeatRegistry) RecordInput(input domain.TurnInput) error {
	if r.SeatOf(input.UserID) < 0 {
		return fmt.Errorf("user %s is not seated", input.UserID)
	}
	r.lastInputs[input.UserID] = input
	return nil
}

// LastInput returns the most recent input recorded for a user.
func (r *SeatRegistry) LastInput(userID string) (domain.TurnInput, bool) {
	input, ok := r.lastInputs[userID]
	return input, ok
}

// AddScore adjusts a seated player's score.
func (r *SeatRegistry) AddScore(userID string, delta int64) {
	if r.SeatOf(userID) < 0 {
		return
	}
	r.Scores[userID] += delta
}

// ResetScores zeroes every score for a fresh game. Seats and ownership are
// untouched.
func (r *SeatRegistry) ResetScores() {
	r.Scores = make(map[string]int64)
	r.lastInputs = make(map[string]domain.TurnInput)
}

// SeatOf returns a user's seat index, or -1 if unseated.
func (r *SeatRegistry) SeatOf(userID string) int {
	for i, id := range r.Seats {
		if id == userID {
			return i
		}
	}
	return -1
}

type registryState struct {
	Seats     [MaxSeats]string `json:"seats"`
	OwnerSeat int              `json:"owner_seat"`
	Scores    map[string]int64 `json:"scores"`
}

// Serialize snapshots seats, ownership, and scores for the save envelope.
// Presences are transport state and never persisted.
func (r *SeatRegistry) Serialize() (json.RawMessage, error) {
	return json.Marshal(registryState{
		Seats:     r.Seats,
		OwnerSeat: r.OwnerSeat,
		Scores:    r.Scores,
	})
}

// Restore reapplies a registry snapshot. Input records belong to the game
// being replaced and are dropped.
func (r *SeatRegistry) Restore(blob json.RawMessage) error {
	var st registryState
	if err := json.Unmarshal(blob, &st); err != nil {
		return err
	}
	r.Seats = st.Seats
	r.OwnerSeat = st.OwnerSeat
	r.Scores = st.Scores
	if r.Scores == nil {
		r.Scores = make(map[string]int64)
	}
	r.lastInputs = make(map[string]domain.TurnInput)
	return nil
}

var _ ports.PlayersPort = (*SeatRegistry)(nil)
