package ports

import (
	"encoding/json"

	"hextactics/internal/domain"
)

// PlayersPort is the turn-flow core's view of the player registry. The core
// never owns player lifecycle; it queries who needs input, records inputs,
// and adjusts scores.
type PlayersPort interface {
	// ActivePlayers returns every seated player in registration (seat)
	// order.
	ActivePlayers() []domain.PlayerSummary

	// PlayersNeedingInput returns the user ids that must submit an input
	// for the given turn.
	PlayersNeedingInput(turn int) []string

	// RecordInput stores a player's input for the current turn. A second
	// input from the same player overwrites the first.
	RecordInput(input domain.TurnInput) error

	// AddScore adjusts a player's score by delta.
	AddScore(userID string, delta int64)

	// ResetScores zeroes every player's score for a fresh game.
	ResetScores()

	// SeatOf returns the seat index for a user id, or -1 if unseated.
	SeatOf(userID string) int

	// Serialize and Restore round-trip the registry's own save blob for
	// the orchestrator's envelope.
	Serialize() (json.RawMessage, error)
	Restore(blob json.RawMessage) error
}
