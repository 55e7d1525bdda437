package domain

import "sort"

// InputKind classifies a player's declared intent for the turn.
type InputKind string

const (
	// InputMove declares a unit movement to a target hex.
	InputMove InputKind = "move"
	// InputAttack declares an attack on a target.
	InputAttack InputKind = "attack"
	// InputAbility declares an ability use.
	InputAbility InputKind = "ability"
	// InputPass declares no action this turn. Stragglers that miss the
	// input deadline are recorded as a pass.
	InputPass InputKind = "pass"
)

// TurnInput is one player's declared action for the current turn.
type TurnInput struct {
	UserID  string    `json:"user_id"`
	Kind    InputKind `json:"kind"`
	TargetQ int       `json:"target_q"`
	TargetR int       `json:"target_r"`
	// Defaulted marks inputs the server recorded on the player's behalf
	// after the input deadline elapsed.
	Defaulted bool `json:"defaulted,omitempty"`
}

// HazardRoll is one player's hazard die result for the turn.
type HazardRoll struct {
	UserID string `json:"user_id"`
	Roll   int    `json:"roll"`
}

// OrderEntry places one player in the turn's execution order.
type OrderEntry struct {
	UserID string `json:"user_id"`
	Seat   int    `json:"seat"`
	Roll   int    `json:"roll"`
}

// OrderByRolls derives the execution order: roll descending, ties broken by
// seat ascending so the ordering is deterministic for equal rolls.
func OrderByRolls(rolls []HazardRoll, seatOf func(userID string) int) []OrderEntry {
	entries := make([]OrderEntry, 0, len(rolls))
	for _, r := range rolls {
		entries = append(entries, OrderEntry{
			UserID: r.UserID,
			Seat:   seatOf(r.UserID),
			Roll:   r.Roll,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Roll != entries[j].Roll {
			return entries[i].Roll > entries[j].Roll
		}
		return entries[i].Seat < entries[j].Seat
	})
	return entries
}

// PlayerSummary is the registry view of one player used for results and
// victory checks.
type PlayerSummary struct {
	UserID string `json:"user_id"`
	Seat   int    `json:"seat"`
	Score  int64  `json:"score"`
}

// PlayerResult is one row of the frozen game-over results.
type PlayerResult struct {
	UserID string `json:"user_id"`
	Seat   int    `json:"seat"`
	Score  int64  `json:"score"`
	Rank   int    `json:"rank"`
}

// ComputeResults ranks players by score descending; ties keep registration
// (slice) order. Ranks are 1-based and tied scores share a rank.
func ComputeResults(players []PlayerSummary) []PlayerResult {
	results := make([]PlayerResult, 0, len(players))
	for _, p := range players {
		results = append(results, PlayerResult{UserID: p.UserID, Seat: p.Seat, Score: p.Score})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	for i := range results {
		if i > 0 && results[i].Score == results[i-1].Score {
			results[i].Rank = results[i-1].Rank
			continue
		}
		results[i].Rank = i + 1
	}
	return results
}

// Weather describes the conditions in effect for one turn.
type Weather struct {
	Condition string `json:"condition"`
	Severity  int    `json:"severity"`
	Turn      int    `json:"turn"`
}
