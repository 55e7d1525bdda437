package domain

import "testing"

func TestTransitionTableShape(t *testing.T) {
	table := DefaultTransitions()

	// Every phase has an outbound entry.
	for _, p := range AllPhases() {
		if len(table[p]) == 0 {
			t.Errorf("phase %s has no outbound transitions", p)
		}
	}

	// Every phase except Setup is reachable from some other phase; Setup's
	// only inbound edge is the GameOver restart.
	inbound := make(map[Phase][]Phase)
	for from, tos := range table {
		for _, to := range tos {
			inbound[to] = append(inbound[to], from)
		}
	}
	for _, p := range AllPhases() {
		if len(inbound[p]) == 0 {
			t.Errorf("phase %s has no inbound transitions", p)
		}
	}
	if got := inbound[PhaseSetup]; len(got) != 1 || got[0] != PhaseGameOver {
		t.Errorf("setup inbound = %v, want only game_over", got)
	}

	// No self-transitions are whitelisted.
	for from, tos := range table {
		for _, to := range tos {
			if from == to {
				t.Errorf("self-transition whitelisted for %s", from)
			}
		}
	}
}

func TestKnownPhase(t *testing.T) {
	for _, p := range AllPhases() {
		if !KnownPhase(p) {
			t.Errorf("KnownPhase(%s) = false", p)
		}
	}
	if KnownPhase("lobby") {
		t.Error("KnownPhase(lobby) = true, want false")
	}
	if KnownPhase(PhaseNone) {
		t.Error("KnownPhase(none) = true, want false")
	}
}

func TestOrderByRolls(t *testing.T) {
	seats := map[string]int{"u1": 0, "u2": 1, "u3": 2}
	seatOf := func(id string) int { return seats[id] }

	rolls := []HazardRoll{
		{UserID: "u1", Roll: 3},
		{UserID: "u2", Roll: 5},
		{UserID: "u3", Roll: 3},
	}

	order := OrderByRolls(rolls, seatOf)
	want := []string{"u2", "u1", "u3"} // 5 first, then tied 3s by seat
	for i, entry := range order {
		if entry.UserID != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, entry.UserID, want[i])
		}
	}
}

func TestComputeResults(t *testing.T) {
	players := []PlayerSummary{
		{UserID: "u1", Seat: 0, Score: 10},
		{UserID: "u2", Seat: 1, Score: 30},
		{UserID: "u3", Seat: 2, Score: 10},
	}

	results := ComputeResults(players)
	if results[0].UserID != "u2" || results[0].Rank != 1 {
		t.Fatalf("results[0] = %+v, want u2 rank 1", results[0])
	}
	// u1 registered before u3; equal scores keep registration order and
	// share a rank.
	if results[1].UserID != "u1" || results[2].UserID != "u3" {
		t.Fatalf("tie order = %s, %s; want u1, u3", results[1].UserID, results[2].UserID)
	}
	if results[1].Rank != 2 || results[2].Rank != 2 {
		t.Fatalf("tie ranks = %d, %d; want 2, 2", results[1].Rank, results[2].Rank)
	}
}
