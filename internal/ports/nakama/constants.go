package nakama

const (
	// RpcQuickTactics is the Nakama RPC id clients call to find or create a
	// joinable match.
	RpcQuickTactics = "quick_tactics"

	// MatchNameHexTactics is the authoritative match handler name
	// registered with Nakama.
	MatchNameHexTactics = "hextactics_match"

	// MaxSeats is the number of player seats per match.
	MaxSeats = 4
)

// Op codes for client messages and server events.
const (
	// Client -> Server
	OpStartGame    int64 = 1
	OpAdvanceSetup int64 = 2
	OpSubmitInput  int64 = 3
	OpRequestSave  int64 = 4
	OpRequestLoad  int64 = 5
	OpNewGame      int64 = 6

	// Server -> Client events
	OpMatchSnapshot  int64 = 101
	OpPhaseChanged   int64 = 102
	OpWeatherChanged int64 = 103
	OpHazardRolled   int64 = 104
	OpActionResolved int64 = 105
	OpGameOver       int64 = 106
	OpGameError      int64 = 107
)
