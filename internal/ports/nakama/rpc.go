package nakama

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
)

// QuickMatchResponse is returned to clients looking for a joinable match.
type QuickMatchResponse struct {
	MatchID string `json:"match_id"`
	IsNew   bool   `json:"is_new"`
}

// RegisterRPCs registers Nakama RPC endpoints.
func RegisterRPCs(initializer runtime.Initializer) error {
	return initializer.RegisterRpc(RpcQuickTactics, rpcQuickTactics)
}

// rpcQuickTactics finds an open match still in setup, or creates one. Seat
// and owner assignment happen server-side in MatchJoin.
func rpcQuickTactics(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)

	query := "+label.open:>=1 +label.game:hextactics +label.phase:setup"
	limit := 10
	authoritative := true
	minSize := 1
	maxSize := MaxSeats - 1

	matches, err := nk.MatchList(ctx, limit, authoritative, "", &minSize, &maxSize, query)
	if err != nil {
		logger.Error("rpcQuickTactics [user:%s]: failed to list matches: %v", userID, err)
		return "", err
	}

	if len(matches) > 0 {
		resp := QuickMatchResponse{MatchID: matches[0].MatchId, IsNew: false}
		b, _ := json.Marshal(resp)
		return string(b), nil
	}

	matchID, err := nk.MatchCreate(ctx, MatchNameHexTactics, map[string]interface{}{})
	if err != nil {
		logger.Error("rpcQuickTactics [user:%s]: failed to create match: %v", userID, err)
		return "", err
	}

	logger.Info("rpcQuickTactics [user:%s]: created new match %s", userID, matchID)
	resp := QuickMatchResponse{MatchID: matchID, IsNew: true}
	b, _ := json.Marshal(resp)
	return string(b), nil
}
