package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// GameConfig holds the tunable turn-flow parameters loaded from JSON.
type GameConfig struct {
	// InputTimeoutSeconds bounds how long the input phase waits before
	// recording default passes for stragglers. Zero disables the timeout.
	InputTimeoutSeconds int `json:"input_timeout_seconds"`
	// MinPlayersToStart is the minimum seated players needed to leave setup.
	MinPlayersToStart int `json:"min_players_to_start"`
	// MaxTurns ends the game in a score comparison when reached. Zero means
	// no turn limit.
	MaxTurns int `json:"max_turns"`
	// VictoryScore ends the game when any player reaches it.
	VictoryScore int64 `json:"victory_score"`
	// HazardDieSides is the size of the per-player hazard die.
	HazardDieSides int `json:"hazard_die_sides"`
	// SetupAutoComplete collapses the setup sub-step sequence into one
	// advance. Debug convenience for local play.
	SetupAutoComplete bool `json:"setup_auto_complete"`
	// WinnerRewardGold is granted to the winner's wallet at game over.
	WinnerRewardGold int64 `json:"winner_reward_gold"`
	// ActionScores maps input kinds to their base score contribution.
	ActionScores map[string]int64 `json:"action_scores"`
}

var (
	cfg      *GameConfig
	loadOnce sync.Once
	loadErr  error
)

// LoadGameConfig loads the game configuration from the given path.
func LoadGameConfig(path string) error {
	loadOnce.Do(func() {
		data, err := os.ReadFile(path)
		if err != nil {
			loadErr = fmt.Errorf("failed to read game config: %w", err)
			return
		}

		var c GameConfig
		if err := json.Unmarshal(data, &c); err != nil {
			loadErr = fmt.Errorf("failed to unmarshal game config: %w", err)
			return
		}
		cfg = &c
	})
	return loadErr
}

// GetGameConfig returns the global game configuration, or nil if never
// loaded.
func GetGameConfig() *GameConfig {
	return cfg
}

// GetInputTimeout returns the input-phase deadline, or the default when no
// config is loaded.
func GetInputTimeout() time.Duration {
	if cfg == nil || cfg.InputTimeoutSeconds < 0 {
		return 30 * time.Second
	}
	return time.Duration(cfg.InputTimeoutSeconds) * time.Second
}

// GetMinPlayersToStart returns the configured start threshold.
func GetMinPlayersToStart() int {
	if cfg == nil || cfg.MinPlayersToStart <= 0 {
		return 2
	}
	return cfg.MinPlayersToStart
}

// GetMaxTurns returns the turn limit, zero meaning unlimited.
func GetMaxTurns() int {
	if cfg == nil {
		return 0
	}
	return cfg.MaxTurns
}

// GetVictoryScore returns the score that ends the game.
func GetVictoryScore() int64 {
	if cfg == nil || cfg.VictoryScore <= 0 {
		return 100
	}
	return cfg.VictoryScore
}

// GetHazardDieSides returns the hazard die size.
func GetHazardDieSides() int {
	if cfg == nil || cfg.HazardDieSides <= 0 {
		return 20
	}
	return cfg.HazardDieSides
}

// GetSetupAutoComplete reports whether setup collapses to one advance.
func GetSetupAutoComplete() bool {
	return cfg != nil && cfg.SetupAutoComplete
}

// GetWinnerReward returns the gold granted to the winner at game over.
func GetWinnerReward() int64 {
	if cfg == nil || cfg.WinnerRewardGold <= 0 {
		return 500
	}
	return cfg.WinnerRewardGold
}

// GetActionScore returns the base score for an input kind.
func GetActionScore(kind string) int64 {
	if cfg != nil && cfg.ActionScores != nil {
		if v, ok := cfg.ActionScores[kind]; ok {
			return v
		}
	}
	switch kind {
	case "attack", "ability":
		return 2
	case "move":
		return 1
	default:
		return 0
	}
}
