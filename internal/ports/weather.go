package ports

import "hextactics/internal/domain"

// WeatherPort exposes the weather subsystem to the turn-flow core.
type WeatherPort interface {
	// Current returns the conditions in effect right now.
	Current() domain.Weather

	// AdvanceTurn rolls the conditions forward for the given turn and
	// returns the new conditions.
	AdvanceTurn(turn int) domain.Weather
}
