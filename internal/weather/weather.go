// Package weather provides the per-turn weather conditions phases query at
// turn start.
package weather

import (
	"math/rand"
	"time"

	"hextactics/internal/domain"
)

var conditions = []string{"clear", "rain", "fog", "storm", "heatwave"}

// Provider rolls conditions forward once per turn. It implements
// ports.WeatherPort.
type Provider struct {
	rng     *rand.Rand
	current domain.Weather
}

// NewProvider constructs a provider with the given rng or a time-seeded
// default. The game starts clear.
func NewProvider(rng *rand.Rand) *Provider {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Provider{
		rng:     rng,
		current: domain.Weather{Condition: "clear", Severity: 0},
	}
}

// Current returns the conditions in effect right now.
func (p *Provider) Current() domain.Weather {
	return p.current
}

// AdvanceTurn rolls new conditions for the given turn. Weather has a bias
// toward persisting: half the time the condition carries over with only the
// severity rerolled.
func (p *Provider) AdvanceTurn(turn int) domain.Weather {
	condition := p.current.Condition
	if condition == "" || p.rng.Intn(2) == 0 {
		condition = conditions[p.rng.Intn(len(conditions))]
	}
	p.current = domain.Weather{
		Condition: condition,
		Severity:  p.rng.Intn(3) + 1,
		Turn:      turn,
	}
	return p.current
}
