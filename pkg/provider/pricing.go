package provider

import (
	"math"
	"strings"

	"github.com/reelforge/reelforge/pkg/config"
	"github.com/reelforge/reelforge/pkg/models"
)

// DefaultDurationSeconds is used when a request does not set a duration.
const DefaultDurationSeconds = 8

// Pricing estimates generation cost from per-second rates.
type Pricing struct {
	defaultPerSecond float64
	perSecond        map[string]float64
	defaultDuration  int
}

// NewPricing builds a Pricing from configuration.
func NewPricing(cfg config.PricingConfig) Pricing {
	p := Pricing{
		defaultPerSecond: cfg.DefaultPerSecond,
		perSecond:        make(map[string]float64, len(cfg.PerSecond)),
		defaultDuration:  cfg.DefaultDuration,
	}
	for res, rate := range cfg.PerSecond {
		p.perSecond[strings.ToLower(res)] = rate
	}
	if p.defaultDuration <= 0 {
		p.defaultDuration = DefaultDurationSeconds
	}
	return p
}

// Estimate returns duration * rate(resolution), rounded to the cent.
func (p Pricing) Estimate(params models.GenerationParams) float64 {
	duration := params.DurationSeconds
	if duration <= 0 {
		duration = p.defaultDuration
	}
	rate, ok := p.perSecond[strings.ToLower(params.Resolution)]
	if !ok {
		rate = p.defaultPerSecond
	}
	return math.Round(float64(duration)*rate*100) / 100
}
