// Package density simulates live crowd density per stop and keeps the
// engine's density signals fresh.
package density

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"transitopt/internal/model"
)

// hourlyFactors scales the base density by hour of day, peaking around the
// morning and evening commutes.
var hourlyFactors = [24]float64{
	0.3, 0.2, 0.1, 0.1, 0.2, 0.4, // 00-05
	0.6, 0.8, 1.0, 0.9, 0.7, 0.8, // 06-11
	0.9, 0.8, 0.7, 0.8, 0.9, 1.0, // 12-17
	0.9, 0.8, 0.6, 0.5, 0.4, 0.3, // 18-23
}

// Source yields uniform values in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

type Config struct {
	Base      float64
	JitterMin float64
	JitterMax float64
}

func DefaultConfig() Config {
	return Config{Base: 100, JitterMin: 0.8, JitterMax: 1.2}
}

// Provider computes density as base * hourly factor * per-stop multiplier,
// optionally scaled by a jitter drawn from src. It is safe for concurrent use.
type Provider struct {
	cfg Config

	mu  sync.Mutex
	src Source
}

// NewProvider returns a provider. A nil src disables jitter.
func NewProvider(cfg Config, src Source) (*Provider, error) {
	if cfg.Base < 0 || cfg.JitterMin < 0 || cfg.JitterMax < cfg.JitterMin {
		return nil, fmt.Errorf("density config %+v: %w", cfg, model.ErrInvalidInput)
	}
	return &Provider{cfg: cfg, src: src}, nil
}

// NewSeededSource returns a non-thread-safe source; Provider serialises access to it.
func NewSeededSource(seed int64) Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Expected is the deterministic density for id at hour.
func (p *Provider) Expected(id model.StopID, hour int) (float64, error) {
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("density hour %d: %w", hour, model.ErrInvalidInput)
	}
	return p.cfg.Base * hourlyFactors[hour] * stopMultiplier(id), nil
}

// Density is Expected scaled by a jitter in [JitterMin, JitterMax].
func (p *Provider) Density(id model.StopID, hour int) (float64, error) {
	v, err := p.Expected(id, hour)
	if err != nil {
		return 0, err
	}
	return v * p.jitter(), nil
}

func (p *Provider) jitter() float64 {
	if p.src == nil {
		return 1
	}
	p.mu.Lock()
	u := p.src.Float64()
	p.mu.Unlock()
	return p.cfg.JitterMin + u*(p.cfg.JitterMax-p.cfg.JitterMin)
}

// stopMultiplier spreads stops over five crowding tiers from 1.0 to 1.8.
func stopMultiplier(id model.StopID) float64 {
	tier := ((int(id) % 5) + 5) % 5
	return 1 + float64(tier)*0.2
}
