// Package noise produces deterministic, normally distributed readings for
// the simulated device variants.
package noise

import (
	"math/rand"
)

// DefaultSeed is the seed used when none is specified, so that simulated
// devices produce the same sequence on every run.
const DefaultSeed uint64 = 42

// Params describes a noise distribution in a compact form.
type Params struct {
	Mean   float64
	Stddev float64
	Seed   uint64
}

// Producer yields normally distributed values around a configured mean.
// It is not goroutine safe; each simulated property owns its own Producer.
type Producer struct {
	rng    *rand.Rand
	mean   float64
	stddev float64
}

// New creates a Producer with the given mean, standard deviation and seed.
// A zero seed selects DefaultSeed.
func New(mean, stddev float64, seed uint64) *Producer {
	if seed == 0 {
		seed = DefaultSeed
	}

	return &Producer{
		rng:    rand.New(rand.NewSource(int64(seed))),
		mean:   mean,
		stddev: stddev,
	}
}

// FromParams creates a Producer from a Params value.
func FromParams(p Params) *Producer {
	return New(p.Mean, p.Stddev, p.Seed)
}

// Float64 returns the next noise value.
func (p *Producer) Float64() float64 {
	return p.rng.NormFloat64()*p.stddev + p.mean
}

// Int returns the next noise value rounded toward zero.
func (p *Producer) Int() int {
	return int(p.Float64())
}
