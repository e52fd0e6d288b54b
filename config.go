// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trustregion

import (
	"errors"
	"math"
)

// Initial-region sentinels accepted by Config.RegionInitial. The numeric
// encoding exists only at the configuration boundary; internally the
// driver resolves them into a region mode before the first iteration.
const (
	// RegionInitUnconstrained solves the first subproblem without a region
	// bound and uses the resulting step length as the initial radius.
	RegionInitUnconstrained = -1.0
	// RegionInitCauchy uses ten times the unconstrained Cauchy step length
	// as the initial radius.
	RegionInitCauchy = -2.0
)

// Config holds the tuning knobs of the trust-region driver.
type Config struct {
	// RegionInitial is the initial region radius Δ₀. Positive values are
	// used literally; RegionInitUnconstrained and RegionInitCauchy select
	// the automatic modes. Any other non-positive value is rejected.
	RegionInitial float64 `yaml:"region-initial"`
	// RegionMaximum bounds the region radius from above.
	RegionMaximum float64 `yaml:"region-maximum"`
	// GTol stops the search when 𝚖𝚊𝚡|gᵢ| ≤ GTol.
	GTol float64 `yaml:"gtol"`
	// FTol stops the search when the relative cost reduction of an
	// accepted step falls below it.
	FTol float64 `yaml:"ftol"`
	// ScalingMin and ScalingMax clamp the per-parameter scaling factors
	// √|Hᵢᵢ|. Scaling is active iff ScalingMax > ScalingMin.
	ScalingMin float64 `yaml:"scaling-min"`
	ScalingMax float64 `yaml:"scaling-max"`
}

// DefaultConfig returns the typical tuning: Δ₀ = 1, unbounded region
// growth, gtol = 1e-8, ftol = 1e-12 and scaling off.
func DefaultConfig() Config {
	return Config{
		RegionInitial: 1.0,
		RegionMaximum: math.MaxFloat64,
		GTol:          1e-8,
		FTol:          1e-12,
	}
}

type regionMode int

const (
	regionExplicit regionMode = iota
	regionUnconstrained
	regionCauchy
)

// resolve maps the RegionInitial encoding onto the internal region mode.
func (c *Config) resolve() (regionMode, error) {
	switch {
	case c.RegionInitial > 0:
		return regionExplicit, nil
	case c.RegionInitial == RegionInitUnconstrained:
		return regionUnconstrained, nil
	case c.RegionInitial == RegionInitCauchy:
		return regionCauchy, nil
	}
	return 0, errors.New("initial region must be positive, -1 (unconstrained) or -2 (cauchy)")
}

func (c *Config) validate() error {
	if _, err := c.resolve(); err != nil {
		return err
	}
	switch {
	case c.RegionMaximum <= 0:
		return errors.New("maximum region must greater than 0")
	case math.IsNaN(c.GTol) || c.GTol < 0:
		return errors.New("gradient tolerance must not less than 0")
	case math.IsNaN(c.FTol) || c.FTol < 0:
		return errors.New("function tolerance must not less than 0")
	}
	return nil
}

// scalingActive reports whether diagonal scaling is turned on.
func (c *Config) scalingActive() bool {
	return c.ScalingMax > c.ScalingMin
}
