// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trustregion

import (
	"fmt"
	"math"
)

// cauchyUpdate steps along the steepest-descent direction to the minimizer
// of the quadratic model inside the region.
//
// With ĝ = g/‖g‖ and c = ĝᵀ𝑯ĝ the model along -ĝ is
//
//	m(τ) = fₓ - τ‖g‖ + ½τ²c
//
// whose constrained minimizer is τ̄ = 𝚖𝚒𝚗(Δ, ‖g‖/c) for c > 0 and the
// region boundary otherwise. Working with the normalized direction keeps
// Δ³ out of the predicted reduction.
type cauchyUpdate struct {
	base *driverBase

	// curvature along the normalized gradient, ĝᵀ𝑯ĝ
	c float64

	predicted, length float64
}

func (u *cauchyUpdate) initialize(n int) {}

func (u *cauchyUpdate) initializeUpdate() error {
	b := u.base
	gBg := b.hess.InnerVector(b.gradient)
	if isUncountable(gBg) {
		return fmt.Errorf("%w: gᵀHg = %v", ErrUncountable, gBg)
	}
	u.c = gBg / (b.gradientNorm * b.gradientNorm)
	return nil
}

func (u *cauchyUpdate) computeUpdate(p []float64, radius float64) {
	b := u.base
	gnorm := b.gradientNorm

	var tau float64
	if u.c <= 0 {
		// the model is non-convex along the gradient; go to the boundary
		tau = radius
	} else {
		tau = math.Min(radius, gnorm/u.c)
	}

	if len(p) != len(b.gradient) {
		panic("bound check error")
	}
	k := tau / gnorm
	for i, g := range b.gradient {
		p[i] = -k * g
	}

	u.length = tau
	u.predicted = tau * (gnorm - 0.5*tau*u.c)
}

func (u *cauchyUpdate) predictedReduction() float64 { return u.predicted }

func (u *cauchyUpdate) stepLength() float64 { return u.length }
