// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trustregion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// doglegUpdate approximates the exact region subproblem with the
// two-segment path from the unconstrained Cauchy point pᵤ to the
// Gauss-Newton point p_gn.
//
// When the model is positive definite the step is p_gn if it lies inside
// the region, the truncated Cauchy step if even pᵤ lies outside, and
// otherwise the point where the second segment crosses the boundary.
// Without positive definiteness the update degrades to a gradient step
// truncated at the boundary.
type doglegUpdate struct {
	base *driverBase

	gn []float64 // Gauss-Newton step -𝑯⁻¹g
	pu []float64 // unconstrained Cauchy step -g·‖g‖²/(gᵀHg)
	df []float64 // p_gn - pᵤ scratch for the boundary crossing

	gnNorm, puNorm   float64
	gBg              float64
	positiveDefinite bool

	predicted, length float64
}

func (u *doglegUpdate) initialize(n int) {
	if len(u.gn) != n {
		u.gn = make([]float64, n)
		u.pu = make([]float64, n)
		u.df = make([]float64, n)
	}
}

func (u *doglegUpdate) initializeUpdate() error {
	b := u.base

	if !b.hess.InitializeSolver() {
		return fmt.Errorf("%w: could not factorize hessian", ErrSolverFailed)
	}

	u.gBg = b.hess.InnerVector(b.gradient)
	if isUncountable(u.gBg) {
		return fmt.Errorf("%w: gᵀHg = %v", ErrUncountable, u.gBg)
	}

	solved := b.hess.Solve(b.gradient, u.gn)
	if solved {
		floats.Scale(-1, u.gn)
		u.gnNorm = floats.Norm(u.gn, 2)
	}
	u.positiveDefinite = solved && u.gBg > 0

	if u.positiveDefinite {
		k := b.gradientNorm * b.gradientNorm / u.gBg
		for i, g := range b.gradient {
			u.pu[i] = -k * g
		}
		u.puNorm = k * b.gradientNorm
	}
	return nil
}

func (u *doglegUpdate) computeUpdate(p []float64, radius float64) {
	b := u.base
	if !u.positiveDefinite {
		// steepest descent truncated at the boundary
		k := radius / b.gradientNorm
		for i, g := range b.gradient {
			p[i] = -k * g
		}
		u.length = radius
		u.predicted = radius*b.gradientNorm - 0.5*k*k*u.gBg
		return
	}

	switch {
	case u.gnNorm <= radius:
		// the full Gauss-Newton step is inside the region
		copy(p, u.gn)
		u.length = u.gnNorm
		// 𝑯p_gn = -g gives -gᵀp - ½pᵀ𝑯p = -½gᵀp_gn
		u.predicted = -0.5 * floats.Dot(b.gradient, u.gn)

	case u.puNorm >= radius:
		// even the Cauchy point lies outside: truncate it
		gnorm := b.gradientNorm
		c := u.gBg / (gnorm * gnorm)
		k := radius / gnorm
		for i, g := range b.gradient {
			p[i] = -k * g
		}
		u.length = radius
		u.predicted = radius * (gnorm - 0.5*radius*c)

	default:
		// crossing point of the second segment with the boundary:
		// ‖pᵤ + (τ-1)(p_gn - pᵤ)‖ = Δ for τ ∈ [1,2]
		floats.SubTo(u.df, u.gn, u.pu)
		a := floats.Dot(u.df, u.df)
		bb := 2 * floats.Dot(u.pu, u.df)
		c := floats.Dot(u.pu, u.pu) - radius*radius
		t := (-bb + math.Sqrt(bb*bb-4*a*c)) / (2 * a)
		for i, v := range u.pu {
			p[i] = v + t*u.df[i]
		}
		u.length = radius
		u.predicted = -floats.Dot(b.gradient, p) - 0.5*b.hess.InnerVector(p)
	}
}

func (u *doglegUpdate) predictedReduction() float64 { return u.predicted }

func (u *doglegUpdate) stepLength() float64 { return u.length }
