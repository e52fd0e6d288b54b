// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trustregion

import (
	"errors"
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/trustregion/hessian"
)

// Function is a user-supplied residual model. The engine drives it through
// a set-then-query protocol: SetInput fixes the parameter state, then
// Residuals and the Jacobian are queried for that state. Implementations
// must not mutate shared state from the query calls.
type Function interface {
	// NumInputs returns the number of parameters N.
	NumInputs() int
	// NumOutputs returns the number of residuals M.
	NumOutputs() int
	// SetInput fixes the parameter state for subsequent queries.
	// The slice is owned by the engine; copy it when retaining.
	SetInput(x []float64)
	// Residuals writes the M residuals at the current state into r.
	Residuals(r []float64)
}

// DenseJacobian is a residual model with a coupled dense Jacobian.
type DenseJacobian interface {
	Function
	// Jacobian writes the M×N Jacobian at the current state.
	Jacobian(jac *mat.Dense)
}

// SchurJacobian is a residual model whose Jacobian splits into a left
// M×L and right M×R piece, producing the bordered Hessian form solved by
// the Schur complement.
type SchurJacobian interface {
	Function
	// NumLeft returns L, the split point of the parameter vector.
	NumLeft() int
	// Jacobian writes the two Jacobian pieces at the current state.
	Jacobian(left, right *sparse.DOK)
}

// LeastSquaresProblem specifies a nonlinear least-squares problem
//
//	𝚖𝚒𝚗ₓ f(x) = ½‖r(x)‖²
//
// for the trust-region optimizer.
type LeastSquaresProblem struct {
	// Function must also implement DenseJacobian or SchurJacobian.
	Function Function
	// Method selects the update strategy.
	Method Method
	// Config holds the driver tuning. The zero value selects DefaultConfig.
	Config Config
}

// LeastSquares minimizes ½‖r(x)‖² with a trust-region search.
type LeastSquares struct {
	driverBase

	fn    Function
	dense DenseJacobian
	schur SchurJacobian

	residuals []float64

	jac       *mat.Dense
	hessDense *hessian.Dense
	hessSchur *hessian.Schur
}

// New validates the problem and creates an optimizer for it.
func (p *LeastSquaresProblem) New() (*LeastSquares, error) {

	fn := p.Function
	if fn == nil {
		return nil, errors.New("residual function is required")
	}

	n, m := fn.NumInputs(), fn.NumOutputs()
	switch {
	case n <= 0:
		return nil, errors.New("problem dimension must greater than 0")
	case m <= 0:
		return nil, errors.New("residual dimension must greater than 0")
	}

	cfg := p.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}

	s := &LeastSquares{fn: fn}
	s.n = n
	s.ops = s
	s.residuals = make([]float64, m)

	switch fn := fn.(type) {
	case SchurJacobian:
		if l := fn.NumLeft(); l <= 0 || l >= n {
			return nil, errors.New("jacobian split must lie strictly inside the parameter vector")
		}
		s.schur = fn
		s.hessSchur = hessian.NewSchur()
		s.hess = s.hessSchur
	case DenseJacobian:
		s.dense = fn
		s.jac = mat.NewDense(m, n, nil)
		s.hessDense = hessian.NewDense(n)
		s.hess = s.hessDense
	default:
		return nil, errors.New("function must provide a dense or schur jacobian")
	}

	if err := s.configure(cfg); err != nil {
		return nil, err
	}
	update, err := newUpdate(p.Method, &s.driverBase)
	if err != nil {
		return nil, err
	}
	s.update = update
	return s, nil
}

// Hessian exposes the Hessian representation owned by the optimizer.
func (s *LeastSquares) Hessian() hessian.Matrix { return s.hess }

func (s *LeastSquares) cost(x []float64) float64 {
	s.fn.SetInput(x)
	s.fn.Residuals(s.residuals)
	sum := 0.0
	for _, r := range s.residuals {
		sum += r * r
	}
	return 0.5 * sum
}

func (s *LeastSquares) gradientHessian(x []float64, sameStateAsCost bool, g []float64) {
	if !sameStateAsCost {
		s.fn.SetInput(x)
		s.fn.Residuals(s.residuals)
	}
	if s.schur != nil {
		m := s.fn.NumOutputs()
		nl := s.schur.NumLeft()
		left := sparse.NewDOK(m, nl)
		right := sparse.NewDOK(m, s.n-nl)
		s.schur.Jacobian(left, right)
		jl, jr := left.ToCSC(), right.ToCSC()
		s.hessSchur.Compute(jl, jr)
		s.hessSchur.Gradient(jl, jr, s.residuals, g)
	} else {
		s.dense.Jacobian(s.jac)
		s.hessDense.Compute(s.jac)
		s.hessDense.Gradient(s.jac, s.residuals, g)
	}
}

// ftestConverged stops once an accepted step reduces the cost by less than
// the relative tolerance.
func (s *LeastSquares) ftestConverged(fxCandidate, fxPrev float64) bool {
	return fxPrev-fxCandidate <= s.cfg.FTol*math.Max(fxPrev, math.Abs(fxCandidate))
}
