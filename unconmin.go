// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trustregion

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/trustregion/hessian"
)

// CostFunc evaluates the objective at x.
type CostFunc func(x []float64) float64

// GradHessFunc fills the gradient and the symmetric Hessian at x.
// When sameStateAsCost is true, x equals the argument of the most recent
// CostFunc call and values cached there may be reused.
type GradHessFunc func(x []float64, sameStateAsCost bool, g []float64, h *mat.SymDense)

// UnconMinProblem specifies a general unconstrained minimization problem
// with a user-supplied gradient and Hessian.
type UnconMinProblem struct {
	N        int // The problem dimension
	Cost     CostFunc
	GradHess GradHessFunc
	Method   Method
	// Config holds the driver tuning. The zero value selects DefaultConfig.
	Config Config
}

// UnconMin minimizes a twice-differentiable function with a trust-region
// search over a dense Hessian.
type UnconMin struct {
	driverBase

	costFn CostFunc
	ghFn   GradHessFunc
	hd     *hessian.Dense
}

// New validates the problem and creates an optimizer for it.
func (p *UnconMinProblem) New() (*UnconMin, error) {
	switch {
	case p.N <= 0:
		return nil, errors.New("problem dimension must greater than 0")
	case p.Cost == nil:
		return nil, errors.New("cost function is required")
	case p.GradHess == nil:
		return nil, errors.New("gradient hessian function is required")
	}

	cfg := p.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}

	s := &UnconMin{costFn: p.Cost, ghFn: p.GradHess}
	s.n = p.N
	s.ops = s
	s.hd = hessian.NewDense(p.N)
	s.hess = s.hd

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

func (s *UnconMin) cost(x []float64) float64 { return s.costFn(x) }

func (s *UnconMin) gradientHessian(x []float64, sameStateAsCost bool, g []float64) {
	s.ghFn(x, sameStateAsCost, g, s.hd.Sym())
}

// ftestConverged stops once the cost change of an accepted step is within
// the relative tolerance.
func (s *UnconMin) ftestConverged(fxCandidate, fxPrev float64) bool {
	change := math.Max(math.Abs(fxPrev), math.Abs(fxCandidate))
	return math.Abs(fxPrev-fxCandidate) <= s.cfg.FTol*change
}
