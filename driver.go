// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trustregion implements nonlinear least-squares and unconstrained
// minimization with the trust-region family of methods.
//
// The driver assumes a quadratic model of the cost is valid within a region
// of radius Δ around the current iterate. Each iteration solves the region
// subproblem with one of two update strategies (Cauchy point or Dogleg),
// evaluates the candidate, and grows or shrinks Δ depending on how well the
// model predicted the actual reduction.
//
//   - Jorge Nocedal and Stephen J. Wright, "Numerical Optimization" 2nd Ed.
//     Springer 2006
//   - K. Madsen, H.B. Nielsen and O. Tingleff, "Methods for Non-Linear Least
//     Squares Problems (2nd ed.)" IMM, Technical University of Denmark
package trustregion

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"

	"github.com/curioloop/trustregion/hessian"
)

// Method selects the strategy used to solve the trust-region subproblem.
type Method int

const (
	// MethodCauchy steps along the steepest-descent direction to the
	// minimizer of the quadratic model inside the region.
	MethodCauchy Method = iota
	// MethodDogleg follows the two-segment path from the Cauchy point to
	// the Gauss-Newton point.
	MethodDogleg
)

var (
	// ErrUncountable reports a NaN or infinite value where the algorithm
	// cannot recover, e.g. a non-finite gradient norm.
	ErrUncountable = errors.New("uncountable value")
	// ErrSolverFailed reports a failed factorization of the Hessian system.
	ErrSolverFailed = errors.New("hessian solver failed")
)

type mode int

const (
	modeFullStep mode = iota
	modeRetry
	modeConverged
)

// parameterUpdate computes the step p for a given region radius.
// Both strategies are stateless aside from per-iteration scratch.
type parameterUpdate interface {
	// initialize reshapes scratch buffers for n parameters.
	initialize(n int)
	// initializeUpdate performs the expensive per-iteration work: it runs
	// once per accepted state, before any number of computeUpdate calls.
	initializeUpdate() error
	// computeUpdate writes the step into p. The step, its predicted
	// reduction and its length are valid until the next call.
	computeUpdate(p []float64, radius float64)
	predictedReduction() float64
	stepLength() float64
}

// problemOps is the hook surface a concrete minimizer provides to the
// shared driver.
type problemOps interface {
	// cost evaluates the objective at x.
	cost(x []float64) float64
	// gradientHessian fills g and recomputes the Hessian at x. When
	// sameStateAsCost is true the callback state still corresponds to the
	// most recent cost call at x and cached values may be reused.
	gradientHessian(x []float64, sameStateAsCost bool, g []float64)
	// ftestConverged applies the problem-specific f-test to an accepted step.
	ftestConverged(fxCandidate, fxPrev float64) bool
}

// driverBase is the state machine shared by the least-squares and general
// minimization fronts. One optimization run owns its driver, Hessian,
// solvers and buffers exclusively; Iterate is the only suspension point.
type driverBase struct {
	cfg    Config
	ops    problemOps
	update parameterUpdate
	hess   hessian.Matrix
	logger Logger

	n int

	x, xNext, p  []float64
	gradient     []float64
	gradientNorm float64
	scaling      []float64

	fx        float64
	minimumFx float64
	// Whether the callback state for the Hessian still matches the x of the
	// most recent cost evaluation.
	sameStateAsCost bool

	radius float64
	region regionMode

	mode                         mode
	totalFullSteps, totalRetries int
}

func (d *driverBase) configure(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	d.cfg = cfg
	return nil
}

// Initialize sets the initial parameter state and evaluates the starting
// cost. minimumFx is the lowest value the cost function can output; a
// starting point at or below it converges immediately.
func (d *driverBase) Initialize(x0 []float64, minimumFx float64) error {
	if len(x0) != d.n {
		return errors.New("initial x dimension not match problem")
	}

	if len(d.x) != d.n {
		d.x = make([]float64, d.n)
		d.xNext = make([]float64, d.n)
		d.p = make([]float64, d.n)
		d.gradient = make([]float64, d.n)
		d.scaling = make([]float64, d.n)
	}
	copy(d.x, x0)
	for i := range d.scaling {
		d.scaling[i] = 1
	}

	d.update.initialize(d.n)

	d.minimumFx = minimumFx
	d.fx = d.ops.cost(d.x)
	d.sameStateAsCost = true

	d.totalFullSteps = 0
	d.totalRetries = 0

	d.radius = d.cfg.RegionInitial
	d.region, _ = d.cfg.resolve()

	// a perfect initial guess is a pathological case, handled here
	if d.fx <= minimumFx {
		d.mode = modeConverged
	} else {
		d.mode = modeFullStep
	}
	return nil
}

// Iterate performs one transition of the state machine. It reports true
// once the search has converged; further calls are no-ops. A returned
// error aborts the run.
func (d *driverBase) Iterate() (converged bool, err error) {
	switch d.mode {
	case modeFullStep:
		d.totalFullSteps++
		converged, err = d.updateState()
		if err == nil && !converged {
			converged, err = d.computeAndConsiderNew()
		}
	case modeRetry:
		d.totalRetries++
		converged, err = d.computeAndConsiderNew()
	case modeConverged:
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if converged {
		d.mode = modeConverged
	}
	return converged, nil
}

// Minimize runs Iterate until convergence or the iteration cap. There is
// no internal timeout: a stuck run only stops through the cap.
func (d *driverBase) Minimize(maxIterations int) (converged bool, err error) {
	for i := 0; i < maxIterations && !converged; i++ {
		if converged, err = d.Iterate(); err != nil {
			return false, err
		}
	}
	return converged, nil
}

// updateState recomputes the derived structures at the current x and
// prepares the update strategy.
func (d *driverBase) updateState() (converged bool, err error) {
	d.ops.gradientHessian(d.x, d.sameStateAsCost, d.gradient)

	if d.cfg.scalingActive() {
		d.computeScaling()
		d.applyScaling()
	}

	// Convergence is tested on scaled variables to remove their arbitrary
	// natural scale from influencing it.
	if floats.Norm(d.gradient, math.Inf(1)) <= d.cfg.GTol {
		return true, nil
	}

	d.gradientNorm = floats.Norm(d.gradient, 2)
	if isUncountable(d.gradientNorm) {
		return false, fmt.Errorf("%w: gradient norm %v", ErrUncountable, d.gradientNorm)
	}

	return false, d.update.initializeUpdate()
}

// computeScaling sets the scaling vector to clamp(√|Hᵢᵢ|, min, max).
func (d *driverBase) computeScaling() {
	d.hess.ExtractDiagonals(d.scaling)
	for i, v := range d.scaling {
		// mathematically never negative, but the abs costs nothing
		s := math.Sqrt(math.Abs(v))
		d.scaling[i] = math.Min(d.cfg.ScalingMax, math.Max(d.cfg.ScalingMin, s))
	}
}

func (d *driverBase) applyScaling() {
	for i, s := range d.scaling {
		d.gradient[i] /= s
	}
	d.hess.DivideRowsCols(d.scaling)
}

// undoScalingOnParameters maps a step from the scaled space back onto the
// natural parameters.
func (d *driverBase) undoScalingOnParameters(p []float64) {
	for i, s := range d.scaling {
		p[i] /= s
	}
}

// computeAndConsiderNew solves the subproblem for the current radius,
// evaluates the candidate and decides between accepting it and retrying
// with a smaller region.
func (d *driverBase) computeAndConsiderNew() (converged bool, err error) {
	computed := false
	if d.region == regionUnconstrained {
		// solve without a region bound; the step length becomes Δ₀
		d.update.computeUpdate(d.p, math.MaxFloat64)
		if r := d.update.stepLength(); r == math.MaxFloat64 || isUncountable(r) {
			if d.logger.enable(LogLast) {
				d.logger.log("unconstrained initialization failed. Using Cauchy initialization instead.\n")
			}
			d.region = regionCauchy
		} else {
			d.radius = r
			d.region = regionExplicit
			computed = true
			if d.logger.enable(LogLast) {
				d.logger.log("unconstrained initialization radius=%.5e\n", d.radius)
			}
		}
	}
	if d.region == regionCauchy {
		d.radius = d.solveCauchyStepLength() * 10
		d.region = regionExplicit
		d.update.computeUpdate(d.p, d.radius)
		computed = true
		if d.logger.enable(LogLast) {
			d.logger.log("cauchy initialization radius=%.5e\n", d.radius)
		}
	}
	if !computed {
		d.update.computeUpdate(d.p, d.radius)
	}

	// A solver success with non-finite step entries means the radius is
	// larger than numerically reasonable for the current conditioning:
	// reject and shrink rather than abort.
	if !finiteStep(d.p) {
		d.radius *= 0.5
		d.mode = modeRetry
		return false, nil
	}

	// The step length was computed in the scaled metric, which is what the
	// ratio test wants. The parameters live in the natural one.
	if d.cfg.scalingActive() {
		d.undoScalingOnParameters(d.p)
	}
	for i, x := range d.x {
		d.xNext[i] = x + d.p[i]
	}
	fxCandidate := d.ops.cost(d.xNext)
	d.sameStateAsCost = true

	if isUncountable(fxCandidate) {
		d.radius *= 0.5
		d.mode = modeRetry
		return false, nil
	}

	accept := d.considerCandidate(fxCandidate, d.fx,
		d.update.predictedReduction(), d.update.stepLength())

	if !accept {
		d.mode = modeRetry
		return false, nil
	}

	converged = d.ops.ftestConverged(fxCandidate, d.fx) || fxCandidate <= d.minimumFx
	d.acceptNewState(fxCandidate)
	return converged, nil
}

func (d *driverBase) acceptNewState(fxCandidate float64) {
	d.fx = fxCandidate
	d.x, d.xNext = d.xNext, d.x
	d.mode = modeFullStep
}

// solveCauchyStepLength returns the unconstrained Cauchy step length
// ‖g‖²/(gᵀHg).
func (d *driverBase) solveCauchyStepLength() float64 {
	gBg := d.hess.InnerVector(d.gradient)
	return d.gradientNorm * d.gradientNorm / gBg
}

// considerCandidate runs the ratio test and adapts the region radius.
// A zero actual or predicted reduction is accepted as is; otherwise a
// candidate is never accepted when the cost increased. The region grows
// only when the model over-predicted the reduction and the step actually
// hit the boundary, which prevents runaway growth on interior steps.
func (d *driverBase) considerCandidate(fxCandidate, fxPrev, predicted, stepLength float64) bool {

	actual := fxPrev - fxCandidate

	// degenerate but not harmful; avoids a division by zero
	if actual == 0 || predicted == 0 {
		if d.logger.enable(LogIter) {
			d.logger.log("%d reduction of zero\n", d.totalFullSteps)
		}
		return true
	}

	ratio := actual / predicted

	if fxCandidate > fxPrev || ratio < 0.25 {
		d.radius = 0.5 * d.radius
	} else if ratio > 0.75 {
		d.radius = math.Min(math.Max(3*stepLength, d.radius), d.cfg.RegionMaximum)
	}

	if d.logger.enable(LogIter) {
		d.logger.log("%d fx_candidate=%.6e ratio=%.4f region=%.5e\n",
			d.totalFullSteps, fxCandidate, ratio, d.radius)
	}

	return fxCandidate < fxPrev && ratio > 0
}

// SetVerbose toggles the one-line-per-iteration trace on the logger.
func (d *driverBase) SetVerbose(verbose bool) {
	if verbose {
		d.logger.Level = LogIter
		if d.logger.Msg == nil {
			d.logger.Msg = os.Stdout
		}
	} else {
		d.logger.Level = LogNoop
	}
}

// SetLogger replaces the driver logger.
func (d *driverBase) SetLogger(logger Logger) { d.logger = logger }

// X returns the current parameter state. The slice is owned by the driver
// and mutated on every accepted step.
func (d *driverBase) X() []float64 { return d.x }

// Fx returns the cost at the current parameter state.
func (d *driverBase) Fx() float64 { return d.fx }

// TotalFullSteps counts iterations that recomputed gradient and Hessian.
func (d *driverBase) TotalFullSteps() int { return d.totalFullSteps }

// TotalRetries counts iterations that re-solved the subproblem after a
// rejected step.
func (d *driverBase) TotalRetries() int { return d.totalRetries }

func newUpdate(method Method, base *driverBase) (parameterUpdate, error) {
	switch method {
	case MethodCauchy:
		return &cauchyUpdate{base: base}, nil
	case MethodDogleg:
		return &doglegUpdate{base: base}, nil
	}
	return nil, errors.New("unknown parameter update method")
}

func isUncountable(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

func finiteStep(p []float64) bool {
	for _, v := range p {
		if isUncountable(v) {
			return false
		}
	}
	return true
}
