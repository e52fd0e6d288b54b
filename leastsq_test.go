// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trustregion

import (
	"math"
	"reflect"
	"testing"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// lsModel is a residual function with an analytic dense Jacobian.
type lsModel struct {
	n, m int
	x    []float64
	res  func(x, r []float64)
	jac  func(x []float64, j *mat.Dense)
}

func (f *lsModel) NumInputs() int        { return f.n }
func (f *lsModel) NumOutputs() int       { return f.m }
func (f *lsModel) SetInput(x []float64)  { copy(f.x, x) }
func (f *lsModel) Residuals(r []float64) { f.res(f.x, r) }
func (f *lsModel) Jacobian(j *mat.Dense) { f.jac(f.x, j) }

func linearResidual() *lsModel {
	return &lsModel{n: 2, m: 2, x: make([]float64, 2),
		res: func(x, r []float64) {
			r[0] = x[0] - 2
			r[1] = x[1] - 0.1
		},
		jac: func(x []float64, j *mat.Dense) {
			j.Set(0, 0, 1)
			j.Set(0, 1, 0)
			j.Set(1, 0, 0)
			j.Set(1, 1, 1)
		}}
}

// distanceFromMean fits the mean of a fixed point set with a single
// parameter model.
func distanceFromMean() *lsModel {
	data := []float64{1, 2, 3, 4, 5}
	return &lsModel{n: 1, m: len(data), x: make([]float64, 1),
		res: func(x, r []float64) {
			for i, d := range data {
				r[i] = x[0] - d
			}
		},
		jac: func(x []float64, j *mat.Dense) {
			for i := range data {
				j.Set(i, 0, 1)
			}
		}}
}

func helicalValley() *lsModel {
	return &lsModel{n: 3, m: 3, x: make([]float64, 3),
		res: func(x, r []float64) {
			theta := math.Atan2(x[1], x[0]) / (2 * math.Pi)
			r[0] = 10 * (x[2] - 10*theta)
			r[1] = 10 * (math.Hypot(x[0], x[1]) - 1)
			r[2] = x[2]
		},
		jac: func(x []float64, j *mat.Dense) {
			rho2 := x[0]*x[0] + x[1]*x[1]
			rho := math.Sqrt(rho2)
			j.Set(0, 0, 100*x[1]/(2*math.Pi*rho2))
			j.Set(0, 1, -100*x[0]/(2*math.Pi*rho2))
			j.Set(0, 2, 10)
			j.Set(1, 0, 10*x[0]/rho)
			j.Set(1, 1, 10*x[1]/rho)
			j.Set(1, 2, 0)
			j.Set(2, 0, 0)
			j.Set(2, 1, 0)
			j.Set(2, 2, 1)
		}}
}

func powellSingular() *lsModel {
	return &lsModel{n: 4, m: 4, x: make([]float64, 4),
		res: func(x, r []float64) {
			r[0] = x[0] + 10*x[1]
			r[1] = math.Sqrt(5) * (x[2] - x[3])
			r[2] = (x[1] - 2*x[2]) * (x[1] - 2*x[2])
			r[3] = math.Sqrt(10) * (x[0] - x[3]) * (x[0] - x[3])
		},
		jac: func(x []float64, j *mat.Dense) {
			j.Zero()
			j.Set(0, 0, 1)
			j.Set(0, 1, 10)
			j.Set(1, 2, math.Sqrt(5))
			j.Set(1, 3, -math.Sqrt(5))
			j.Set(2, 1, 2*(x[1]-2*x[2]))
			j.Set(2, 2, -4*(x[1]-2*x[2]))
			j.Set(3, 0, 2*math.Sqrt(10)*(x[0]-x[3]))
			j.Set(3, 3, -2*math.Sqrt(10)*(x[0]-x[3]))
		}}
}

func rosenbrockResidual() *lsModel {
	return &lsModel{n: 2, m: 2, x: make([]float64, 2),
		res: func(x, r []float64) {
			r[0] = 10 * (x[1] - x[0]*x[0])
			r[1] = 1 - x[0]
		},
		jac: func(x []float64, j *mat.Dense) {
			j.Set(0, 0, -20*x[0])
			j.Set(0, 1, 10)
			j.Set(1, 0, -1)
			j.Set(1, 1, 0)
		}}
}

func badlyScaledResidual() *lsModel {
	return &lsModel{n: 2, m: 2, x: make([]float64, 2),
		res: func(x, r []float64) {
			r[0] = 1e4*x[0] - 2
			r[1] = 1e-3*x[1] - 3
		},
		jac: func(x []float64, j *mat.Dense) {
			j.Set(0, 0, 1e4)
			j.Set(0, 1, 0)
			j.Set(1, 0, 0)
			j.Set(1, 1, 1e-3)
		}}
}

// runLeastSquares drives the optimizer until convergence or the cap and
// verifies the iteration accounting along the way.
func runLeastSquares(t *testing.T, name string, opt *LeastSquares, x0 []float64, maxIter int) {
	t.Helper()

	if err := opt.Initialize(x0, 0); err != nil {
		t.Fatal(err)
	}

	calls, converged := 0, false
	fxPrev := opt.Fx()
	for ; calls < maxIter && !converged; calls++ {
		var err error
		if converged, err = opt.Iterate(); err != nil {
			t.Fatalf("%s: Iterate Failed: %v", name, err)
		}
		// the cost never increases, and only moves on an accepted step
		if fx := opt.Fx(); fx > fxPrev {
			t.Fatalf("%s: Cost Increased %v -> %v", name, fxPrev, fx)
		} else {
			fxPrev = fx
		}
	}

	switch {
	case !converged:
		t.Fatalf("%s: Not Converge", name)
	case opt.TotalFullSteps()+opt.TotalRetries() != calls:
		t.Fatalf("%s: Step Accounting %d + %d != %d",
			name, opt.TotalFullSteps(), opt.TotalRetries(), calls)
	}
}

func TestLeastSquaresScenarios(t *testing.T) {

	small := DefaultConfig()
	small.GTol, small.FTol = 1e-6, 1e-6

	tight := DefaultConfig()
	tight.GTol = 1e-8

	tests := []struct {
		name    string
		fn      *lsModel
		methods []Method
		cfg     Config
		x0      []float64
		want    []float64
		tol     float64
		fitMax  float64
		maxIter int
	}{
		{"linear", linearResidual(), []Method{MethodCauchy, MethodDogleg},
			small, []float64{1, 0.5}, []float64{2, 0.1}, 1e-4, 1e-6, 200},
		{"mean", distanceFromMean(), []Method{MethodCauchy, MethodDogleg},
			small, []float64{0}, []float64{3}, 1e-6, math.MaxFloat64, 50},
		{"helical", helicalValley(), []Method{MethodDogleg},
			tight, []float64{-1, 0, 0}, []float64{1, 0, 0}, 1e-4, 1e-20, 100},
		{"powell", powellSingular(), []Method{MethodDogleg},
			tight, []float64{3, -1, 0, 1}, []float64{0, 0, 0, 0}, 1e-2, 1e-10, 200},
		{"rosenbrock", rosenbrockResidual(), []Method{MethodDogleg},
			tight, []float64{-1.2, 1}, []float64{1, 1}, 1e-6, 1e-12, 200},
	}

	for _, tt := range tests {
		for _, method := range tt.methods {
			opt, err := (&LeastSquaresProblem{
				Function: tt.fn,
				Method:   method,
				Config:   tt.cfg,
			}).New()
			if err != nil {
				t.Fatal(err)
			}

			runLeastSquares(t, tt.name, opt, tt.x0, tt.maxIter)

			switch {
			case !almostEqual(opt.X(), tt.want, tt.tol):
				t.Fatalf("%s: x = %v", tt.name, opt.X())
			case opt.Fx() > tt.fitMax:
				t.Fatalf("%s: Fit Too Large %e", tt.name, opt.Fx())
			}
		}
	}
}

func TestLeastSquaresScaling(t *testing.T) {

	cfg := DefaultConfig()
	cfg.ScalingMin, cfg.ScalingMax = 1e-4, 1e4

	opt, err := (&LeastSquaresProblem{
		Function: badlyScaledResidual(),
		Method:   MethodDogleg,
		Config:   cfg,
	}).New()
	if err != nil {
		t.Fatal(err)
	}

	runLeastSquares(t, "badscale", opt, []float64{0, 0}, 100)

	x := opt.X()
	if !almostEqual(x[0], 2e-4, 1e-8) || !almostEqual(x[1], 3000, 1e-2) {
		t.Fatalf("TestLeastSquaresScaling: x = %v", x)
	}
}

func TestLeastSquaresRegionInitModes(t *testing.T) {

	for _, initial := range []float64{1.0, RegionInitUnconstrained, RegionInitCauchy} {
		cfg := DefaultConfig()
		cfg.RegionInitial = initial
		cfg.GTol, cfg.FTol = 1e-6, 1e-6

		opt, err := (&LeastSquaresProblem{
			Function: rosenbrockResidual(),
			Method:   MethodDogleg,
			Config:   cfg,
		}).New()
		if err != nil {
			t.Fatal(err)
		}

		runLeastSquares(t, "init mode", opt, []float64{-1.2, 1}, 200)
		if !almostEqual(opt.X(), []float64{1, 1}, 1e-4) {
			t.Fatalf("TestLeastSquaresRegionInitModes: initial %v x = %v", initial, opt.X())
		}
	}
}

// blockModel is a small separable fitting problem whose Jacobian splits
// into a left piece over the a parameters and a right piece over the b
// parameters, producing the bordered Hessian solved by Schur complement.
//
//	r_{ij} = a_i·c_{ij} + b_j + 0.05·a_i·b_j - y_{ij}
type blockModel struct {
	x []float64
	y []float64
}

const (
	blockLeft  = 4
	blockRight = 2
)

func blockCoeff(i, j int) float64 {
	return 1 + 0.3*float64(i) + 0.5*float64(j)
}

func newBlockModel() *blockModel {
	truth := []float64{1, 2, -1, 0.5, 0.3, -0.7}
	f := &blockModel{x: make([]float64, blockLeft+blockRight)}
	f.y = make([]float64, blockLeft*blockRight)
	r := make([]float64, len(f.y))
	f.SetInput(truth)
	f.Residuals(r)
	for k, v := range r {
		f.y[k] = v
	}
	return f
}

func (f *blockModel) NumInputs() int  { return blockLeft + blockRight }
func (f *blockModel) NumOutputs() int { return blockLeft * blockRight }
func (f *blockModel) NumLeft() int    { return blockLeft }

func (f *blockModel) SetInput(x []float64) { copy(f.x, x) }

func (f *blockModel) Residuals(r []float64) {
	a, b := f.x[:blockLeft], f.x[blockLeft:]
	for i := 0; i < blockLeft; i++ {
		for j := 0; j < blockRight; j++ {
			k := i*blockRight + j
			r[k] = a[i]*blockCoeff(i, j) + b[j] + 0.05*a[i]*b[j] - f.y[k]
		}
	}
}

func (f *blockModel) Jacobian(left, right *sparse.DOK) {
	a, b := f.x[:blockLeft], f.x[blockLeft:]
	for i := 0; i < blockLeft; i++ {
		for j := 0; j < blockRight; j++ {
			k := i*blockRight + j
			left.Set(k, i, blockCoeff(i, j)+0.05*b[j])
			right.Set(k, j, 1+0.05*a[i])
		}
	}
}

func TestLeastSquaresSchur(t *testing.T) {

	fn := newBlockModel()

	cfg := DefaultConfig()
	cfg.GTol = 1e-10

	opt, err := (&LeastSquaresProblem{
		Function: fn,
		Method:   MethodDogleg,
		Config:   cfg,
	}).New()
	if err != nil {
		t.Fatal(err)
	}

	x0 := []float64{1.1, 1.9, -0.9, 0.6, 0.2, -0.6}
	runLeastSquares(t, "schur", opt, x0, 100)

	want := []float64{1, 2, -1, 0.5, 0.3, -0.7}
	switch {
	case !almostEqual(opt.X(), want, 1e-6):
		t.Fatalf("TestLeastSquaresSchur: x = %v", opt.X())
	// a nonlinear model must take several full steps through the block
	// solver to catch structure regressions across iterations
	case opt.TotalFullSteps() < 2:
		t.Fatalf("TestLeastSquaresSchur: Too Few Full Steps %d", opt.TotalFullSteps())
	}
}

func TestLeastSquaresSchurCauchy(t *testing.T) {

	fn := newBlockModel()

	cfg := DefaultConfig()
	cfg.GTol = 1e-6

	opt, err := (&LeastSquaresProblem{
		Function: fn,
		Method:   MethodCauchy,
		Config:   cfg,
	}).New()
	if err != nil {
		t.Fatal(err)
	}

	x0 := []float64{1.05, 1.95, -0.95, 0.55, 0.25, -0.65}
	runLeastSquares(t, "schur cauchy", opt, x0, 5000)

	want := []float64{1, 2, -1, 0.5, 0.3, -0.7}
	if !almostEqual(opt.X(), want, 1e-4) {
		t.Fatalf("TestLeastSquaresSchurCauchy: x = %v", opt.X())
	}
}

func almostEqual[T float64 | []float64](a, b T, tol float64) bool {
	equalWithinAbs := func(a, b float64) bool {
		return a == b || math.Abs(a-b) <= tol
	}
	switch reflect.TypeOf((*T)(nil)).Elem().Kind() {
	case reflect.Float64:
		return equalWithinAbs(any(a).(float64), any(b).(float64))
	case reflect.Slice:
		a, b := any(a).([]float64), any(b).([]float64)
		if len(a) != len(b) {
			return false
		}
		for i, a := range a {
			if !equalWithinAbs(a, b[i]) {
				return false
			}
		}
		return true
	default:
		panic("unknown type")
	}
}
