// Package numdiff supplies numerical Jacobians for residual models that
// provide no analytic one.
//
// Column j of the Jacobian is approximated with the first order accuracy
// forward difference
//
//	Jⱼ = (r(x + hⱼeⱼ) - r(x)) / hⱼ,  hⱼ = √𝚎𝚙𝚜 · 𝚖𝚊𝚡(1, |xⱼ|)
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
package numdiff

import (
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/trustregion"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)

// forward owns the scratch shared by both wrappers. It tracks the state
// set through SetInput so the Jacobian can perturb around it.
type forward struct {
	fn     trustregion.Function
	x      []float64
	r0, rx []float64
}

func newForward(fn trustregion.Function) forward {
	return forward{
		fn: fn,
		x:  make([]float64, fn.NumInputs()),
		r0: make([]float64, fn.NumOutputs()),
		rx: make([]float64, fn.NumOutputs()),
	}
}

func (f *forward) NumInputs() int  { return f.fn.NumInputs() }
func (f *forward) NumOutputs() int { return f.fn.NumOutputs() }

func (f *forward) SetInput(x []float64) {
	copy(f.x, x)
	f.fn.SetInput(f.x)
}

func (f *forward) Residuals(r []float64) { f.fn.Residuals(r) }

// column evaluates the forward difference of column j into rx and returns
// the inverse step. The input state is restored afterwards.
func (f *forward) column(j int) (inv float64) {
	h := sqrtEps * math.Max(1, math.Abs(f.x[j]))
	xj := f.x[j]
	f.x[j] = xj + h
	f.fn.SetInput(f.x)
	f.fn.Residuals(f.rx)
	f.x[j] = xj
	return 1 / h
}

type denseJacobian struct{ forward }

// WrapDense adapts a plain residual model into one with a forward
// difference dense Jacobian.
func WrapDense(fn trustregion.Function) trustregion.DenseJacobian {
	return &denseJacobian{newForward(fn)}
}

func (f *denseJacobian) Jacobian(jac *mat.Dense) {
	n, m := f.NumInputs(), f.NumOutputs()
	f.fn.Residuals(f.r0)
	for j := 0; j < n; j++ {
		inv := f.column(j)
		for i := 0; i < m; i++ {
			jac.Set(i, j, (f.rx[i]-f.r0[i])*inv)
		}
	}
	f.fn.SetInput(f.x)
}

type schurJacobian struct {
	forward
	numLeft int
}

// WrapSchur adapts a plain residual model into one with a forward
// difference Jacobian split at column numLeft. Zero differences produce
// no stored entries, so sparsity of the underlying model is preserved.
func WrapSchur(fn trustregion.Function, numLeft int) trustregion.SchurJacobian {
	return &schurJacobian{newForward(fn), numLeft}
}

func (f *schurJacobian) NumLeft() int { return f.numLeft }

func (f *schurJacobian) Jacobian(left, right *sparse.DOK) {
	n, m := f.NumInputs(), f.NumOutputs()
	f.fn.Residuals(f.r0)
	for j := 0; j < n; j++ {
		inv := f.column(j)
		for i := 0; i < m; i++ {
			if d := (f.rx[i] - f.r0[i]) * inv; d != 0 {
				if j < f.numLeft {
					left.Set(i, j, d)
				} else {
					right.Set(i, j-f.numLeft, d)
				}
			}
		}
	}
	f.fn.SetInput(f.x)
}
