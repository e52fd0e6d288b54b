// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hessian

import (
	"gonum.org/v1/gonum/mat"
)

// Dense is the Hessian representation for small and medium problems.
// In least-squares mode it holds the Gauss-Newton approximation 𝑱ᵀ𝑱;
// for general minimization the caller fills the symmetric storage
// returned by Sym directly.
type Dense struct {
	n      int
	sym    *mat.SymDense
	jtj    *mat.Dense // scratch for the 𝑱ᵀ𝑱 product
	chol   mat.Cholesky
	posdef bool
}

// NewDense creates a dense Hessian for n parameters.
func NewDense(n int) *Dense {
	h := new(Dense)
	h.Reshape(n)
	return h
}

// Reshape resizes the Hessian for n parameters, reallocating only when the
// dimension changed.
func (h *Dense) Reshape(n int) {
	if h.n != n || h.sym == nil {
		h.n = n
		h.sym = mat.NewSymDense(n, nil)
		h.jtj = mat.NewDense(n, n, nil)
	}
}

// Sym exposes the symmetric storage. General-minimization callbacks write
// the user Hessian here.
func (h *Dense) Sym() *mat.SymDense { return h.sym }

// Compute forms the Gauss-Newton Hessian 𝑱ᵀ𝑱 from an M×N Jacobian.
func (h *Dense) Compute(jac *mat.Dense) {
	h.jtj.Mul(jac.T(), jac)
	for i := 0; i < h.n; i++ {
		for j := i; j < h.n; j++ {
			h.sym.SetSym(i, j, h.jtj.At(i, j))
		}
	}
}

// Gradient forms g = 𝑱ᵀr from an M×N Jacobian and the residual vector.
func (h *Dense) Gradient(jac *mat.Dense, residuals, g []float64) {
	m, n := jac.Dims()
	if n > len(g) || m > len(residuals) {
		panic("bound check error")
	}
	gv := mat.NewVecDense(n, g[:n])
	gv.MulVec(jac.T(), mat.NewVecDense(m, residuals[:m]))
}

func (h *Dense) Dim() int { return h.n }

func (h *Dense) ExtractDiagonals(d []float64) {
	if h.n > len(d) {
		panic("bound check error")
	}
	for i := 0; i < h.n; i++ {
		d[i] = h.sym.At(i, i)
	}
}

func (h *Dense) SetDiagonals(d []float64) {
	if h.n > len(d) {
		panic("bound check error")
	}
	for i := 0; i < h.n; i++ {
		h.sym.SetSym(i, i, d[i])
	}
}

func (h *Dense) DivideRowsCols(s []float64) {
	if h.n > len(s) {
		panic("bound check error")
	}
	for i := 0; i < h.n; i++ {
		for j := i; j < h.n; j++ {
			h.sym.SetSym(i, j, h.sym.At(i, j)/(s[i]*s[j]))
		}
	}
}

func (h *Dense) InnerVector(v []float64) float64 {
	if h.n > len(v) {
		panic("bound check error")
	}
	sum := 0.0
	for i := 0; i < h.n; i++ {
		for j := 0; j < h.n; j++ {
			sum += v[i] * h.sym.At(i, j) * v[j]
		}
	}
	return sum
}

// InitializeSolver attempts a Cholesky factorization. A factorization
// failure here is not fatal: an indefinite model is reported through Solve
// so the update strategy can fall back to a gradient step.
func (h *Dense) InitializeSolver() bool {
	h.posdef = h.chol.Factorize(h.sym)
	return true
}

func (h *Dense) Solve(b, x []float64) bool {
	if h.n > len(b) || h.n > len(x) {
		panic("bound check error")
	}
	if !h.posdef {
		return false
	}
	xv := mat.NewVecDense(h.n, x[:h.n])
	return h.chol.SolveVecTo(xv, mat.NewVecDense(h.n, b[:h.n])) == nil
}
