// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hessian

import (
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// Schur is the Hessian representation for bordered block problems.
//
// The Jacobian is presented as two sparse pieces 𝑱_L (M×L) and 𝑱_R (M×R)
// and the Gauss-Newton Hessian is held as the three blocks
//
//	A = 𝑱_Lᵀ𝑱_L   B = 𝑱_Lᵀ𝑱_R   D = 𝑱_Rᵀ𝑱_R
//
// The system [A B; Bᵀ D][x₁;x₂] = [b₁;b₂] is solved by block elimination:
//
//	1. y = A⁻¹b₁
//	2. b₂′ = b₂ - Bᵀy
//	3. M = A⁻¹B
//	4. D′ = D - BᵀM
//	5. D′x₂ = b₂′
//	6. Ax₁ = b₁ - Bx₂
//
// Two independent factorizations are kept so that a failure on the small
// reduced system D′ surfaces as a soft Solve failure while a failure on A
// surfaces through InitializeSolver. The factorizations are redone every
// iteration: the sparse kit elides stored zeros during multiplication, so
// the block pattern is not stable enough across iterations to lock a
// symbolic structure against.
type Schur struct {
	numLeft, numRight int

	a, b, d *sparse.CSR

	symA, symD *mat.SymDense
	cholA      mat.Cholesky
	cholD      mat.Cholesky

	// workspace reused across iterations
	y, b2m, rhs []float64
	m, btm      *mat.Dense
}

// NewSchur creates an empty block Hessian. The block dimensions are taken
// from the Jacobian pieces on the first Compute call.
func NewSchur() *Schur { return new(Schur) }

// NumLeft returns L, the width of the A block.
func (h *Schur) NumLeft() int { return h.numLeft }

// NumRight returns R, the width of the D block.
func (h *Schur) NumRight() int { return h.numRight }

func (h *Schur) Dim() int { return h.numLeft + h.numRight }

// Compute forms the three Hessian blocks from the two Jacobian pieces.
func (h *Schur) Compute(left, right *sparse.CSC) {
	_, lc := left.Dims()
	_, rc := right.Dims()
	h.numLeft, h.numRight = lc, rc

	h.a = &sparse.CSR{}
	h.b = &sparse.CSR{}
	h.d = &sparse.CSR{}
	h.a.Mul(left.T(), left)
	h.b.Mul(left.T(), right)
	h.d.Mul(right.T(), right)
}

// Gradient forms g = 𝑱ᵀr = [𝑱_L, 𝑱_R]ᵀr.
func (h *Schur) Gradient(left, right *sparse.CSC, residuals, g []float64) {
	mr, lc := left.Dims()
	_, rc := right.Dims()
	if lc+rc > len(g) || mr > len(residuals) {
		panic("bound check error")
	}
	for i := range g[:lc+rc] {
		g[i] = 0
	}
	left.DoNonZero(func(i, j int, v float64) {
		g[j] += v * residuals[i]
	})
	right.DoNonZero(func(i, j int, v float64) {
		g[lc+j] += v * residuals[i]
	})
}

func (h *Schur) ExtractDiagonals(d []float64) {
	if h.Dim() > len(d) {
		panic("bound check error")
	}
	sparseExtractDiag(h.a, d, 0)
	sparseExtractDiag(h.d, d, h.numLeft)
}

func (h *Schur) SetDiagonals(d []float64) {
	if h.Dim() > len(d) {
		panic("bound check error")
	}
	h.a = sparseWithDiag(h.a, d[:h.numLeft])
	h.d = sparseWithDiag(h.d, d[h.numLeft:h.Dim()])
}

func (h *Schur) DivideRowsCols(s []float64) {
	if h.Dim() > len(s) {
		panic("bound check error")
	}
	h.a = sparseScaleRowsCols(h.a, s, 0, 0)
	h.b = sparseScaleRowsCols(h.b, s, 0, h.numLeft)
	h.d = sparseScaleRowsCols(h.d, s, h.numLeft, h.numLeft)
}

// InnerVector computes vᵀ𝑯v for the block form with v = [v_L; v_R]:
//
//	v_Lᵀ A v_L + 2 v_Lᵀ B v_R + v_Rᵀ D v_R
func (h *Schur) InnerVector(v []float64) float64 {
	sum := sparseInner(h.a, v, 0, v, 0)
	sum += 2 * sparseInner(h.b, v, 0, v, h.numLeft)
	sum += sparseInner(h.d, v, h.numLeft, v, h.numLeft)
	return sum
}

// InitializeSolver factorizes the A block. Failure here is fatal to the
// optimization run: the caller decides whether to retry with a different
// backend.
func (h *Schur) InitializeSolver() bool {
	h.symA = gatherSym(h.a, h.symA, h.numLeft)
	return h.cholA.Factorize(h.symA)
}

// Solve performs the block elimination. A factorization failure on the
// reduced system D′ reports false, which the update strategies treat as a
// non-positive-definite model.
func (h *Schur) Solve(b, x []float64) bool {
	nl, nr := h.numLeft, h.numRight
	if nl+nr > len(b) || nl+nr > len(x) {
		panic("bound check error")
	}

	if len(h.y) != nl {
		h.y = make([]float64, nl)
		h.rhs = make([]float64, nl)
	}
	if len(h.b2m) != nr {
		h.b2m = make([]float64, nr)
	}

	b1 := mat.NewVecDense(nl, b[:nl])

	// 1. y = A⁻¹b₁
	yv := mat.NewVecDense(nl, h.y)
	if h.cholA.SolveVecTo(yv, b1) != nil {
		return false
	}

	// 2. b₂′ = b₂ - Bᵀy
	copy(h.b2m, b[nl:nl+nr])
	sparseSubMulVecT(h.b, h.y, h.b2m)

	// 3. M = A⁻¹B (the fill-producing step)
	if h.m == nil || !h.sized(h.m, nl, nr) {
		h.m = mat.NewDense(nl, nr, nil)
	}
	if h.cholA.SolveTo(h.m, h.b) != nil {
		return false
	}

	// 4. D′ = D - BᵀM
	if h.btm == nil || !h.sized(h.btm, nr, nr) {
		h.btm = mat.NewDense(nr, nr, nil)
	}
	h.btm.Mul(h.b.T(), h.m)
	if h.symD == nil || h.symD.SymmetricDim() != nr {
		h.symD = mat.NewSymDense(nr, nil)
	}
	for i := 0; i < nr; i++ {
		for j := i; j < nr; j++ {
			h.symD.SetSym(i, j, h.d.At(i, j)-h.btm.At(i, j))
		}
	}

	// 5. D′x₂ = b₂′
	if !h.cholD.Factorize(h.symD) {
		return false
	}
	x2 := mat.NewVecDense(nr, x[nl:nl+nr])
	if h.cholD.SolveVecTo(x2, mat.NewVecDense(nr, h.b2m)) != nil {
		return false
	}

	// 6. Ax₁ = b₁ - Bx₂
	copy(h.rhs, b[:nl])
	sparseSubMulVec(h.b, x[nl:nl+nr], h.rhs)
	x1 := mat.NewVecDense(nl, x[:nl])
	return h.cholA.SolveVecTo(x1, mat.NewVecDense(nl, h.rhs)) == nil
}

func (h *Schur) sized(m *mat.Dense, r, c int) bool {
	mr, mc := m.Dims()
	return mr == r && mc == c
}
