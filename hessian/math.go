// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hessian

import (
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// Adapter layer between the optimizer and the two linear-algebra kits.
// The dense kit is gonum/mat, the sparse kit is james-bowman/sparse.
// Everything the Hessian types need beyond plain products lives here:
// diagonal extraction, row/column scaling, vᵀAv and the gather of a
// sparse block into symmetric dense storage for Cholesky factorization.

// sparseInner computes u[uoff:]ᵀ · m · w[woff:] for an r×c sparse block.
func sparseInner(m *sparse.CSR, u []float64, uoff int, w []float64, woff int) float64 {
	r, c := m.Dims()
	if uoff+r > len(u) || woff+c > len(w) {
		panic("bound check error")
	}
	sum := 0.0
	m.DoNonZero(func(i, j int, v float64) {
		sum += u[uoff+i] * v * w[woff+j]
	})
	return sum
}

// sparseSubMulVec accumulates dst -= m · v for an r×c sparse block.
func sparseSubMulVec(m *sparse.CSR, v, dst []float64) {
	r, c := m.Dims()
	if r > len(dst) || c > len(v) {
		panic("bound check error")
	}
	m.DoNonZero(func(i, j int, val float64) {
		dst[i] -= val * v[j]
	})
}

// sparseSubMulVecT accumulates dst -= mᵀ · v for an r×c sparse block.
func sparseSubMulVecT(m *sparse.CSR, v, dst []float64) {
	r, c := m.Dims()
	if c > len(dst) || r > len(v) {
		panic("bound check error")
	}
	m.DoNonZero(func(i, j int, val float64) {
		dst[j] -= val * v[i]
	})
}

// sparseExtractDiag copies the diagonal of m into d[off:].
func sparseExtractDiag(m *sparse.CSR, d []float64, off int) {
	n, _ := m.Dims()
	if off+n > len(d) {
		panic("bound check error")
	}
	for i := 0; i < n; i++ {
		d[off+i] = m.At(i, i)
	}
}

// sparseWithDiag rebuilds m with its diagonal replaced by diag.
// The sparse kit offers no in-place mutation of compressed storage, so the
// block is reassembled through the construction format.
func sparseWithDiag(m *sparse.CSR, diag []float64) *sparse.CSR {
	r, c := m.Dims()
	if r > len(diag) {
		panic("bound check error")
	}
	out := sparse.NewDOK(r, c)
	m.DoNonZero(func(i, j int, v float64) {
		if i != j {
			out.Set(i, j, v)
		}
	})
	for i := 0; i < r; i++ {
		if v := diag[i]; v != 0 {
			out.Set(i, i, v)
		}
	}
	return out.ToCSR()
}

// sparseScaleRowsCols rebuilds m as 𝚍𝚒𝚊𝚐(1/s[roff:])·m·𝚍𝚒𝚊𝚐(1/s[coff:]).
func sparseScaleRowsCols(m *sparse.CSR, s []float64, roff, coff int) *sparse.CSR {
	r, c := m.Dims()
	if roff+r > len(s) || coff+c > len(s) {
		panic("bound check error")
	}
	out := sparse.NewDOK(r, c)
	m.DoNonZero(func(i, j int, v float64) {
		out.Set(i, j, v/(s[roff+i]*s[coff+j]))
	})
	return out.ToCSR()
}

// gatherSym gathers an n×n sparse block into dense symmetric storage,
// reusing dst when the dimension has not changed. Only the upper triangle
// of the source is read.
func gatherSym(m *sparse.CSR, dst *mat.SymDense, n int) *mat.SymDense {
	if dst == nil || dst.SymmetricDim() != n {
		dst = mat.NewSymDense(n, nil)
	} else {
		dst.Zero()
	}
	m.DoNonZero(func(i, j int, v float64) {
		if j >= i {
			dst.SetSym(i, j, v)
		}
	})
	return dst
}
