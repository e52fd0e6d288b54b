// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hessian provides the Hessian representations used by the
// trust-region optimizer.
//
// Two backends are provided. Dense stores 𝑯 = 𝑱ᵀ𝑱 (or a user supplied
// Hessian) as a gonum symmetric matrix and solves with a dense Cholesky
// factorization. Schur assumes the bordered block form
//
//	𝑯 = ┌ A  B ┐   A ∈ ℝᴸˣᴸ, D ∈ ℝᴿˣᴿ
//	    └ Bᵀ D ┘
//
// arising in bundle-adjustment-like problems, stores the blocks as sparse
// matrices and solves the system through the Schur complement D - BᵀA⁻¹B.
package hessian

// Matrix is the contract the optimizer driver and its update strategies
// require from a Hessian representation. Implementations own their working
// storage for the whole optimization run. The driver is the only mutator:
// update strategies must treat the Hessian as read-only between
// InitializeSolver calls.
type Matrix interface {

	// Dim returns the number of parameters N.
	Dim() int

	// ExtractDiagonals copies the N diagonal elements of the Hessian into d.
	ExtractDiagonals(d []float64)

	// SetDiagonals overwrites the N diagonal elements of the Hessian with d.
	SetDiagonals(d []float64)

	// DivideRowsCols applies 𝚍𝚒𝚊𝚐(1/s)·𝑯·𝚍𝚒𝚊𝚐(1/s) in place.
	DivideRowsCols(s []float64)

	// InnerVector computes vᵀ𝑯v.
	InnerVector(v []float64) float64

	// InitializeSolver factorizes the matrix (for the block form, the A
	// block). Schur reports false when the A block is singular or too
	// ill-conditioned to factorize; Dense always reports true and surfaces a
	// failed factorization through Solve. The factorization stays valid
	// until the Hessian is recomputed.
	InitializeSolver() bool

	// Solve finds x such that 𝑯x = b. InitializeSolver must have succeeded
	// first. It reports false when a solution could not be produced, which
	// callers treat as a non-positive-definite model rather than an error.
	Solve(b, x []float64) bool
}
