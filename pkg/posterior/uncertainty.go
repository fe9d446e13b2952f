package posterior

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Uncertainties estimates 1-sigma errors on each parameter at the peak
// x of the posterior, from the inverse of the Hessian of -log P. The
// parameters are rescaled by the prior's Scale() first, so the finite
// difference steps suit both a flux in the thousands and a rotation pinned
// to within 1e-5. Entries are NaN when the curvature is not usable (x on
// the edge of a uniform prior, or a flat direction).
func Uncertainties(logL func([]float64) float64, prior Prior, x []float64) []float64 {
	n := len(x)
	sigmas := make([]float64, n)
	for i := range sigmas {
		sigmas[i] = math.NaN()
	}

	scales := prior.Scale()
	for i, s := range scales {
		if !(s > 0) || math.IsInf(s, 0) {
			scales[i] = 1
		}
	}

	logP := LogPosterior(logL, prior)
	xs := make([]float64, n)
	negLogP := func(u []float64) float64 {
		for i := range u {
			xs[i] = u[i] * scales[i]
		}
		return -1 * logP(xs)
	}

	u := make([]float64, n)
	for i := range x {
		u[i] = x[i] / scales[i]
	}

	hess := mat.NewSymDense(n, nil)
	fd.Hessian(hess, negLogP, u, &fd.Settings{Formula: fd.Central})
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if v := hess.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return sigmas
			}
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(hess); !ok {
		return sigmas
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return sigmas
	}

	for i := range sigmas {
		if v := cov.At(i, i); v > 0 {
			sigmas[i] = scales[i] * math.Sqrt(v)
		}
	}
	return sigmas
}
