package posterior

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// PoissonLogProb is the log probability of seeing `observed` photons when
// `mean` were expected. Whole counts go through distuv.Poisson; anything
// else (e.g. background-subtracted, or rescaled data) uses the same
// expression with a continuous factorial.
func PoissonLogProb(observed, mean float64) float64 {
	switch {
	case math.IsNaN(mean) || mean < 0:
		return math.Inf(-1)
	case mean == 0:
		if observed == 0 {
			return 0
		}
		return math.Inf(-1)
	}

	if observed >= 0 && observed == math.Floor(observed) {
		return distuv.Poisson{Lambda: mean}.LogProb(observed)
	}
	lg, _ := math.Lgamma(observed + 1)
	return observed*math.Log(mean) - mean - lg
}

// PoissonLogLikelihood sums PoissonLogProb over matching pixels. NaN
// observations (masked pixels) are skipped.
func PoissonLogLikelihood(observed, mean []float64) float64 {
	if len(observed) != len(mean) {
		return math.Inf(-1)
	}
	ll := 0.0
	for i, obs := range observed {
		if math.IsNaN(obs) {
			continue
		}
		ll += PoissonLogProb(obs, mean[i])
	}
	return ll
}

// LogPosterior adds the prior to a log likelihood.
func LogPosterior(logL func([]float64) float64, prior Prior) func([]float64) float64 {
	return func(x []float64) float64 {
		lp := prior.LogProb(x)
		if math.IsInf(lp, -1) {
			return lp // don't bother evaluating the model
		}
		return logL(x) + lp
	}
}
