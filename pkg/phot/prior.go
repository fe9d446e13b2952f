package phot

import (
	"math"

	"github.com/abworrall/prfphot/pkg/emath"
	"github.com/abworrall/prfphot/pkg/posterior"
	"github.com/abworrall/prfphot/pkg/scene"
)

// Priors pinning the PRF to its calibrated shape.
const (
	PinnedScaleVar    = 1e-9
	PinnedRotationVar = 1e-9

	// Looser priors, for when the shape is allowed to float
	FreeScaleVar    = 0.01
	FreeRotationVar = 0.01
)

// widen stops a uniform prior from collapsing to a point, which happens
// on e.g. a flat frame where min == median.
func widen(lower, upper float64) posterior.Uniform {
	if !(upper > lower) {
		pad := math.Max(1, math.Abs(upper)*1e-3)
		return posterior.Uniform{Lower: lower - pad, Upper: upper + pad}
	}
	return posterior.Uniform{Lower: lower, Upper: upper}
}

// DefaultPrior builds the usual priors for fitting a scene to a frame:
//   - flux uniform between the frame's total counts less a median
//     background on every pixel, and the total counts. With more than one
//     source that range holds their sum, not each of them, so each source
//     gets [0, total counts] instead
//   - position uniform over the stamp's pixel centres
//   - scale and rotation pinned by tight gaussians (looser if fitShape)
//   - background uniform between the frame's min and median
func DefaultPrior(s *scene.Scene, frame emath.FloatGrid, guess Guess, fitShape bool) posterior.Joint {
	median := frame.Median()
	min, _ := frame.MinMax()
	fluxUpper := guess.Flux
	fluxLower := fluxUpper - float64(frame.Len())*median
	if len(s.Evaluators) > 1 {
		fluxLower = 0
	}

	scaleVar, rotVar := PinnedScaleVar, PinnedRotationVar
	if fitShape {
		scaleVar, rotVar = FreeScaleVar, FreeRotationVar
	}

	parts := []posterior.Prior{}
	for _, ev := range s.Evaluators {
		parts = append(parts,
			widen(fluxLower, fluxUpper),
			widen(ev.ColCoord[0], ev.ColCoord[len(ev.ColCoord)-1]),
			widen(ev.RowCoord[0], ev.RowCoord[len(ev.RowCoord)-1]),
			posterior.Gaussian{Mu: 1, Var: scaleVar},
			posterior.Gaussian{Mu: 1, Var: scaleVar},
			posterior.Gaussian{Mu: 0, Var: rotVar},
		)
	}
	parts = append(parts, widen(min, median))

	return posterior.NewJoint(parts...)
}
