package phot

import (
	"fmt"
	"math"

	"github.com/skypies/util/histogram"

	"github.com/abworrall/prfphot/pkg/emath"
)

// Residual histograms cover +/- residualRange sigma, in tenths.
const residualRange = 5

// Diagnostics says how well a fitted model explains a frame, via Pearson
// residuals (obs-model)/sqrt(model).
type Diagnostics struct {
	ChiSq        float64
	ReducedChiSq float64
	NumPixels    int
	MaxResidual  float64 // largest |residual|

	Histogram histogram.Histogram
}

func (d Diagnostics) String() string {
	return fmt.Sprintf("chi2=%.2f (reduced %.3f over %d px), max|r|=%.2f", d.ChiSq, d.ReducedChiSq, d.NumPixels, d.MaxResidual)
}

// Residuals returns obs-model, pixel by pixel.
func Residuals(frame, model emath.FloatGrid) emath.FloatGrid {
	out := frame.NewFromThis()
	for i, v := range frame.Values() {
		out.Values()[i] = v - model.Values()[i]
	}
	return out
}

// Diagnose compares a frame with the model fitted to it. nParams is the
// number of fitted parameters, for the reduced chi-squared. Pixels where
// the model predicts nothing, or the frame is NaN, are skipped.
func Diagnose(frame, model emath.FloatGrid, nParams int) Diagnostics {
	d := Diagnostics{
		Histogram: histogram.Histogram{NumBuckets: 20, ValMin: 0, ValMax: 2 * residualRange * 10},
	}

	for i, obs := range frame.Values() {
		m := model.Values()[i]
		if math.IsNaN(obs) || !(m > 0) {
			continue
		}
		r := (obs - m) / math.Sqrt(m)
		d.ChiSq += r * r
		d.NumPixels++
		d.MaxResidual = math.Max(d.MaxResidual, math.Abs(r))

		bucket := int(math.Round((emath.Clamp(r, -residualRange, residualRange-0.1) + residualRange) * 10))
		d.Histogram.Add(histogram.ScalarVal(bucket))
	}

	if dof := d.NumPixels - nParams; dof > 0 {
		d.ReducedChiSq = d.ChiSq / float64(dof)
	} else {
		d.ReducedChiSq = math.NaN()
	}
	return d
}
