package phot

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/abworrall/prfphot/pkg/emath"
)

var ErrDegenerateFrame = errors.New("degenerate frame")

// DefaultWidth is the width guess (in pixels) when the frame gives us
// nothing to measure.
const DefaultWidth = 1.0

// A Guess is a model-free first look at a stamp.
type Guess struct {
	Flux  float64
	Col   float64
	Row   float64
	Width float64
}

func (g Guess) String() string {
	return fmt.Sprintf("flux=%.1f centre=(%.3f,%.3f) width=%.3f", g.Flux, g.Col, g.Row, g.Width)
}

// EstimateInitialGuess finds the 'centre of mass' of the frame, treating
// counts as weights. Pixel (j,i) of the frame sits at (refCol+j, refRow+i).
// The width is the weighted std dev, averaged over both axes.
func EstimateInitialGuess(frame emath.FloatGrid, refCol, refRow float64) (Guess, error) {
	if frame.IsEmpty() {
		return Guess{}, errors.Wrapf(ErrDegenerateFrame, "%dx%d frame", frame.Dy(), frame.Dx())
	}

	sum, sumX, sumY, nonZero := 0.0, 0.0, 0.0, 0
	for i := 0; i < frame.Dy(); i++ {
		for j := 0; j < frame.Dx(); j++ {
			v := emath.NanToZero(frame.Get(j, i))
			if v != 0 {
				nonZero++
			}
			sum += v
			sumX += v * float64(j)
			sumY += v * float64(i)
		}
	}

	g := Guess{Flux: sum, Col: refCol, Row: refRow, Width: DefaultWidth}
	if sum <= 0 {
		return g, nil
	}

	meanX, meanY := sumX/sum, sumY/sum
	g.Col = refCol + meanX
	g.Row = refRow + meanY
	if nonZero < 2 {
		return g, nil
	}

	varX, varY := 0.0, 0.0
	for i := 0; i < frame.Dy(); i++ {
		for j := 0; j < frame.Dx(); j++ {
			v := emath.NanToZero(frame.Get(j, i))
			varX += v * (float64(j) - meanX) * (float64(j) - meanX)
			varY += v * (float64(i) - meanY) * (float64(i) - meanY)
		}
	}
	varX /= sum
	varY /= sum

	// Negative counts can push a variance below zero
	if varX > 0 && varY > 0 {
		g.Width = (math.Sqrt(varX) + math.Sqrt(varY)) / 2.0
	}
	return g, nil
}
