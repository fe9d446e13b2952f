package calib

import (
	"math"

	"github.com/abworrall/prfphot/pkg/emath"
)

// NewGaussianKernel samples an elliptical 2D gaussian onto a kernel grid
// that is `widthPix` pixels across, with `oversample` samples per pixel.
// It is not a real PRF, but it has the right shape for tests and demos.
func NewGaussianKernel(column, row, sigmaCol, sigmaRow float64, widthPix, oversample int) Kernel {
	n := widthPix * oversample
	step := 1.0 / float64(oversample)
	k := Kernel{
		Column:  column,
		Row:     row,
		StepCol: step,
		StepRow: step,
		Values:  emath.NewFloatGrid(n, n),
	}

	for i := 0; i < n; i++ {
		dRow := (float64(i) + 0.5 - float64(n)/2.0) * step
		for j := 0; j < n; j++ {
			dCol := (float64(j) + 0.5 - float64(n)/2.0) * step
			v := math.Exp(-0.5 * (dCol*dCol/(sigmaCol*sigmaCol) + dRow*dRow/(sigmaRow*sigmaRow)))
			k.Values.Set(j, i, v)
		}
	}

	return k
}

// NewGaussianSurface builds a surface for a channel spanning bounds, with
// five kernels (four corners and the middle, the same layout the Kepler
// calibration files use). The PRF broadens slightly towards the corners,
// so the blending has something to do.
func NewGaussianSurface(channel int, bounds Bounds, sigma float64, widthPix, oversample int) *Surface {
	midCol := (bounds.MinCol + bounds.MaxCol) / 2
	midRow := (bounds.MinRow + bounds.MaxRow) / 2
	corner := sigma * 1.1

	kernels := []Kernel{
		NewGaussianKernel(bounds.MinCol, bounds.MinRow, corner, corner, widthPix, oversample),
		NewGaussianKernel(bounds.MaxCol, bounds.MinRow, corner, sigma, widthPix, oversample),
		NewGaussianKernel(bounds.MinCol, bounds.MaxRow, sigma, corner, widthPix, oversample),
		NewGaussianKernel(bounds.MaxCol, bounds.MaxRow, corner, corner, widthPix, oversample),
		NewGaussianKernel(midCol, midRow, sigma, sigma, widthPix, oversample),
	}

	s, err := NewSurface(channel, bounds, kernels...)
	if err != nil {
		panic(err) // kernels are all built the same way
	}
	return s
}
