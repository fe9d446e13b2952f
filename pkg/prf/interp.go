package prf

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/abworrall/prfphot/pkg/calib"
)

// maxTaps is enough for any kernel with Support <= 3
const maxTaps = 8

// An Interpolator resamples a blended calibration kernel at arbitrary
// offsets, using one of the x/image/draw resampling kernels separably
// along each axis.
type Interpolator struct {
	Name   string
	kernel *draw.Kernel
}

var (
	CatmullRom = Interpolator{"catmullrom", draw.CatmullRom}
	BiLinear   = Interpolator{"bilinear", draw.BiLinear}
)

// GetInterpolator maps a config string onto an interpolator.
func GetInterpolator(name string) (Interpolator, error) {
	switch name {
	case "", "catmullrom", "bicubic":
		return CatmullRom, nil
	case "bilinear":
		return BiLinear, nil
	default:
		return Interpolator{}, errors.Errorf("interpolation '%s' not known", name)
	}
}

func (in Interpolator) String() string { return in.Name }

// taps works out which samples along one axis contribute to a query at
// fractional sample index f, and with what weight. It returns the number
// of taps filled in.
func (in Interpolator) taps(f float64, n int, idx *[maxTaps]int, w *[maxTaps]float64) int {
	support := in.kernel.Support
	lo := int(math.Floor(f-support)) + 1
	hi := int(math.Ceil(f+support)) - 1
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}

	nTaps := 0
	for k := lo; k <= hi && nTaps < maxTaps; k++ {
		t := math.Abs(f - float64(k))
		if t >= support {
			continue
		}
		idx[nTaps] = k
		w[nTaps] = in.kernel.At(t)
		nTaps++
	}
	return nTaps
}

// At returns the kernel density at (col,row) pixels from the kernel
// centre. Anything more than half a sample beyond the sampled grid is
// zero; the result is never negative.
func (in Interpolator) At(b *calib.Blended, col, row float64) float64 {
	nc, nr := b.Values.Dx(), b.Values.Dy()

	// Sample j sits at (j+0.5-n/2)*step, so invert that.
	fc := col/b.StepCol + float64(nc)/2.0 - 0.5
	fr := row/b.StepRow + float64(nr)/2.0 - 0.5
	inside := fc >= -0.5 && fc <= float64(nc)-0.5 && fr >= -0.5 && fr <= float64(nr)-0.5
	if !inside { // also catches NaN
		return 0
	}

	var cIdx, rIdx [maxTaps]int
	var cW, rW [maxTaps]float64
	nCol := in.taps(fc, nc, &cIdx, &cW)
	nRow := in.taps(fr, nr, &rIdx, &rW)

	sum := 0.0
	for i := 0; i < nRow; i++ {
		rowSum := 0.0
		for j := 0; j < nCol; j++ {
			rowSum += cW[j] * b.Values.Get(cIdx[j], rIdx[i])
		}
		sum += rW[i] * rowSum
	}

	if sum < 0 || math.IsNaN(sum) {
		return 0
	}
	return sum
}
