// Package calib holds the calibration products that PRF models are built
// from: per-channel sets of finely sampled PRF kernels, and the providers
// that hand them out.
package calib

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/abworrall/prfphot/pkg/emath"
)

var ErrCalibrationNotFound = errors.New("calibration not found")

// minKernelWeight stops a kernel measured exactly at the requested
// position from getting an infinite weight.
const minKernelWeight = 1e-6

// A Kernel is one sampled PRF, measured at a reference position on the
// focal plane. The samples live on a fine grid centred on the star, with
// StepCol x StepRow pixels between samples.
type Kernel struct {
	Column  float64 // focal plane position the kernel was measured at
	Row     float64
	StepCol float64 // sample spacing, in pixels
	StepRow float64

	Values emath.FloatGrid
}

func (k Kernel) String() string {
	return fmt.Sprintf("Kernel[(%.1f,%.1f), %dx%d @ %.3fx%.3f px]",
		k.Column, k.Row, k.Values.Dx(), k.Values.Dy(), k.StepCol, k.StepRow)
}

// Bounds is the region of the focal plane a Surface is valid for. The
// zero value means "anywhere".
type Bounds struct {
	MinCol float64 `yaml:"min_col"`
	MaxCol float64 `yaml:"max_col"`
	MinRow float64 `yaml:"min_row"`
	MaxRow float64 `yaml:"max_row"`
}

func (b Bounds) IsZero() bool { return b == Bounds{} }

func (b Bounds) Contains(col, row float64) bool {
	if b.IsZero() {
		return true
	}
	return col >= b.MinCol && col <= b.MaxCol && row >= b.MinRow && row <= b.MaxRow
}

// A Surface is the calibration for one channel: a handful of kernels
// measured across the channel, which get blended together to give the PRF
// at any position in between. Surfaces are immutable once built.
type Surface struct {
	Channel int
	Bounds  Bounds
	Kernels []Kernel
}

// NewSurface checks that all the kernels agree on their sampling grid.
func NewSurface(channel int, bounds Bounds, kernels ...Kernel) (*Surface, error) {
	if len(kernels) == 0 {
		return nil, errors.Errorf("channel %d: no kernels", channel)
	}
	k0 := kernels[0]
	for i, k := range kernels {
		if k.StepCol <= 0 || k.StepRow <= 0 {
			return nil, errors.Errorf("channel %d kernel %d: non-positive sample step", channel, i)
		}
		if k.Values.IsEmpty() {
			return nil, errors.Errorf("channel %d kernel %d: no samples", channel, i)
		}
		if !k.Values.SameShape(&k0.Values) || k.StepCol != k0.StepCol || k.StepRow != k0.StepRow {
			return nil, errors.Errorf("channel %d kernel %d: %s does not match %s", channel, i, k, k0)
		}
	}
	return &Surface{Channel: channel, Bounds: bounds, Kernels: kernels}, nil
}

// Blended is a single kernel, resampled for one position on the focal
// plane. Values are a density: they sum to 1/(StepCol*StepRow), so that
// integrating over the plane gives 1.
type Blended struct {
	StepCol float64
	StepRow float64
	Values  emath.FloatGrid
}

// ColOffset returns the offset (in pixels, from the kernel centre) of
// sample column j. The grid is centred, so sample j sits at (j+0.5-n/2)
// steps from the middle.
func (b *Blended) ColOffset(j int) float64 {
	return (float64(j) + 0.5 - float64(b.Values.Dx())/2.0) * b.StepCol
}

func (b *Blended) RowOffset(i int) float64 {
	return (float64(i) + 0.5 - float64(b.Values.Dy())/2.0) * b.StepRow
}

// At blends the surface's kernels for the position (col,row), weighting
// each kernel by the inverse of its distance from that position, then
// renormalizes the result.
func (s *Surface) At(col, row float64) (*Blended, error) {
	if !s.Bounds.Contains(col, row) {
		return nil, errors.Wrapf(ErrCalibrationNotFound, "channel %d has no calibration at (%.1f,%.1f)", s.Channel, col, row)
	}

	k0 := s.Kernels[0]
	out := k0.Values.NewFromThis()
	vals := out.Values()

	for _, k := range s.Kernels {
		weight := math.Hypot(col-k.Column, row-k.Row)
		if weight < minKernelWeight {
			weight = minKernelWeight
		}
		for i, v := range k.Values.Values() {
			vals[i] += emath.NanToZero(v) / weight
		}
	}

	total := out.Sum()
	if total <= 0 {
		return nil, errors.Wrapf(ErrCalibrationNotFound, "channel %d: kernels sum to %f", s.Channel, total)
	}
	norm := 1.0 / (total * k0.StepCol * k0.StepRow)
	for i := range vals {
		vals[i] *= norm
	}

	return &Blended{StepCol: k0.StepCol, StepRow: k0.StepRow, Values: out}, nil
}
