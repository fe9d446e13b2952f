// Package prf turns calibration kernels into a model of how a point
// source at some sub-pixel position lands on a small stamp of pixels.
package prf

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/abworrall/prfphot/pkg/calib"
	"github.com/abworrall/prfphot/pkg/emath"
)

var ErrInvalidShape = errors.New("invalid stamp shape")

// Shape is the size of a stamp, in pixels.
type Shape struct {
	Rows int
	Cols int
}

func (s Shape) String() string { return fmt.Sprintf("%dx%d", s.Rows, s.Cols) }

func (s Shape) Valid() bool { return s.Rows > 0 && s.Cols > 0 }

func ShapeOf(fg *emath.FloatGrid) Shape { return Shape{Rows: fg.Dy(), Cols: fg.Dx()} }

// An Evaluator models a point source on one stamp. It is immutable once
// built, and safe to share between goroutines.
type Evaluator struct {
	Channel int
	Column  int // the stamp's corner on the focal plane
	Row     int
	Shape   Shape

	ColCoord []float64 // pixel centres
	RowCoord []float64

	kernel *calib.Blended
	interp Interpolator
}

type Option func(*Evaluator)

func WithInterpolator(in Interpolator) Option {
	return func(ev *Evaluator) { ev.interp = in }
}

// NewEvaluator looks up the calibration for the stamp whose corner pixel
// is (column,row), and blends it for the middle of the stamp.
func NewEvaluator(p calib.Provider, channel, column, row int, shape Shape, opts ...Option) (*Evaluator, error) {
	if !shape.Valid() {
		return nil, errors.Wrapf(ErrInvalidShape, "shape %s", shape)
	}

	midCol := float64(column) + float64(shape.Cols)/2.0
	midRow := float64(row) + float64(shape.Rows)/2.0
	surface, err := p.Lookup(channel, midCol, midRow)
	if err != nil {
		return nil, err
	}
	kernel, err := surface.At(midCol, midRow)
	if err != nil {
		return nil, err
	}

	ev := newEvaluator(kernel, channel, column, row, shape)
	for _, opt := range opts {
		opt(ev)
	}
	return ev, nil
}

func newEvaluator(kernel *calib.Blended, channel, column, row int, shape Shape) *Evaluator {
	ev := &Evaluator{
		Channel:  channel,
		Column:   column,
		Row:      row,
		Shape:    shape,
		ColCoord: make([]float64, shape.Cols),
		RowCoord: make([]float64, shape.Rows),
		kernel:   kernel,
		interp:   CatmullRom,
	}
	for j := range ev.ColCoord {
		ev.ColCoord[j] = float64(column) + 0.5 + float64(j)
	}
	for i := range ev.RowCoord {
		ev.RowCoord[i] = float64(row) + 0.5 + float64(i)
	}
	return ev
}

// Moved returns an evaluator for a stamp at a different corner, sharing
// this one's kernel.
func (ev *Evaluator) Moved(column, row int) *Evaluator {
	ev2 := newEvaluator(ev.kernel, ev.Channel, column, row, ev.Shape)
	ev2.interp = ev.interp
	return ev2
}

func (ev *Evaluator) Interpolator() Interpolator { return ev.interp }

// Center is the geometric middle of the stamp, in focal plane coords.
func (ev *Evaluator) Center() (float64, float64) {
	return float64(ev.Column) + float64(ev.Shape.Cols)/2.0, float64(ev.Row) + float64(ev.Shape.Rows)/2.0
}

// Transform maps focal plane coords into the kernel's frame (pixels from
// the kernel centre). Rotation is in radians.
func Transform(centerCol, centerRow, scaleCol, scaleRow, rotation float64) emath.Aff3 {
	// Rightmost first: shift to the centre, rotate, then rescale.
	return emath.Identity().Scale(scaleCol, scaleRow).Rotate(-1*rotation).Translate(-1*centerCol, -1*centerRow)
}

// Evaluate returns the expected counts on each pixel of the stamp for a
// source of the given flux. Pixels the kernel does not reach are zero.
func (ev *Evaluator) Evaluate(flux, centerCol, centerRow, scaleCol, scaleRow, rotation float64) emath.FloatGrid {
	out := emath.NewFloatGrid(ev.Shape.Cols, ev.Shape.Rows)
	ev.AddTo(&out, flux, centerCol, centerRow, scaleCol, scaleRow, rotation)
	return out
}

// AddTo is Evaluate, accumulating into an existing frame.
func (ev *Evaluator) AddTo(out *emath.FloatGrid, flux, centerCol, centerRow, scaleCol, scaleRow, rotation float64) {
	xform := Transform(centerCol, centerRow, scaleCol, scaleRow, rotation)
	for i, r := range ev.RowCoord {
		for j, c := range ev.ColCoord {
			kCol, kRow := xform.Apply(c, r)
			v := flux * ev.interp.At(ev.kernel, kCol, kRow)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			out.Set(j, i, out.Get(j, i)+v)
		}
	}
}
