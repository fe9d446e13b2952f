// Package scene adds up point sources and a flat background into a model
// of a whole stamp.
package scene

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/abworrall/prfphot/pkg/emath"
	"github.com/abworrall/prfphot/pkg/prf"
)

var ErrParameterShape = errors.New("parameter vector has wrong length")

// ParamsPerSource is how many parameters each point source takes up in
// the flat parameter vector; the background comes last.
const ParamsPerSource = 6

// Source is a typed view of one source's slice of the parameter vector.
type Source struct {
	Flux      float64
	CenterCol float64
	CenterRow float64
	ScaleCol  float64
	ScaleRow  float64
	Rotation  float64 // radians
}

func (s Source) String() string {
	return fmt.Sprintf("flux=%.2f centre=(%.3f,%.3f) scale=(%.4f,%.4f) rot=%.4f",
		s.Flux, s.CenterCol, s.CenterRow, s.ScaleCol, s.ScaleRow, s.Rotation)
}

// Nominal is a source with the calibration's own shape
func Nominal(flux, col, row float64) Source {
	return Source{Flux: flux, CenterCol: col, CenterRow: row, ScaleCol: 1, ScaleRow: 1}
}

// Pack flattens sources and a background into a parameter vector.
func Pack(bkg float64, sources ...Source) []float64 {
	params := make([]float64, 0, len(sources)*ParamsPerSource+1)
	for _, s := range sources {
		params = append(params, s.Flux, s.CenterCol, s.CenterRow, s.ScaleCol, s.ScaleRow, s.Rotation)
	}
	return append(params, bkg)
}

// Unpack is the inverse of Pack.
func Unpack(params []float64) ([]Source, float64, error) {
	if len(params) < ParamsPerSource+1 || (len(params)-1)%ParamsPerSource != 0 {
		return nil, 0, errors.Wrapf(ErrParameterShape, "%d params", len(params))
	}
	n := (len(params) - 1) / ParamsPerSource
	sources := make([]Source, n)
	for i := range sources {
		p := params[i*ParamsPerSource:]
		sources[i] = Source{p[0], p[1], p[2], p[3], p[4], p[5]}
	}
	return sources, params[len(params)-1], nil
}

// A Scene is one or more point sources on the same stamp, plus a flat
// background.
type Scene struct {
	Evaluators []*prf.Evaluator
	Shape      prf.Shape
}

func New(evaluators ...*prf.Evaluator) (*Scene, error) {
	if len(evaluators) == 0 {
		return nil, errors.Wrap(prf.ErrInvalidShape, "scene with no sources")
	}
	shape := evaluators[0].Shape
	for i, ev := range evaluators {
		if ev.Shape != shape {
			return nil, errors.Wrapf(prf.ErrInvalidShape, "source %d is %s, not %s", i, ev.Shape, shape)
		}
	}
	return &Scene{Evaluators: evaluators, Shape: shape}, nil
}

func (s *Scene) NumSources() int { return len(s.Evaluators) }
func (s *Scene) NumParams() int  { return len(s.Evaluators)*ParamsPerSource + 1 }

// Names labels each slot of the parameter vector, for table headers.
func (s *Scene) Names() []string {
	names := []string{}
	for i := range s.Evaluators {
		for _, n := range []string{"flux", "col", "row", "scale_col", "scale_row", "rotation"} {
			if len(s.Evaluators) > 1 {
				n = fmt.Sprintf("%s_%d", n, i)
			}
			names = append(names, n)
		}
	}
	return append(names, "background")
}

// Evaluate returns the predicted counts on the stamp.
func (s *Scene) Evaluate(params []float64) (emath.FloatGrid, error) {
	if len(params) != s.NumParams() {
		return emath.FloatGrid{}, errors.Wrapf(ErrParameterShape, "%d params for %d sources", len(params), len(s.Evaluators))
	}

	out := emath.NewFloatGrid(s.Shape.Cols, s.Shape.Rows)
	for i, ev := range s.Evaluators {
		p := params[i*ParamsPerSource : (i+1)*ParamsPerSource]
		ev.AddTo(&out, p[0], p[1], p[2], p[3], p[4], p[5])
	}
	out.AddConst(params[len(params)-1])

	return out, nil
}
