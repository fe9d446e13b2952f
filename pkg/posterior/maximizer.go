package posterior

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/optimize"
)

// Result is what a Maximizer found. X is always the best point seen, even
// when the run did not converge.
type Result struct {
	X         []float64
	Converged bool
	Status    string

	// Objective is the negative log posterior at X
	Objective float64

	FuncEvaluations int
	Iterations      int
}

func (r Result) String() string {
	return fmt.Sprintf("%s (converged=%v) after %d evals, -logP=%.4f", r.Status, r.Converged, r.FuncEvaluations, r.Objective)
}

// A Maximizer finds the peak of logL(x) + prior(x), starting from x0.
// Failure to converge is reported in the Result, not as an error.
type Maximizer interface {
	Maximize(logL func([]float64) float64, prior Prior, x0 []float64) (Result, error)
}

// NelderMead maximizes with gonum's downhill simplex. It needs no
// gradients, which is just as well given the hard edges on uniform priors.
type NelderMead struct {
	Absolute       float64 // convergence tolerances on the objective
	Relative       float64
	Iterations     int // stop after this many iterations with no significant improvement
	MaxIterations  int
	MaxEvaluations int

	// Restarts re-runs the simplex from the best point this many times,
	// stopping early when a restart no longer improves on the last.
	Restarts int
}

func NewNelderMead() NelderMead {
	return NelderMead{
		Absolute:       1e-9,
		Relative:       1e-9,
		Iterations:     200,
		MaxIterations:  20000,
		MaxEvaluations: 40000,
		Restarts:       2,
	}
}

// initialSimplex puts a vertex at x0, plus one vertex per parameter,
// stepped along that axis by a tenth of the uniform prior's width (towards
// the middle of the range) or by one sigma of the gaussian prior.
func initialSimplex(prior Prior, x0 []float64) [][]float64 {
	scales := prior.Scale()
	mean := prior.Mean()
	dim := len(x0)

	vertices := make([][]float64, dim+1)
	vertices[0] = append([]float64{}, x0...)
	for i := 0; i < dim; i++ {
		v := append([]float64{}, x0...)
		step := scales[i]
		if step == 0 || math.IsNaN(step) || math.IsInf(step, 0) {
			step = 0.05 * math.Max(1, math.Abs(x0[i]))
		}
		if isUniformAt(prior, i) {
			step = 0.1 * step
			if x0[i] > mean[i] {
				step = -step
			}
		}
		v[i] += step
		vertices[i+1] = v
	}
	return vertices
}

func isUniformAt(prior Prior, i int) bool {
	switch p := prior.(type) {
	case Uniform:
		return i == 0
	case Joint:
		for _, part := range p.Parts {
			if i < part.Dim() {
				return isUniformAt(part, i)
			}
			i -= part.Dim()
		}
	}
	return false
}

func (nm NelderMead) run(f func([]float64) float64, prior Prior, x0 []float64) (*optimize.Result, error) {
	vertices := initialSimplex(prior, x0)
	values := make([]float64, len(vertices))
	for i, v := range vertices {
		values[i] = f(v)
	}

	problem := optimize.Problem{Func: f}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   nm.Absolute,
			Relative:   nm.Relative,
			Iterations: nm.Iterations,
		},
		MajorIterations: nm.MaxIterations,
		FuncEvaluations: nm.MaxEvaluations,
	}
	method := &optimize.NelderMead{InitialVertices: vertices, InitialValues: values}

	return optimize.Minimize(problem, x0, settings, method)
}

func (nm NelderMead) Maximize(logL func([]float64) float64, prior Prior, x0 []float64) (Result, error) {
	if len(x0) != prior.Dim() {
		return Result{}, errors.Errorf("x0 has %d params, prior has %d", len(x0), prior.Dim())
	}

	logP := LogPosterior(logL, prior)
	evals := 0
	f := func(x []float64) float64 {
		evals++
		v := -1 * logP(x)
		if math.IsNaN(v) {
			return math.Inf(1)
		}
		return v
	}

	start := prior.Clamp(x0)
	best := Result{X: start, Objective: f(start), Status: "NotStarted"}
	if math.IsInf(best.Objective, 0) {
		// The simplex can't find its way from an impossible start
		best.Status = "InfeasibleStart"
		best.FuncEvaluations = evals
		return best, nil
	}

	for run := 0; run <= nm.Restarts; run++ {
		res, err := nm.run(f, prior, best.X)
		if res == nil {
			return best, errors.Wrap(err, "nelder-mead")
		}
		best.Iterations += res.MajorIterations

		improved := res.F < best.Objective
		significant := best.Objective-res.F > nm.Relative*math.Abs(best.Objective)+nm.Absolute
		if improved {
			best.X = append([]float64{}, res.X...)
			best.Objective = res.F
		}
		best.Status = res.Status.String()
		best.Converged = err == nil && !res.Status.Early()

		if !best.Converged || (run > 0 && !significant) {
			break
		}
	}

	best.FuncEvaluations = evals
	return best, nil
}
