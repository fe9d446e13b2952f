// Package phot does PRF photometry: it fits a scene of point sources to
// stamps of photon counts, one cadence at a time.
package phot

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/abworrall/prfphot/pkg/emath"
	"github.com/abworrall/prfphot/pkg/posterior"
	"github.com/abworrall/prfphot/pkg/prf"
	"github.com/abworrall/prfphot/pkg/scene"
)

// FitResult is the outcome of fitting one cadence.
type FitResult struct {
	Cadence   int
	Params    []float64
	Sigmas    []float64 // 1-sigma uncertainties; NaN when unknown
	Converged bool
	Status    string

	Objective       float64 // negative log posterior at Params
	FuncEvaluations int

	Diagnostics Diagnostics
}

func (r FitResult) String() string {
	return fmt.Sprintf("cadence %4d: %v, %s, -logP=%.3f, %s", r.Cadence, r.Params, r.Status, r.Objective, r.Diagnostics)
}

// A Fitter fits a scene to frames. It is safe for concurrent use, as
// long as its Maximizer is.
type Fitter struct {
	Scene         *scene.Scene
	Prior         posterior.Prior
	Maximizer     posterior.Maximizer
	Uncertainties bool
}

type Option func(*Fitter)

func WithMaximizer(m posterior.Maximizer) Option {
	return func(f *Fitter) { f.Maximizer = m }
}

func WithUncertainties(on bool) Option {
	return func(f *Fitter) { f.Uncertainties = on }
}

func NewFitter(s *scene.Scene, prior posterior.Prior, opts ...Option) (*Fitter, error) {
	if prior.Dim() != s.NumParams() {
		return nil, errors.Wrapf(scene.ErrParameterShape, "prior has %d params, scene needs %d", prior.Dim(), s.NumParams())
	}
	if err := posterior.Validate(prior); err != nil {
		return nil, errors.Wrap(err, "bad prior")
	}

	f := &Fitter{
		Scene:         s,
		Prior:         prior,
		Maximizer:     posterior.NewNelderMead(),
		Uncertainties: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// LogLikelihood is the Poisson log likelihood of the frame, as a function
// of the scene parameters.
func (f *Fitter) LogLikelihood(frame emath.FloatGrid) func([]float64) float64 {
	obs := frame.Values()
	return func(params []float64) float64 {
		model, err := f.Scene.Evaluate(params)
		if err != nil {
			return math.Inf(-1)
		}
		return posterior.PoissonLogLikelihood(obs, model.Values())
	}
}

// Fit finds the parameters that best explain a single frame, starting
// from x0. Failure to converge is not an error; check FitResult.Converged.
func (f *Fitter) Fit(ctx context.Context, frame emath.FloatGrid, x0 []float64) (FitResult, error) {
	if err := ctx.Err(); err != nil {
		return FitResult{}, err
	}
	if shape := prf.ShapeOf(&frame); shape != f.Scene.Shape {
		return FitResult{}, errors.Wrapf(prf.ErrInvalidShape, "frame is %s, scene is %s", shape, f.Scene.Shape)
	}
	if len(x0) != f.Scene.NumParams() {
		return FitResult{}, errors.Wrapf(scene.ErrParameterShape, "x0 has %d params", len(x0))
	}

	logL := f.LogLikelihood(frame)
	res, err := f.Maximizer.Maximize(logL, f.Prior, x0)
	if err != nil {
		return FitResult{}, errors.Wrap(err, "maximize")
	}

	r := FitResult{
		Params:          res.X,
		Converged:       res.Converged,
		Status:          res.Status,
		Objective:       res.Objective,
		FuncEvaluations: res.FuncEvaluations,
	}

	if f.Uncertainties {
		r.Sigmas = posterior.Uncertainties(logL, f.Prior, r.Params)
	}
	if model, err := f.Scene.Evaluate(r.Params); err == nil {
		r.Diagnostics = Diagnose(frame, model, len(r.Params))
	}

	logrus.WithFields(logrus.Fields{
		"converged": r.Converged,
		"status":    r.Status,
		"evals":     r.FuncEvaluations,
		"objective": r.Objective,
	}).Debugf("fit %v", r.Params)
	logrus.Debugf("residuals: %v", r.Diagnostics.Histogram)

	return r, nil
}

// fitRun fits a contiguous run of cadences in order, seeding each fit from
// the previous one when that converged, and from x0 when it did not. The
// first frame is cadence number `first`.
func (f *Fitter) fitRun(ctx context.Context, frames []emath.FloatGrid, x0 []float64, first int) ([]FitResult, error) {
	rows := []FitResult{}
	seed := x0
	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return rows, err
		}

		r, err := f.Fit(ctx, frame, seed)
		if err != nil {
			return rows, errors.Wrapf(err, "cadence %d", first+i)
		}
		r.Cadence = first + i
		rows = append(rows, r)

		if r.Converged {
			seed = r.Params
		} else {
			logrus.Debugf("cadence %d did not converge (%s), reseeding from x0", r.Cadence, r.Status)
			seed = x0
		}
	}
	return rows, nil
}

// FitBatch fits the frames in cadence order, warm starting each from the
// last. If ctx is cancelled it stops between cadences, returning what it
// has so far along with ctx.Err().
func (f *Fitter) FitBatch(ctx context.Context, frames []emath.FloatGrid, x0 []float64) (Table, error) {
	t := NewTable(f.Scene.Names())
	rows, err := f.fitRun(ctx, frames, x0, 0)
	t.Append(rows...)
	return t, err
}

type chunkJob struct {
	Index  int
	Start  int
	Frames []emath.FloatGrid

	// Output
	Rows []FitResult
	Err  error
}

// FitBatchConcurrently splits the frames into chunks of chunkSize
// cadences, and fits them with a pool of workers. Each chunk starts cold
// from x0, and warm starts within itself. The table comes back in cadence
// order. On error, it holds the chunks before the first one that failed,
// plus whatever that chunk managed.
func (f *Fitter) FitBatchConcurrently(ctx context.Context, frames []emath.FloatGrid, x0 []float64, chunkSize, nWorkers int) (Table, error) {
	if chunkSize <= 0 {
		chunkSize = len(frames)
	}
	if nWorkers <= 0 {
		nWorkers = 1
	}

	jobs := []chunkJob{}
	for start := 0; start < len(frames); start += chunkSize {
		end := start + chunkSize
		if end > len(frames) {
			end = len(frames)
		}
		jobs = append(jobs, chunkJob{Index: len(jobs), Start: start, Frames: frames[start:end]})
	}

	var wg sync.WaitGroup
	jobsChan := make(chan chunkJob, len(jobs))
	resultsChan := make(chan chunkJob, len(jobs))

	// Kick off worker pool
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobsChan {
				job.Rows, job.Err = f.fitRun(ctx, job.Frames, x0, job.Start)
				resultsChan <- job
			}
		}()
	}

	// Feed in jobs
	for _, job := range jobs {
		jobsChan <- job
	}
	close(jobsChan)
	wg.Wait()
	close(resultsChan)

	// Results processor; put the chunks back in order
	done := make([]chunkJob, len(jobs))
	for job := range resultsChan {
		done[job.Index] = job
	}

	t := NewTable(f.Scene.Names())
	for _, job := range done {
		t.Append(job.Rows...)
		if job.Err != nil {
			return t, job.Err
		}
	}

	logrus.Debugf("fitted %d cadences in %d chunks, %d workers", t.Len(), len(jobs), nWorkers)
	return t, nil
}
