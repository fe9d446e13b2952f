package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/maruel/interrupt"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/abworrall/prfphot/pkg/calib"
	"github.com/abworrall/prfphot/pkg/emath"
	"github.com/abworrall/prfphot/pkg/phot"
	"github.com/abworrall/prfphot/pkg/prf"
	"github.com/abworrall/prfphot/pkg/scene"
	"github.com/abworrall/prfphot/pkg/stamp"
	"github.com/abworrall/prfphot/pkg/store"
)

type fitFlags struct {
	calib      string
	channel    int
	column     int
	row        int
	concurrent bool
	db         string
	label      string
	dump       string
	neighbours []string
}

func NewFitCommand() *cobra.Command {
	f := fitFlags{}

	cmd := &cobra.Command{
		Use:   "fit [flags] stamps...",
		Short: "Fit a star in a time series of TIFF stamps",
		Long: `Fit a star in a time series of TIFF stamps.

Stamps are loaded from the files and directories given (directories are
searched recursively), and put in time order using their EXIF timestamps.
--column and --row give the position of the stamps' first pixel on the
detector. Each --neighbour adds another star to the scene, at a detector
column,row position, so blended stars are fitted together.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFit(cmd, f, args)
		},
	}

	cmd.Flags().StringVar(&f.calib, "calib", "", "calibration YAML file, or a dir of per-channel files")
	cmd.Flags().IntVar(&f.channel, "channel", 1, "detector channel")
	cmd.Flags().IntVar(&f.column, "column", 0, "detector column of the stamps' first pixel")
	cmd.Flags().IntVar(&f.row, "row", 0, "detector row of the stamps' first pixel")
	cmd.Flags().BoolVar(&f.concurrent, "concurrent", false, "fit chunks of cadences in parallel (overrides config)")
	cmd.Flags().StringVar(&f.db, "db", "", "SQLite file to store the fit table in")
	cmd.Flags().StringVar(&f.label, "label", "", "label for the stored run")
	cmd.Flags().StringVar(&f.dump, "dump", "", "dir to write model and residual frames to")
	cmd.Flags().StringArrayVar(&f.neighbours, "neighbour", nil, "col,row of a nearby star to fit alongside (repeatable)")
	cmd.MarkFlagRequired("calib")

	return cmd
}

func newProvider(path string) (calib.Provider, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "calibration %s", path)
	}
	if info.IsDir() {
		return calib.NewCachingProvider(calib.DirProvider{Dir: path}), nil
	}
	s, err := calib.LoadSurface(path)
	if err != nil {
		return nil, err
	}
	return calib.NewMemoryProvider(s), nil
}

// parseNeighbours reads "col,row" pairs.
func parseNeighbours(vals []string) ([][2]float64, error) {
	out := [][2]float64{}
	for _, v := range vals {
		parts := strings.Split(v, ",")
		if len(parts) != 2 {
			return nil, errors.Errorf("neighbour %q: expected col,row", v)
		}
		col, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "neighbour %q", v)
		}
		row, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "neighbour %q", v)
		}
		out = append(out, [2]float64{col, row})
	}
	return out, nil
}

// buildScene gives every source on the stamp its own evaluator. They all
// share the stamp's corner, so only the first one blends a calibration and
// the rest come out of the cache.
func buildScene(cache *prf.Cache, channel, column, row int, shape prf.Shape, nSources int) (*scene.Scene, error) {
	evs := []*prf.Evaluator{}
	for i := 0; i < nSources; i++ {
		ev, err := cache.Get(channel, column, row, shape)
		if err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return scene.New(evs...)
}

// initialSources starts the target at the guessed centre and each
// neighbour where the user put it, splitting the guessed flux evenly.
func initialSources(guess phot.Guess, neighbours [][2]float64) []scene.Source {
	share := guess.Flux / float64(1+len(neighbours))
	srcs := []scene.Source{scene.Nominal(share, guess.Col, guess.Row)}
	for _, n := range neighbours {
		srcs = append(srcs, scene.Nominal(share, n[0], n[1]))
	}
	return srcs
}

// cancelOnCtrlC cancels the context when the user hits Ctrl-C, so a batch
// stops after the cadence it is on.
func cancelOnCtrlC(ctx context.Context, cancel context.CancelFunc) {
	interrupt.HandleCtrlC()
	go func() {
		for !interrupt.IsSet() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
		logrus.Warn("interrupted, stopping after the current cadence")
		cancel()
	}()
}

func runFit(cmd *cobra.Command, f fitFlags, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if f.concurrent {
		cfg.Concurrent = true
	}
	logrus.Debugf("fit settings:-\n%s", cfg.AsYaml())

	seq := stamp.Sequence{}
	if err := seq.Load(args...); err != nil {
		return err
	}
	if len(seq.Frames) == 0 {
		return errors.Errorf("no TIFF stamps found in %v", args)
	}
	seq.Sort()
	frames := seq.Grids()
	logrus.Infof("loaded %d cadences, first is %s", len(frames), seq.Frames[0])

	p, err := newProvider(f.calib)
	if err != nil {
		return err
	}
	interp, err := cfg.GetInterpolator()
	if err != nil {
		return err
	}
	neighbours, err := parseNeighbours(f.neighbours)
	if err != nil {
		return err
	}
	cache := prf.NewCache(p, cfg.CacheTolerance, prf.WithInterpolator(interp))
	s, err := buildScene(cache, f.channel, f.column, f.row, prf.ShapeOf(&frames[0]), 1+len(neighbours))
	if err != nil {
		return err
	}
	logrus.Debugf("PRF cache: %d hits, %d misses", cache.Hits, cache.Misses)

	ev := s.Evaluators[0]
	guess, err := phot.EstimateInitialGuess(frames[0], ev.ColCoord[0], ev.RowCoord[0])
	if err != nil {
		return err
	}
	logrus.Infof("initial guess: %s", guess)

	prior := phot.DefaultPrior(s, frames[0], guess, cfg.FitShape)
	bkg0 := prior.Mean()[s.NumParams()-1]
	x0 := prior.Clamp(scene.Pack(bkg0, initialSources(guess, neighbours)...))

	opts, err := cfg.FitterOptions()
	if err != nil {
		return err
	}
	fitter, err := phot.NewFitter(s, prior, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	cancelOnCtrlC(ctx, cancel)

	start := time.Now()
	var table phot.Table
	if cfg.Concurrent {
		table, err = fitter.FitBatchConcurrently(ctx, frames, x0, cfg.ChunkSize, cfg.Workers)
	} else {
		table, err = fitter.FitBatch(ctx, frames, x0)
	}
	logrus.WithFields(logrus.Fields{
		"cadences":  table.Len(),
		"converged": table.NumConverged(),
		"elapsed":   time.Since(start).Round(time.Millisecond),
	}).Info("fit finished")

	// Whatever got fitted before an error or Ctrl-C is still worth keeping
	fmt.Fprint(cmd.OutOrStdout(), table.String())
	reportNonConverged(cmd, table)

	if table.Len() > 0 && f.db != "" {
		if serr := saveTable(f.db, f.label, table); serr != nil {
			logrus.Errorf("store: %v", serr)
		}
	}
	if table.Len() > 0 && f.dump != "" {
		if derr := dumpFrames(s, frames, table, f.dump); derr != nil {
			logrus.Errorf("dump: %v", derr)
		}
	}

	return err
}

func reportNonConverged(cmd *cobra.Command, table phot.Table) {
	bad := table.Len() - table.NumConverged()
	if bad == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("all %d cadences converged", table.Len()))
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), color.New(color.Bold, color.FgRed).Sprintf("%d of %d cadences did not converge:", bad, table.Len()))
	for _, r := range table.Rows {
		if !r.Converged {
			fmt.Fprintln(cmd.OutOrStdout(), color.RedString("  %s", r))
		}
	}
}

func saveTable(path, label string, table phot.Table) error {
	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}
	id, err := db.SaveTable(label, table)
	if err != nil {
		return err
	}
	logrus.Infof("stored as run %d in %s", id, path)
	return nil
}

func dumpFrames(s *scene.Scene, frames []emath.FloatGrid, table phot.Table, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, r := range table.Rows {
		model, err := s.Evaluate(r.Params)
		if err != nil {
			return err
		}
		if err := stamp.Dump(model, dir, fmt.Sprintf("model-%05d", r.Cadence)); err != nil {
			return err
		}
		residual := phot.Residuals(frames[r.Cadence], model)
		if err := stamp.Dump(residual, dir, fmt.Sprintf("residual-%05d", r.Cadence)); err != nil {
			return err
		}
	}
	logrus.Infof("dumped %d model and residual frames into %s", table.Len(), dir)
	return nil
}
