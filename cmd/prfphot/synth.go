package main

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/abworrall/prfphot/pkg/calib"
	"github.com/abworrall/prfphot/pkg/emath"
	"github.com/abworrall/prfphot/pkg/prf"
	"github.com/abworrall/prfphot/pkg/scene"
	"github.com/abworrall/prfphot/pkg/stamp"
)

type synthFlags struct {
	out       string
	channel   int
	column    int
	row       int
	size      int
	cadences  int
	sigma     float64
	flux      float64
	bkg       float64
	driftCol  float64
	driftRow  float64
	variation float64
}

func NewSynthCommand() *cobra.Command {
	f := synthFlags{}

	cmd := &cobra.Command{
		Use:   "synth --out dir",
		Short: "Write a Gaussian calibration and a series of noisy synthetic stamps",
		Long: `Write a Gaussian calibration and a series of noisy synthetic stamps.

The calibration goes into <dir> as a per-channel YAML file, and the stamps
into <dir>/stamps, so the output can be fed straight back in:

  prfphot synth --out /tmp/demo
  prfphot fit --calib /tmp/demo /tmp/demo/stamps`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSynth(f)
		},
	}

	cmd.Flags().StringVar(&f.out, "out", "", "output dir")
	cmd.Flags().IntVar(&f.channel, "channel", 1, "detector channel")
	cmd.Flags().IntVar(&f.column, "column", 0, "detector column of the stamps' first pixel")
	cmd.Flags().IntVar(&f.row, "row", 0, "detector row of the stamps' first pixel")
	cmd.Flags().IntVar(&f.size, "size", 12, "stamp width and height, in pixels")
	cmd.Flags().IntVar(&f.cadences, "cadences", 20, "how many stamps to write")
	cmd.Flags().Float64Var(&f.sigma, "sigma", 1.0, "width of the Gaussian PRF, in pixels")
	cmd.Flags().Float64Var(&f.flux, "flux", 20000, "star flux, in counts")
	cmd.Flags().Float64Var(&f.bkg, "bkg", 100, "background, in counts per pixel")
	cmd.Flags().Float64Var(&f.driftCol, "drift-col", 0.02, "column drift per cadence, in pixels")
	cmd.Flags().Float64Var(&f.driftRow, "drift-row", -0.01, "row drift per cadence, in pixels")
	cmd.Flags().Float64Var(&f.variation, "variation", 0.005, "fractional flux change per cadence")
	cmd.MarkFlagRequired("out")

	return cmd
}

func runSynth(f synthFlags) error {
	if err := os.MkdirAll(filepath.Join(f.out, "stamps"), 0755); err != nil {
		return err
	}

	surface := calib.NewGaussianSurface(f.channel, calib.Bounds{}, f.sigma, 9, 8)
	if err := surface.Save(filepath.Join(f.out, calib.ChannelFilename(f.channel))); err != nil {
		return err
	}

	ev, err := prf.NewEvaluator(calib.NewMemoryProvider(surface), f.channel, f.column, f.row, prf.Shape{Rows: f.size, Cols: f.size})
	if err != nil {
		return err
	}
	s, err := scene.New(ev)
	if err != nil {
		return err
	}

	col0, row0 := ev.Center()
	frames := []emath.FloatGrid{}
	for i := 0; i < f.cadences; i++ {
		fi := float64(i)
		src := scene.Nominal(f.flux*(1+f.variation*fi), col0+f.driftCol*fi, row0+f.driftRow*fi)
		model, err := s.Evaluate(scene.Pack(f.bkg, src))
		if err != nil {
			return err
		}
		frames = append(frames, stamp.Noisy(model))
		logrus.Debugf("cadence %d: %s", i, src)
	}

	filenames, err := stamp.WriteSequence(frames, filepath.Join(f.out, "stamps"))
	if err != nil {
		return err
	}
	logrus.Infof("wrote calibration and %d stamps into %s", len(filenames), f.out)
	return nil
}
