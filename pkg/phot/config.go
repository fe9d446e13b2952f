package phot

import (
	"fmt"
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/abworrall/prfphot/pkg/posterior"
	"github.com/abworrall/prfphot/pkg/prf"
)

// Config holds the knobs for a photometry run.
type Config struct {
	Verbosity int // 1 logs at debug, 2 at trace

	Interpolation string // catmullrom, bilinear
	Maximizer     string // neldermead
	FitShape      bool   // let scale and rotation float, instead of pinning them
	Uncertainties bool

	Tolerance      float64
	MaxIterations  int
	MaxEvaluations int
	Restarts       int

	Concurrent bool
	ChunkSize  int
	Workers    int

	// Stamps whose corner moved by no more than this many pixels reuse
	// the calibration blended for an earlier stamp.
	CacheTolerance int
}

func NewConfig() Config {
	nm := posterior.NewNelderMead()
	return Config{
		Interpolation:  "catmullrom",
		Maximizer:      "neldermead",
		Uncertainties:  true,
		Tolerance:      nm.Absolute,
		MaxIterations:  nm.MaxIterations,
		MaxEvaluations: nm.MaxEvaluations,
		Restarts:       nm.Restarts,
		ChunkSize:      50,
		Workers:        4,
		CacheTolerance: 2,
	}
}

func newConfigFromYaml(b []byte) (Config, error) {
	c := NewConfig()
	err := yaml.Unmarshal(b, &c)
	return c, err
}

func LoadConfig(filename string) (Config, error) {
	b, err := ioutil.ReadFile(filename)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", filename)
	}
	c, err := newConfigFromYaml(b)
	if err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", filename)
	}
	return c, c.FinalizeConfig()
}

func (c Config) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("yaml err: %v", err)
	}
	return string(b)
}

// FinalizeConfig checks the values make sense together.
func (c Config) FinalizeConfig() error {
	if _, err := c.GetInterpolator(); err != nil {
		return err
	}
	if _, err := c.GetMaximizer(); err != nil {
		return err
	}
	if c.Tolerance <= 0 || c.MaxIterations <= 0 || c.MaxEvaluations <= 0 {
		return errors.New("tolerance, maxiterations and maxevaluations must all be positive")
	}
	if c.Concurrent && (c.ChunkSize <= 0 || c.Workers <= 0) {
		return errors.New("concurrent fitting needs a positive chunksize and workers")
	}
	return nil
}

func (c Config) GetInterpolator() (prf.Interpolator, error) {
	return prf.GetInterpolator(c.Interpolation)
}

func (c Config) GetMaximizer() (posterior.Maximizer, error) {
	switch c.Maximizer {
	case "", "neldermead":
		nm := posterior.NewNelderMead()
		nm.Absolute = c.Tolerance
		nm.Relative = c.Tolerance
		nm.MaxIterations = c.MaxIterations
		nm.MaxEvaluations = c.MaxEvaluations
		nm.Restarts = c.Restarts
		return nm, nil
	default:
		return nil, errors.Errorf("no Maximizer strategy named '%s'", c.Maximizer)
	}
}

// FitterOptions turns the config into options for NewFitter.
func (c Config) FitterOptions() ([]Option, error) {
	m, err := c.GetMaximizer()
	if err != nil {
		return nil, err
	}
	return []Option{WithMaximizer(m), WithUncertainties(c.Uncertainties)}, nil
}
