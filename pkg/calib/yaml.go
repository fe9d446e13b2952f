package calib

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/abworrall/prfphot/pkg/emath"
)

// The on-disk form of a surface. Kernel values are rows of samples,
// values[row][col].
type yamlKernel struct {
	Column  float64     `yaml:"column"`
	Row     float64     `yaml:"row"`
	StepCol float64     `yaml:"step_col"`
	StepRow float64     `yaml:"step_row"`
	Values  [][]float64 `yaml:"values,flow"`
}

type yamlSurface struct {
	Channel int          `yaml:"channel"`
	Bounds  Bounds       `yaml:"bounds"`
	Kernels []yamlKernel `yaml:"kernels"`
}

func surfaceFromYaml(b []byte) (*Surface, error) {
	ys := yamlSurface{}
	if err := yaml.Unmarshal(b, &ys); err != nil {
		return nil, err
	}

	kernels := make([]Kernel, len(ys.Kernels))
	for i, yk := range ys.Kernels {
		g, err := emath.NewFloatGridFromRows(yk.Values)
		if err != nil {
			return nil, errors.Wrapf(err, "kernel %d", i)
		}
		kernels[i] = Kernel{Column: yk.Column, Row: yk.Row, StepCol: yk.StepCol, StepRow: yk.StepRow, Values: g}
	}

	return NewSurface(ys.Channel, ys.Bounds, kernels...)
}

// LoadSurface reads a single surface from a YAML file.
func LoadSurface(filename string) (*Surface, error) {
	b, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "read calibration %s", filename)
	}
	s, err := surfaceFromYaml(b)
	if err != nil {
		return nil, errors.Wrapf(err, "parse calibration %s", filename)
	}
	return s, nil
}

// AsYaml is the inverse of LoadSurface.
func (s *Surface) AsYaml() string {
	ys := yamlSurface{Channel: s.Channel, Bounds: s.Bounds}
	for _, k := range s.Kernels {
		rows := make([][]float64, k.Values.Dy())
		for i := range rows {
			rows[i] = make([]float64, k.Values.Dx())
			for j := range rows[i] {
				rows[i][j] = k.Values.Get(j, i)
			}
		}
		ys.Kernels = append(ys.Kernels, yamlKernel{k.Column, k.Row, k.StepCol, k.StepRow, rows})
	}

	b, err := yaml.Marshal(ys)
	if err != nil {
		return fmt.Sprintf("yaml err: %v", err)
	}
	return string(b)
}

func (s *Surface) Save(filename string) error {
	if err := ioutil.WriteFile(filename, []byte(s.AsYaml()), 0644); err != nil {
		return errors.Wrapf(err, "write calibration %s", filename)
	}
	return nil
}

// DirProvider loads surfaces from a directory holding one file per
// channel, named channel-NN.yaml. A missing file is reported as
// ErrCalibrationNotFound. It does no caching of its own; wrap it in a
// CachingProvider.
type DirProvider struct {
	Dir string
}

func ChannelFilename(channel int) string {
	return fmt.Sprintf("channel-%02d.yaml", channel)
}

func (p DirProvider) Lookup(channel int, column, row float64) (*Surface, error) {
	filename := filepath.Join(p.Dir, ChannelFilename(channel))
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrCalibrationNotFound, "%s", filename)
	}

	s, err := LoadSurface(filename)
	if err != nil {
		return nil, err
	}
	if s.Channel != channel {
		return nil, errors.Wrapf(ErrCalibrationNotFound, "%s holds channel %d", filename, s.Channel)
	}
	if !s.Bounds.Contains(column, row) {
		return nil, errors.Wrapf(ErrCalibrationNotFound, "%s does not cover (%.1f,%.1f)", filename, column, row)
	}
	return s, nil
}
