package phot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/abworrall/prfphot/pkg/posterior"
)

func TestNewConfigIsValid(t *testing.T) {
	c := NewConfig()
	if err := c.FinalizeConfig(); err != nil {
		t.Fatalf("FinalizeConfig: %v", err)
	}
	if in, _ := c.GetInterpolator(); in.Name != "catmullrom" {
		t.Errorf("default interpolator: got %s", in)
	}
}

func TestLoadConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "fit.yaml")
	yaml := "interpolation: bilinear\nmaxiterations: 500\nrestarts: 0\nconcurrent: true\nworkers: 8\n"
	if err := os.WriteFile(filename, []byte(yaml), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c, err := LoadConfig(filename)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.Interpolation != "bilinear" || c.MaxIterations != 500 || !c.Concurrent || c.Workers != 8 {
		t.Errorf("got %+v", c)
	}
	// Unset values keep their defaults
	if c.ChunkSize != 50 || c.MaxEvaluations != NewConfig().MaxEvaluations {
		t.Errorf("defaults lost: %+v", c)
	}

	m, err := c.GetMaximizer()
	if err != nil {
		t.Fatalf("GetMaximizer: %v", err)
	}
	if nm := m.(posterior.NelderMead); nm.MaxIterations != 500 || nm.Restarts != 0 {
		t.Errorf("maximizer: got %+v", nm)
	}

	// And it survives a round trip
	c2, err := newConfigFromYaml([]byte(c.AsYaml()))
	if err != nil || c2 != c {
		t.Errorf("round trip: got %+v, %v", c2, err)
	}
}

func TestBadConfig(t *testing.T) {
	for _, yaml := range []string{
		"interpolation: sinc\n",
		"maximizer: annealing\n",
		"tolerance: 0\n",
		"concurrent: true\nworkers: 0\n",
	} {
		c, err := newConfigFromYaml([]byte(yaml))
		if err != nil {
			t.Fatalf("%q: %v", yaml, err)
		}
		if err := c.FinalizeConfig(); err == nil {
			t.Errorf("%q: expected error", yaml)
		}
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("missing file: expected error")
	}
}
