package calib

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
)

var testBounds = Bounds{MinCol: 0, MaxCol: 1100, MinRow: 0, MaxRow: 1024}

func TestSurfaceAtNormalizes(t *testing.T) {
	s := NewGaussianSurface(7, testBounds, 1.0, 11, 10)

	for _, pos := range [][2]float64{{0, 0}, {550, 512}, {300, 900}, {1100, 1024}} {
		b, err := s.At(pos[0], pos[1])
		if err != nil {
			t.Fatalf("At(%v): %v", pos, err)
		}
		integral := b.Values.Sum() * b.StepCol * b.StepRow
		if math.Abs(integral-1.0) > 1e-9 {
			t.Errorf("At(%v): integral %f, wanted 1", pos, integral)
		}
	}
}

func TestSurfaceAtOnKernel(t *testing.T) {
	narrow := NewGaussianKernel(0, 0, 0.5, 0.5, 5, 4)
	wide := NewGaussianKernel(100, 100, 2.0, 2.0, 5, 4)
	s, err := NewSurface(1, Bounds{}, narrow, wide)
	if err != nil {
		t.Fatalf("NewSurface: %v", err)
	}

	b, err := s.At(0, 0)
	if err != nil {
		t.Fatalf("At: %v", err)
	}

	// Sitting on the narrow kernel, the blend should be (almost) exactly it.
	scale := 1.0 / (narrow.Values.Sum() * narrow.StepCol * narrow.StepRow)
	for i, v := range narrow.Values.Values() {
		if got := b.Values.Values()[i]; math.Abs(got-v*scale) > 1e-4*scale {
			t.Fatalf("sample %d: got %f, wanted %f", i, got, v*scale)
		}
	}
}

func TestBlendedOffsets(t *testing.T) {
	s := NewGaussianSurface(1, Bounds{}, 1.0, 4, 2)
	b, _ := s.At(0, 0)
	if got := b.ColOffset(0); got != -1.75 {
		t.Errorf("ColOffset(0): got %f", got)
	}
	if got := b.RowOffset(7); got != 1.75 {
		t.Errorf("RowOffset(7): got %f", got)
	}
}

func TestNewSurfaceRejectsMismatch(t *testing.T) {
	a := NewGaussianKernel(0, 0, 1, 1, 5, 4)
	b := NewGaussianKernel(0, 0, 1, 1, 6, 4)
	if _, err := NewSurface(1, Bounds{}, a, b); err == nil {
		t.Errorf("mismatched kernels: expected error")
	}
	if _, err := NewSurface(1, Bounds{}); err == nil {
		t.Errorf("no kernels: expected error")
	}
}

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider(NewGaussianSurface(3, testBounds, 1.0, 5, 4))

	if _, err := p.Lookup(3, 10, 10); err != nil {
		t.Errorf("Lookup(3): %v", err)
	}
	if _, err := p.Lookup(4, 10, 10); !errors.Is(err, ErrCalibrationNotFound) {
		t.Errorf("Lookup(4): got %v", err)
	} else if !strings.HasPrefix(err.Error(), "channel 4: ") {
		t.Errorf("Lookup(4): context lost in %q", err)
	}
	if _, err := p.Lookup(3, 5000, 10); !errors.Is(err, ErrCalibrationNotFound) {
		t.Errorf("Lookup out of bounds: got %v", err)
	}
}

type countingProvider struct {
	Provider
	calls int
}

func (cp *countingProvider) Lookup(channel int, column, row float64) (*Surface, error) {
	cp.calls++
	return cp.Provider.Lookup(channel, column, row)
}

func TestCachingProvider(t *testing.T) {
	src := &countingProvider{Provider: NewMemoryProvider(NewGaussianSurface(3, testBounds, 1.0, 5, 4))}
	cp := NewCachingProvider(src)

	s1, err := cp.Lookup(3, 10, 10)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	s2, _ := cp.Lookup(3, 10, 10)
	if s1 != s2 {
		t.Errorf("cached lookup returned a different surface")
	}
	if src.calls != 1 || cp.Hits != 1 || cp.Misses != 1 {
		t.Errorf("calls=%d hits=%d misses=%d", src.calls, cp.Hits, cp.Misses)
	}

	// Errors are not cached
	cp.Lookup(9, 10, 10)
	cp.Lookup(9, 10, 10)
	if src.calls != 3 {
		t.Errorf("failed lookups: got %d source calls, wanted 3", src.calls)
	}
	if cp.Len() != 1 {
		t.Errorf("Len: got %d", cp.Len())
	}
}

func TestYamlRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewGaussianSurface(12, testBounds, 1.2, 4, 3)
	if err := s.Save(filepath.Join(dir, ChannelFilename(12))); err != nil {
		t.Fatalf("Save: %v", err)
	}

	p := DirProvider{Dir: dir}
	s2, err := p.Lookup(12, 100, 100)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if s2.Bounds != s.Bounds || len(s2.Kernels) != len(s.Kernels) {
		t.Fatalf("got %+v", s2.Bounds)
	}
	for i := range s.Kernels {
		k1, k2 := s.Kernels[i], s2.Kernels[i]
		if k1.Column != k2.Column || k1.StepRow != k2.StepRow || !k1.Values.SameShape(&k2.Values) {
			t.Errorf("kernel %d: got %s, wanted %s", i, k2, k1)
		}
		if math.Abs(k1.Values.Sum()-k2.Values.Sum()) > 1e-9 {
			t.Errorf("kernel %d: values differ", i)
		}
	}

	if _, err := p.Lookup(13, 100, 100); !errors.Is(err, ErrCalibrationNotFound) {
		t.Errorf("missing channel: got %v", err)
	}
}
