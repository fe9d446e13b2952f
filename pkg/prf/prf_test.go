package prf

import (
	"errors"
	"math"
	"testing"

	"github.com/abworrall/prfphot/pkg/calib"
)

var testBounds = calib.Bounds{MinCol: 0, MaxCol: 1100, MinRow: 0, MaxRow: 1100}

func testProvider(channels ...int) *calib.MemoryProvider {
	p := calib.NewMemoryProvider()
	for _, ch := range channels {
		// The PRF gets a little wider on higher channels
		p.Add(calib.NewGaussianSurface(ch, testBounds, 0.9+float64(ch)/200.0, 11, 10))
	}
	return p
}

func TestNormalization(t *testing.T) {
	channels := []int{1, 20, 40, 60, 84}
	p := testProvider(channels...)
	shape := Shape{Rows: 18, Cols: 14}
	flux := 100.0

	for _, in := range []Interpolator{CatmullRom, BiLinear} {
		for _, ch := range channels {
			for _, col := range []int{123, 678} {
				for _, row := range []int{234, 789} {
					ev, err := NewEvaluator(p, ch, col, row, shape, WithInterpolator(in))
					if err != nil {
						t.Fatalf("NewEvaluator(%d,%d,%d): %v", ch, col, row, err)
					}
					cc, cr := ev.Center()
					fg := ev.Evaluate(flux, cc, cr, 1, 1, 0)
					if sum := fg.Sum(); math.Abs(sum-flux) > 0.1*flux {
						t.Errorf("%s ch%d (%d,%d): sum %f, wanted %f", in, ch, col, row, sum, flux)
					}
				}
			}
		}
	}
}

func TestFarAwayIsZero(t *testing.T) {
	ev, err := NewEvaluator(testProvider(5), 5, 100, 100, Shape{8, 8})
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	for _, pos := range [][2]float64{{1000, 1000}, {-500, 104}, {104, math.Inf(1)}, {math.NaN(), 104}} {
		fg := ev.Evaluate(100, pos[0], pos[1], 1, 1, 0)
		for i, v := range fg.Values() {
			if v != 0 || math.IsNaN(v) {
				t.Fatalf("centre %v: pixel %d is %f", pos, i, v)
			}
		}
	}
}

func TestInvalidShape(t *testing.T) {
	p := testProvider(5)
	for _, shape := range []Shape{{0, 5}, {5, 0}, {-1, 3}} {
		if _, err := NewEvaluator(p, 5, 10, 10, shape); !errors.Is(err, ErrInvalidShape) {
			t.Errorf("shape %s: got %v", shape, err)
		}
	}

	// Shape is checked before the calibration
	if _, err := NewEvaluator(p, 99, 10, 10, Shape{0, 0}); !errors.Is(err, ErrInvalidShape) {
		t.Errorf("bad shape, bad channel: got %v", err)
	}
}

func TestCalibrationNotFound(t *testing.T) {
	p := testProvider(5)
	if _, err := NewEvaluator(p, 6, 10, 10, Shape{5, 5}); !errors.Is(err, calib.ErrCalibrationNotFound) {
		t.Errorf("unknown channel: got %v", err)
	}
	if _, err := NewEvaluator(p, 5, 5000, 10, Shape{5, 5}); !errors.Is(err, calib.ErrCalibrationNotFound) {
		t.Errorf("off the channel: got %v", err)
	}
}

func TestCoords(t *testing.T) {
	ev, _ := NewEvaluator(testProvider(5), 5, 100, 200, Shape{Rows: 3, Cols: 4})
	if len(ev.ColCoord) != 4 || ev.ColCoord[0] != 100.5 || ev.ColCoord[3] != 103.5 {
		t.Errorf("ColCoord: got %v", ev.ColCoord)
	}
	if len(ev.RowCoord) != 3 || ev.RowCoord[0] != 200.5 || ev.RowCoord[2] != 202.5 {
		t.Errorf("RowCoord: got %v", ev.RowCoord)
	}
}

func TestCentroidFollowsCentre(t *testing.T) {
	ev, _ := NewEvaluator(testProvider(5), 5, 100, 200, Shape{Rows: 15, Cols: 15})

	// Moving the centre should move the flux-weighted centroid with it
	for _, off := range [][2]float64{{0, 0}, {0.3, -0.2}, {1.7, 0.9}} {
		cc, cr := 107.5+off[0], 207.5+off[1]
		fg := ev.Evaluate(1000, cc, cr, 1, 1, 0)

		sum, sumC, sumR := 0.0, 0.0, 0.0
		for i, r := range ev.RowCoord {
			for j, c := range ev.ColCoord {
				v := fg.Get(j, i)
				sum += v
				sumC += v * c
				sumR += v * r
			}
		}
		if math.Abs(sumC/sum-cc) > 0.01 || math.Abs(sumR/sum-cr) > 0.01 {
			t.Errorf("centre (%f,%f): centroid (%f,%f)", cc, cr, sumC/sum, sumR/sum)
		}
	}
}

func TestRotationAndScale(t *testing.T) {
	// An elongated kernel, so rotation does something visible
	k := calib.NewGaussianKernel(0, 0, 2.0, 0.7, 13, 8)
	s, err := calib.NewSurface(1, calib.Bounds{}, k)
	if err != nil {
		t.Fatalf("NewSurface: %v", err)
	}
	ev, _ := NewEvaluator(calib.NewMemoryProvider(s), 1, 0, 0, Shape{Rows: 13, Cols: 13})
	cc, cr := ev.Center()

	flat := ev.Evaluate(1, cc, cr, 1, 1, 0)
	turned := ev.Evaluate(1, cc, cr, 1, 1, math.Pi/2)

	// Two pixels along the row from centre, and two along the column
	alongCol := func(fg interface{ Get(int, int) float64 }) float64 { return fg.Get(8, 6) }
	alongRow := func(fg interface{ Get(int, int) float64 }) float64 { return fg.Get(6, 8) }
	if !(alongCol(&flat) > alongRow(&flat)) {
		t.Errorf("unrotated kernel should be wide along the column axis")
	}
	if math.Abs(alongCol(&turned)-alongRow(&flat)) > 1e-6 || math.Abs(alongRow(&turned)-alongCol(&flat)) > 1e-6 {
		t.Errorf("quarter turn should swap the axes")
	}

	// A scale >1 means the source looks smaller, so less light lands off-centre
	shrunk := ev.Evaluate(1, cc, cr, 2, 2, 0)
	if !(alongCol(&shrunk) < alongCol(&flat)) {
		t.Errorf("scale 2: got %f, want < %f", alongCol(&shrunk), alongCol(&flat))
	}
}

func TestInterpolatorHitsSamples(t *testing.T) {
	s := calib.NewGaussianSurface(1, calib.Bounds{}, 1.0, 5, 4)
	b, _ := s.At(0, 0)

	for _, in := range []Interpolator{CatmullRom, BiLinear} {
		for _, ij := range [][2]int{{0, 0}, {3, 7}, {10, 10}, {19, 2}} {
			want := b.Values.Get(ij[1], ij[0])
			got := in.At(b, b.ColOffset(ij[1]), b.RowOffset(ij[0]))
			if math.Abs(got-want) > 1e-9 {
				t.Errorf("%s at sample %v: got %g, wanted %g", in, ij, got, want)
			}
		}
	}
}

func TestGetInterpolator(t *testing.T) {
	for name, want := range map[string]string{"": "catmullrom", "bicubic": "catmullrom", "bilinear": "bilinear"} {
		in, err := GetInterpolator(name)
		if err != nil || in.Name != want {
			t.Errorf("GetInterpolator(%q): got %v, %v", name, in, err)
		}
	}
	if _, err := GetInterpolator("spline"); err == nil {
		t.Errorf("unknown interpolation: expected error")
	}
}

func TestCache(t *testing.T) {
	src := testProvider(5, 6)
	c := NewCache(src, 2)
	shape := Shape{Rows: 10, Cols: 10}

	ev1, err := c.Get(5, 100, 100, shape)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ev2, _ := c.Get(5, 100, 100, shape); ev2 != ev1 {
		t.Errorf("exact repeat should return the same evaluator")
	}

	// Within tolerance: new coordinates, shared kernel
	ev3, _ := c.Get(5, 102, 99, shape)
	if ev3.Column != 102 || ev3.Row != 99 || ev3.ColCoord[0] != 102.5 {
		t.Errorf("near miss: got corner (%d,%d)", ev3.Column, ev3.Row)
	}
	if ev3.kernel != ev1.kernel {
		t.Errorf("near miss should share the kernel")
	}

	// Outside tolerance, other channel, other shape: all fresh
	c.Get(5, 103, 100, shape)
	c.Get(6, 100, 100, shape)
	c.Get(5, 100, 100, Shape{Rows: 11, Cols: 10})
	if c.Hits != 2 || c.Misses != 4 || c.Len() != 4 {
		t.Errorf("hits=%d misses=%d len=%d", c.Hits, c.Misses, c.Len())
	}

	if _, err := c.Get(7, 100, 100, shape); !errors.Is(err, calib.ErrCalibrationNotFound) {
		t.Errorf("unknown channel: got %v", err)
	}
}
