package emath

import (
	"math"
	"path/filepath"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAff3(t *testing.T) {
	tests := []struct {
		name   string
		m      Aff3
		x, y   float64
		ex, ey float64
	}{
		{"identity", Identity(), 3, 4, 3, 4},
		{"translate", Identity().Translate(1, -2), 3, 4, 4, 2},
		{"scale", Identity().Scale(2, 0.5), 3, 4, 6, 2},
		{"quarter turn", Identity().Rotate(math.Pi / 2), 1, 0, 0, 1},
		{"half turn about a point", Identity().Translate(1, 1).Rotate(math.Pi).Translate(-1, -1), 2, 1, 0, 1},
		// Rightmost first: shift, then scale
		{"composed", Identity().Scale(2, 2).Translate(-1, -1), 3, 4, 4, 6},
	}

	for _, test := range tests {
		x, y := test.m.Apply(test.x, test.y)
		if !near(x, test.ex) || !near(y, test.ey) {
			t.Errorf("%s: (%f,%f) -> (%f,%f), expected (%f,%f)\n%s", test.name, test.x, test.y, x, y, test.ex, test.ey, test.m)
		}
	}
}

func TestFloatGridStats(t *testing.T) {
	fg, err := NewFloatGridFromRows([][]float64{
		{1, 2, 3},
		{4, math.NaN(), 6},
	})
	if err != nil {
		t.Fatalf("NewFloatGridFromRows: %v", err)
	}
	if fg.Dx() != 3 || fg.Dy() != 2 || fg.Get(2, 1) != 6 {
		t.Errorf("layout wrong: %s", fg.Stats())
	}

	if fg.Sum() != 16 {
		t.Errorf("Sum: got %f", fg.Sum())
	}
	if min, max := fg.MinMax(); min != 1 || max != 6 {
		t.Errorf("MinMax: got %f, %f", min, max)
	}
	if p := fg.Percentile(0); p != 1 {
		t.Errorf("Percentile(0): got %f", p)
	}
	if p := fg.Percentile(100); p != 6 {
		t.Errorf("Percentile(100): got %f", p)
	}
	if m := fg.Median(); m != 3 {
		t.Errorf("Median: got %f", m)
	}

	empty := FloatGrid{}
	if !empty.IsEmpty() || !math.IsNaN(empty.Percentile(50)) || empty.Dy() != 0 {
		t.Errorf("empty grid: %s", empty.Stats())
	}

	if _, err := NewFloatGridFromRows([][]float64{{1, 2}, {3}}); err == nil {
		t.Errorf("ragged rows: expected error")
	}
}

func TestFloatGridArithmetic(t *testing.T) {
	a := NewFloatGrid(4, 3)
	a.AddConst(2)
	b := a.NewFromThis()
	b.AddConst(2)
	b.Set(1, 1, 10)
	a.Accumulate(b)

	if a.Get(0, 0) != 4 || a.Get(1, 1) != 12 {
		t.Errorf("got %f, %f", a.Get(0, 0), a.Get(1, 1))
	}
	if b.Get(0, 0) != 2 {
		t.Errorf("Accumulate changed its argument")
	}
	if !a.SameShape(&b) || a.SameShape(&FloatGrid{}) {
		t.Errorf("SameShape")
	}
}

func TestPercentileInterpolatesBetweenRanks(t *testing.T) {
	tests := []struct {
		vals     []float64
		p        float64
		expected float64
	}{
		{[]float64{1, 2, 3, 4}, 50, 2.5},
		{[]float64{10, 20, 30, 40, 50}, 10, 14},
		{[]float64{10, 20, 30, 40, 50}, 50, 30},
		{[]float64{50, 10, 40, 20, 30}, 75, 40},
		{[]float64{7}, 10, 7},
		{[]float64{1, 2, 3, 4}, 150, 4}, // p is clamped
	}

	for _, test := range tests {
		fg, _ := NewFloatGridFromRows([][]float64{test.vals})
		if got := fg.Percentile(test.p); !near(got, test.expected) {
			t.Errorf("Percentile(%v, %.0f): got %f, expected %f", test.vals, test.p, got, test.expected)
		}
	}

	fg, _ := NewFloatGridFromRows([][]float64{{4, 3, 2, 1}})
	if m := fg.Median(); m != 2.5 {
		t.Errorf("Median: got %f", m)
	}
}

func TestToImg(t *testing.T) {
	fg := NewFloatGrid(5, 5)
	fg.Set(2, 2, 100)
	if err := fg.ToImg("star", filepath.Join(t.TempDir(), "star.png")); err != nil {
		t.Errorf("ToImg: %v", err)
	}
}

func TestClamp(t *testing.T) {
	if Clamp(-1, 0, 1) != 0 || Clamp(2, 0, 1) != 1 || Clamp(0.5, 0, 1) != 0.5 {
		t.Errorf("Clamp")
	}
	if NanToZero(math.NaN()) != 0 || NanToZero(3) != 3 {
		t.Errorf("NanToZero")
	}
}
