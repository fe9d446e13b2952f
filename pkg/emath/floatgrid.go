package emath

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/fogleman/gg" // Move to https://pkg.go.dev/golang.org/x/image/font#Drawer sometime
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// A FloatGrid is a grid of floats, with some operations. We use it for
// pixel stamps: observed counts, predicted counts, calibration kernels.
// X is the column, Y is the row.
type FloatGrid struct {
	stride int
	values []float64
}

func NewFloatGrid(w, h int) FloatGrid {
	return FloatGrid{
		stride: w,
		values: make([]float64, w*h),
	}
}

// NewFloatGridFromRows copies a row-major [][]float64 (rows[y][x]) into a
// grid. All rows must have the same length.
func NewFloatGridFromRows(rows [][]float64) (FloatGrid, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return FloatGrid{}, errors.New("empty grid")
	}
	w := len(rows[0])
	g := NewFloatGrid(w, len(rows))
	for y, row := range rows {
		if len(row) != w {
			return FloatGrid{}, errors.Errorf("row %d has %d values, wanted %d", y, len(row), w)
		}
		copy(g.values[y*w:(y+1)*w], row)
	}
	return g, nil
}

func (g1 *FloatGrid) NewFromThis() FloatGrid  { return NewFloatGrid(g1.Dx(), g1.Dy()) }
func (fg *FloatGrid) Set(x, y int, v float64) { fg.values[fg.stride*y+x] = v }
func (fg *FloatGrid) Get(x, y int) float64    { return fg.values[fg.stride*y+x] }
func (fg *FloatGrid) Dx() int                 { return fg.stride }
func (fg *FloatGrid) Len() int                { return len(fg.values) }
func (fg *FloatGrid) Values() []float64       { return fg.values } // row-major, not a copy

func (fg *FloatGrid) Dy() int {
	if fg.stride == 0 {
		return 0
	}
	return len(fg.values) / fg.stride
}

func (fg *FloatGrid) IsEmpty() bool { return len(fg.values) == 0 }

func (g1 *FloatGrid) SameShape(g2 *FloatGrid) bool {
	return g1.Dx() == g2.Dx() && g1.Dy() == g2.Dy()
}

// Accumulate adds g2 into g1, pixel by pixel. They must be the same shape.
func (g1 *FloatGrid) Accumulate(g2 FloatGrid) {
	floats.Add(g1.values, g2.values)
}

func (fg *FloatGrid) AddConst(c float64) {
	floats.AddConst(c, fg.values)
}

// Sum ignores NaNs, like numpy's nansum
func (fg *FloatGrid) Sum() float64 {
	sum := 0.0
	for _, v := range fg.values {
		if !math.IsNaN(v) {
			sum += v
		}
	}
	return sum
}

func (fg *FloatGrid) MinMax() (float64, float64) {
	min := math.MaxFloat64
	max := -1.0 * min
	for _, v := range fg.values {
		if math.IsNaN(v) {
			continue
		}
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	return min, max
}

// sortedFinite returns the non-NaN values, sorted
func (fg *FloatGrid) sortedFinite() []float64 {
	vals := make([]float64, 0, len(fg.values))
	for _, v := range fg.values {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	sort.Float64s(vals)
	return vals
}

// Percentile returns the p'th percentile (p in [0,100]) of the non-NaN
// values, interpolating between the two closest ranks at (n-1)*p/100, the
// same way numpy's percentile does. Returns NaN for an empty grid.
func (fg *FloatGrid) Percentile(p float64) float64 {
	vals := fg.sortedFinite()
	if len(vals) == 0 {
		return math.NaN()
	}
	h := float64(len(vals)-1) * Clamp(p/100.0, 0, 1)
	lo, hi := int(math.Floor(h)), int(math.Ceil(h))
	return vals[lo] + (h-float64(lo))*(vals[hi]-vals[lo])
}

func (fg *FloatGrid) Median() float64 { return fg.Percentile(50) }

func (I *FloatGrid) FindMaxMinAtPercentile(minPrct, maxPrct float64) (float64, float64) {
	vI := []float64{}

	for i := 0; i < len(I.values); i++ {
		if val := I.values[i]; val != 0.0 {
			vI = append(vI, val)
		}
	}
	if len(vI) == 0 {
		return 0, 0
	}

	sort.Float64s(vI)

	iMin := int(minPrct * float64(len(vI)))
	iMax := int(maxPrct * float64(len(vI)))
	if iMin < 0 {
		iMin = 0
	}
	if iMax >= len(vI) {
		iMax = len(vI) - 1
	}

	return vI[iMin], vI[iMax]
}

func (fg *FloatGrid) Stats() string {
	min, max := fg.MinMax()
	return fmt.Sprintf("fg[%dx%d, vals{%f,%f}, sum %f]", fg.Dx(), fg.Dy(), min, max, fg.Sum())
}

// ToImg saves a simple grayscale, based on the range of values in the grid, and gamma scaling the
// gray to look normal for human vision
func (fg *FloatGrid) ToImg(title, filename string) error {
	min, max := fg.FindMaxMinAtPercentile(0.01, 0.99)
	if max <= min {
		min, max = fg.MinMax()
	}

	// Stamps are tiny; blow each pixel up into a block so the PNG is viewable
	zoom := 1
	if fg.Dx() > 0 && fg.Dx() < 256 {
		zoom = 256 / fg.Dx()
	}

	img := image.NewRGBA64(image.Rectangle{Max: image.Point{fg.Dx() * zoom, fg.Dy() * zoom}})
	for x := 0; x < fg.Dx()*zoom; x++ {
		for y := 0; y < fg.Dy()*zoom; y++ {
			lum := 0.0
			if max > min {
				lum = Clamp((fg.Get(x/zoom, y/zoom)-min)/(max-min), 0, 1)
			}
			gray := GammaExpand_F64(lum)
			col := color.RGBA64{uint16(gray * 65535.0), uint16(gray * 65535.0), uint16(gray * 65535.0), 0xFFFF}
			img.Set(x, y, col)
		}
	}

	dc := gg.NewContextForImage(img)
	dc.SetRGB(1, 0.2, 0.2)
	dc.DrawString(title, 2, 12)
	return dc.SavePNG(filename)
}
