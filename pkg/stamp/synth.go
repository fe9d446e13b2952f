package stamp

import (
	"fmt"
	"path/filepath"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/abworrall/prfphot/pkg/emath"
)

// Noisy draws Poisson counts around a model frame.
func Noisy(model emath.FloatGrid) emath.FloatGrid {
	out := model.NewFromThis()
	for i, m := range model.Values() {
		if m > 0 {
			out.Values()[i] = distuv.Poisson{Lambda: m}.Rand()
		}
	}
	return out
}

// WriteSequence writes frames out as numbered TIFFs, in order. The names
// sort the same way the frames do.
func WriteSequence(frames []emath.FloatGrid, dir string) ([]string, error) {
	filenames := []string{}
	for i, fg := range frames {
		filename := filepath.Join(dir, fmt.Sprintf("cadence-%05d.tif", i))
		if err := WriteTIFF(fg, filename); err != nil {
			return filenames, err
		}
		filenames = append(filenames, filename)
	}
	return filenames, nil
}
