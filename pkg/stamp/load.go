// Package stamp moves pixel stamps between files and FloatGrids: a time
// series of TIFF cutouts in, and model/residual frames out.
package stamp

import (
	"fmt"
	"image"
	"image/color"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/tiff"

	"github.com/abworrall/prfphot/pkg/emath"
)

// A Frame is one cadence: the photon counts on a stamp, and when they
// were taken (zero if the file didn't say).
type Frame struct {
	Filename string
	Time     time.Time
	Counts   emath.FloatGrid
}

func (f Frame) String() string {
	return fmt.Sprintf("%s [%s] %s", filepath.Base(f.Filename), f.Time.Format(time.RFC3339), f.Counts.Stats())
}

// A Sequence is a time series of frames.
type Sequence struct {
	Frames []Frame
}

// Load reads TIFF files, recursing into any directories. Files that are
// not TIFFs are skipped.
func (s *Sequence) Load(args ...string) error {
	for _, arg := range args {
		item, err := os.Stat(arg)

		switch {
		case err != nil:
			return errors.Wrapf(err, "load %s", arg)

		case item.IsDir():
			// Is a dir, recurse into contents
			contents, err := ioutil.ReadDir(arg)
			if err != nil {
				return errors.Wrapf(err, "readdir %s", arg)
			}
			for _, content := range contents {
				if err := s.Load(filepath.Join(arg, content.Name())); err != nil {
					return err
				}
			}

		default:
			if err := s.LoadFile(arg); err != nil {
				return errors.Wrapf(err, "loadfile %s", arg)
			}
		}
	}

	return nil
}

func (s *Sequence) LoadFile(filename string) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".tif", ".tiff":
		f, err := LoadTIFF(filename)
		if err != nil {
			return err
		}
		s.Frames = append(s.Frames, f)
	default:
		logrus.Debugf("skipping %s", filename)
	}
	return nil
}

// Sort puts the frames in time order, falling back to the filename for
// frames taken at the same time (or with no timestamp at all).
func (s *Sequence) Sort() {
	sort.SliceStable(s.Frames, func(i, j int) bool {
		a, b := s.Frames[i], s.Frames[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.Filename < b.Filename
	})
}

func (s *Sequence) Grids() []emath.FloatGrid {
	out := make([]emath.FloatGrid, len(s.Frames))
	for i, f := range s.Frames {
		out[i] = f.Counts
	}
	return out
}

func LoadTIFF(filename string) (Frame, error) {
	f := Frame{Filename: filename}

	// EXIF is optional; stamps cut out by other tools often have none.
	if reader, err := os.Open(filename); err != nil {
		return f, errors.Wrapf(err, "open+r exif '%s'", filename)
	} else {
		defer reader.Close()
		if ex, err := exif.Decode(reader); err != nil {
			logrus.Debugf("no exif in '%s': %v", filename, err)
		} else if t, err := ex.DateTime(); err != nil {
			logrus.Debugf("no exif DateTime in '%s': %v", filename, err)
		} else {
			f.Time = t
		}
	}

	// Re-open the file, now for the image data
	reader, err := os.Open(filename)
	if err != nil {
		return f, errors.Wrapf(err, "open+r img '%s'", filename)
	}
	defer reader.Close()
	img, err := tiff.Decode(reader)
	if err != nil {
		return f, errors.Wrapf(err, "tiff loading '%s'", filename)
	}

	f.Counts = ImageToGrid(img)
	return f, nil
}

// ImageToGrid reads the gray level of each pixel as a photon count.
func ImageToGrid(img image.Image) emath.FloatGrid {
	b := img.Bounds()
	fg := emath.NewFloatGrid(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var v uint16
			if g16, ok := img.(*image.Gray16); ok {
				v = g16.Gray16At(x, y).Y
			} else {
				v = color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y
			}
			fg.Set(x-b.Min.X, y-b.Min.Y, float64(v))
		}
	}
	return fg
}
