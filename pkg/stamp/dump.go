package stamp

import (
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/mdouchement/hdr/hdrcolor"
	"github.com/pkg/errors"
	"golang.org/x/image/tiff"

	"github.com/abworrall/prfphot/pkg/emath"
)

// GridImage presents a FloatGrid as an hdr.Image, so model and residual
// frames can be written out without being squashed into 16 bits. RGBE
// can't hold negative values, so the sign goes in the channel: positive
// values are red, negative values are blue (as -v), and green is unused.
type GridImage struct {
	Grid emath.FloatGrid
}

func (gi GridImage) ColorModel() color.Model { return hdrcolor.RGBModel }
func (gi GridImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, gi.Grid.Dx(), gi.Grid.Dy())
}
func (gi GridImage) At(x, y int) color.Color { return gi.HDRAt(x, y) }

// Implement hdr.Image
func (gi GridImage) HDRAt(x, y int) hdrcolor.Color {
	v := emath.NanToZero(gi.Grid.Get(x, y))
	return hdrcolor.RGB{R: math.Max(v, 0), G: 0, B: math.Max(-v, 0)}
}
func (gi GridImage) Size() int { return gi.Grid.Len() }

var _ hdr.Image = GridImage{}

func WriteHDR(img hdr.Image, filename string) error {
	writer, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "open+w '%s'", filename)
	}
	defer writer.Close()
	return rgbe.Encode(writer, img)
}

// ReadHDR reads back a frame written by WriteHDR(GridImage{...}). RGBE
// keeps 8 bits of mantissa, so values come back to within about 1%.
func ReadHDR(filename string) (emath.FloatGrid, error) {
	reader, err := os.Open(filename)
	if err != nil {
		return emath.FloatGrid{}, errors.Wrapf(err, "open+r '%s'", filename)
	}
	defer reader.Close()

	img, err := rgbe.Decode(reader)
	if err != nil {
		return emath.FloatGrid{}, errors.Wrapf(err, "hdr loading '%s'", filename)
	}
	himg, ok := img.(hdr.Image)
	if !ok {
		return emath.FloatGrid{}, errors.Errorf("'%s' is not an HDR image", filename)
	}

	b := himg.Bounds()
	fg := emath.NewFloatGrid(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, _, bl, _ := himg.HDRAt(x, y).HDRRGBA()
			fg.Set(x-b.Min.X, y-b.Min.Y, r-bl)
		}
	}
	return fg, nil
}

// GridToGray16 rounds counts into a 16 bit image, clamping anything out
// of range.
func GridToGray16(fg emath.FloatGrid) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, fg.Dx(), fg.Dy()))
	for y := 0; y < fg.Dy(); y++ {
		for x := 0; x < fg.Dx(); x++ {
			v := emath.Clamp(math.Round(emath.NanToZero(fg.Get(x, y))), 0, math.MaxUint16)
			img.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	}
	return img
}

func WriteTIFF(fg emath.FloatGrid, filename string) error {
	writer, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "open+w '%s'", filename)
	}
	defer writer.Close()
	return tiff.Encode(writer, GridToGray16(fg), &tiff.Options{Compression: tiff.Deflate})
}

// Dump writes a frame as both an .hdr (full precision) and a .png (for
// eyeballing), as <dir>/<name>.hdr and <dir>/<name>.png.
func Dump(fg emath.FloatGrid, dir, name string) error {
	base := filepath.Join(dir, name)
	if err := WriteHDR(GridImage{fg}, base+".hdr"); err != nil {
		return err
	}
	return fg.ToImg(name, base+".png")
}
