package imgrec

import (
	"image"
	"io"

	"github.com/astrogo/fitsio"
)

// WriteFits streams a single 16-bit image as a fits file to w.
// FITS has no unsigned 16-bit type, so the data is written as int16 with
// BZERO=32768
func WriteFits(w io.Writer, metadata []fitsio.Card, img *image.Gray16) error {
	metadata = append(metadata, fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0})
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(16, []int{width, height})
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	ints := make([]int16, 0, width*height)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			// underflow on uint16 produces the wrapping the FITS standard expects
			ints = append(ints, int16(img.Gray16At(x, y).Y-32768))
		}
	}
	err = im.Write(ints)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
