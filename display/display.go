// Package display holds the on-screen views of a capture run.  Each view
// keeps an 8-bit rendering of the latest frame handed to it, which the HTTP
// layer serves as jpg or png.
package display

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"sync"
	"time"

	"github.com/disintegration/gift"
	"github.com/nasa-jpl/filtercam/camera"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	// Full is the label of the full resolution view
	Full = "full"

	// Thumb is the label of the annotated thumbnail view
	Thumb = "thumb"

	// ThumbWidth is the width in pixels of the thumbnail
	ThumbWidth = 320
)

var (
	// ErrNoFrame is returned when a view has not been shown any frame
	ErrNoFrame = errors.New("display: no frame has been displayed")
)

// ErrUnknownView is returned when a label does not name a view
type ErrUnknownView struct {
	Label string
}

// Error satisfies stdlib error interface
func (e ErrUnknownView) Error() string {
	return fmt.Sprintf("display: no view named %q", e.Label)
}

// Renderer converts a frame into the image a view shows
type Renderer func(camera.Frame) (image.Image, error)

type view struct {
	render  Renderer
	latest  image.Image
	frames  int
	updated time.Time
}

// Board is a set of labelled views.  It is concurrent safe.
type Board struct {
	mu    sync.RWMutex
	views map[string]*view
}

// NewBoard returns a board with the Full and Thumb views
func NewBoard() *Board {
	b := &Board{views: map[string]*view{}}
	b.Add(Full, Stretch)
	b.Add(Thumb, Thumbnail(ThumbWidth))
	return b
}

// Add adds or replaces a view
func (b *Board) Add(label string, r Renderer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.views[label] = &view{render: r}
}

// Labels returns the labels of the views
func (b *Board) Labels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.views))
	for k := range b.views {
		out = append(out, k)
	}
	return out
}

// Display renders f into the view named label
func (b *Board) Display(label string, f camera.Frame) error {
	b.mu.RLock()
	v, ok := b.views[label]
	b.mu.RUnlock()
	if !ok {
		return ErrUnknownView{Label: label}
	}
	if f.Empty() {
		return ErrNoFrame
	}
	img, err := v.render(f)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v.latest = img
	v.frames++
	v.updated = time.Now()
	return nil
}

// Latest returns the latest rendering of a view and the number of frames
// it has been shown
func (b *Board) Latest(label string) (image.Image, int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.views[label]
	if !ok {
		return nil, 0, ErrUnknownView{Label: label}
	}
	if v.latest == nil {
		return nil, 0, ErrNoFrame
	}
	return v.latest, v.frames, nil
}

// Encode writes the latest rendering of a view to w as "jpg" or "png"
func (b *Board) Encode(w io.Writer, label, format string) error {
	img, _, err := b.Latest(label)
	if err != nil {
		return err
	}
	switch format {
	case "", "jpg", "jpeg":
		return jpeg.Encode(w, img, nil)
	case "png":
		return png.Encode(w, img)
	default:
		return fmt.Errorf("display: unknown image format %q", format)
	}
}

// Stretch maps the frame's min..max linearly onto 0..255
func Stretch(f camera.Frame) (image.Image, error) {
	src := f.Image
	b := src.Bounds()
	var lo, hi uint16 = 0xFFFF, 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := src.Gray16At(x, y).Y
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	span := float64(hi) - float64(lo)
	if span == 0 {
		span = 1
	}
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := float64(src.Gray16At(x, y).Y-lo) / span
			out.SetGray(x, y, color.Gray{Y: uint8(v*255 + 0.5)})
		}
	}
	return out, nil
}

// Thumbnail returns a renderer which stretches the frame, shrinks it to
// width, and labels it with the filter and exposure time
func Thumbnail(width int) Renderer {
	return func(f camera.Frame) (image.Image, error) {
		full, err := Stretch(f)
		if err != nil {
			return nil, err
		}
		w := width
		if fw := full.Bounds().Dx(); fw < w {
			w = fw
		}
		g := gift.New(
			gift.Resize(w, 0, gift.LinearResampling),
			gift.Contrast(10),
		)
		dst := image.NewGray(g.Bounds(full.Bounds()))
		g.Draw(dst, full)
		label := fmt.Sprintf("%s %.3fs", f.Filter, f.Exposure.Seconds())
		annotate(dst, label)
		return dst, nil
	}
}

// annotate draws text in the lower left corner of img
func annotate(img *image.Gray, text string) {
	face := basicfont.Face7x13
	b := img.Bounds()
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Gray{Y: 255}),
		Face: face,
		Dot:  fixed.P(b.Min.X+2, b.Max.Y-face.Descent-1),
	}
	d.DrawString(text)
}
