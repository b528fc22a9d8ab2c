package display

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/nasa-jpl/filtercam/camera"
)

func ramp(w, h int) camera.Frame {
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16(1000 + x*10)})
		}
	}
	return camera.Frame{Image: img, Filter: "Green", Exposure: 250 * time.Millisecond}
}

func TestStretchUsesFullRange(t *testing.T) {
	img, err := Stretch(ramp(64, 4))
	if err != nil {
		t.Fatal(err)
	}
	g := img.(*image.Gray)
	if lo, hi := g.GrayAt(0, 0).Y, g.GrayAt(63, 0).Y; lo != 0 || hi != 255 {
		t.Errorf("expected 0..255, got %d..%d", lo, hi)
	}
}

func TestThumbnailIsShrunk(t *testing.T) {
	img, err := Thumbnail(32)(ramp(128, 64))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
		t.Errorf("expected 32x16 thumbnail, got %v", b)
	}
}

func TestBoardLatestAndEncode(t *testing.T) {
	b := NewBoard()
	if _, _, err := b.Latest(Full); err != ErrNoFrame {
		t.Errorf("expected ErrNoFrame before any display, got %v", err)
	}
	if err := b.Display("nope", ramp(8, 8)); err == nil {
		t.Error("unknown view accepted a frame")
	}
	for i := 0; i < 2; i++ {
		if err := b.Display(Full, ramp(40, 20)); err != nil {
			t.Fatal(err)
		}
	}
	_, n, err := b.Latest(Full)
	if err != nil || n != 2 {
		t.Errorf("expected 2 frames shown, got %d (%v)", n, err)
	}
	buf := &bytes.Buffer{}
	if err = b.Encode(buf, Full, "png"); err != nil {
		t.Fatal(err)
	}
	dec, err := png.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Bounds().Dx() != 40 {
		t.Errorf("decoded width %d, expected 40", dec.Bounds().Dx())
	}
	if err = b.Encode(buf, Full, "tiff"); err == nil {
		t.Error("unknown format accepted")
	}
}
