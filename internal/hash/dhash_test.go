package hash

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// gradientImage draws a horizontal brightness gradient so every dhash bit is
// deterministic (each pixel strictly darker than its right neighbor).
func gradientImage(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 255 / (w - 1))})
		}
	}
	return img
}

func TestDHashDeterministic(t *testing.T) {
	img := gradientImage(64, 64)

	a, err := DHash(img, 8)
	if err != nil {
		t.Fatalf("DHash failed: %v", err)
	}
	b, err := DHash(img, 8)
	if err != nil {
		t.Fatalf("DHash failed: %v", err)
	}
	if !Equal(a, b) {
		t.Errorf("same image produced different hashes: %s vs %s", a, b)
	}
	if a.Width() != 64 {
		t.Errorf("hash width = %d, want 64", a.Width())
	}
}

func TestDHashGradientIsAllZero(t *testing.T) {
	// Ascending gradient: left pixel never brighter than right neighbor.
	f, err := DHash(gradientImage(64, 64), 8)
	if err != nil {
		t.Fatalf("DHash failed: %v", err)
	}
	d, err := Distance(f, mustParse(t, "0000000000000000", 64))
	if err != nil {
		t.Fatalf("Distance failed: %v", err)
	}
	if d != 0 {
		t.Errorf("ascending gradient hash = %s, want all-zero", f)
	}
}

func TestDHashSizesAreIncomparable(t *testing.T) {
	img := gradientImage(64, 64)
	small, err := DHash(img, 8)
	if err != nil {
		t.Fatalf("DHash(8) failed: %v", err)
	}
	large, err := DHash(img, 16)
	if err != nil {
		t.Fatalf("DHash(16) failed: %v", err)
	}
	if _, err := Distance(small, large); !errors.Is(err, ErrIncompatibleWidth) {
		t.Errorf("expected ErrIncompatibleWidth, got %v", err)
	}
}

func TestDHashBytes(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradientImage(32, 32)); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}

	f, err := DHashBytes(buf.Bytes(), 8)
	if err != nil {
		t.Fatalf("DHashBytes failed: %v", err)
	}
	if f.Width() != 64 {
		t.Errorf("hash width = %d, want 64", f.Width())
	}
}

func TestDHashBytesUnreadable(t *testing.T) {
	_, err := DHashBytes([]byte("definitely not an image"), 8)
	if !errors.Is(err, ErrUnreadableImage) {
		t.Errorf("expected ErrUnreadableImage, got %v", err)
	}
}

func TestDHashRejectsTinySize(t *testing.T) {
	if _, err := DHash(gradientImage(8, 8), 1); err == nil {
		t.Error("expected error for hash size 1")
	}
}
