package hash

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	// Register the common decoders the chat platform serves.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUnreadableImage is returned when image bytes cannot be decoded. Callers
// treat this as a per-item skip, never a fatal error.
var ErrUnreadableImage = errors.New("unreadable image")

// DHash computes a difference hash of the image: the image is downscaled to
// (hashSize+1) x hashSize grayscale and each bit records whether a pixel is
// brighter than its right neighbor. The result has hashSize*hashSize bits.
//
// Two hashes are only comparable when computed with the same hashSize.
func DHash(img image.Image, hashSize int) (Fingerprint, error) {
	if hashSize < 2 {
		return Fingerprint{}, fmt.Errorf("hash size must be at least 2 (got %d)", hashSize)
	}

	w, h := hashSize+1, hashSize
	scaled := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)

	f, err := NewFingerprint(hashSize * hashSize)
	if err != nil {
		return Fingerprint{}, err
	}
	for y := 0; y < h; y++ {
		for x := 0; x < hashSize; x++ {
			left := scaled.GrayAt(x, y).Y
			right := scaled.GrayAt(x+1, y).Y
			if left > right {
				f.setBit(y*hashSize + x)
			}
		}
	}
	return f, nil
}

// DHashBytes decodes image bytes and computes their difference hash. Decode
// failures are reported as ErrUnreadableImage.
func DHashBytes(data []byte, hashSize int) (Fingerprint, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	return DHash(img, hashSize)
}
