package hash

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// ErrIncompatibleWidth is returned when two fingerprints of different bit
// widths are compared. Callers are expected to filter candidates by width
// before comparing; this error exists so a missed filter surfaces loudly
// instead of producing a bogus distance.
var ErrIncompatibleWidth = errors.New("fingerprints have incompatible bit widths")

// Fingerprint is a fixed-width perceptual hash of an image. The width is
// fixed at creation time (hashSize*hashSize bits for a dhash) and never
// changes; fingerprints of different widths are incomparable.
type Fingerprint struct {
	words []uint64
	width int // number of significant bits
}

// NewFingerprint creates a zeroed fingerprint of the given bit width.
func NewFingerprint(width int) (Fingerprint, error) {
	if width <= 0 {
		return Fingerprint{}, fmt.Errorf("fingerprint width must be positive (got %d)", width)
	}
	return Fingerprint{
		words: make([]uint64, (width+63)/64),
		width: width,
	}, nil
}

// Width returns the number of significant bits in the fingerprint.
func (f Fingerprint) Width() int {
	return f.width
}

// IsZero reports whether the fingerprint is the zero value (no width).
func (f Fingerprint) IsZero() bool {
	return f.width == 0
}

// setBit sets bit i (0 = most significant bit of the hex form, matching the
// row-major bit order the legacy imagehash files use).
func (f Fingerprint) setBit(i int) {
	// Bit 0 is the high bit of the first nibble group so that the hex
	// encoding reads in row-major order.
	pos := f.width - 1 - i
	f.words[pos/64] |= 1 << (pos % 64)
}

// Bit returns bit i in the same order setBit uses.
func (f Fingerprint) Bit(i int) bool {
	pos := f.width - 1 - i
	return f.words[pos/64]&(1<<(pos%64)) != 0
}

// Distance returns the Hamming distance between two fingerprints. It is
// symmetric and zero iff the fingerprints are bit-identical. Comparing
// fingerprints of different widths fails with ErrIncompatibleWidth.
func Distance(a, b Fingerprint) (int, error) {
	if a.width != b.width {
		return 0, fmt.Errorf("%w: %d vs %d bits", ErrIncompatibleWidth, a.width, b.width)
	}
	d := 0
	for i := range a.words {
		d += bits.OnesCount64(a.words[i] ^ b.words[i])
	}
	return d, nil
}

// Equal reports whether two fingerprints have the same width and bits.
func Equal(a, b Fingerprint) bool {
	if a.width != b.width {
		return false
	}
	for i := range a.words {
		if a.words[i] != b.words[i] {
			return false
		}
	}
	return true
}

// String returns the lowercase hex encoding of the fingerprint. The encoding
// is compatible with the hex form the legacy hash databases store: row-major
// bits, most significant nibble first, zero-padded to width/4 characters.
func (f Fingerprint) String() string {
	if f.width == 0 {
		return ""
	}
	nibbles := (f.width + 3) / 4
	var sb strings.Builder
	sb.Grow(nibbles)
	for n := 0; n < nibbles; n++ {
		var v byte
		for j := 0; j < 4; j++ {
			i := n*4 + j
			v <<= 1
			if i < f.width && f.Bit(i) {
				v |= 1
			}
		}
		sb.WriteByte("0123456789abcdef"[v])
	}
	return sb.String()
}

// Parse decodes a hex-encoded fingerprint of the given bit width. The hex
// string must have exactly width/4 characters (the legacy files always store
// square hashes, so width is a multiple of 4 in practice).
func Parse(hexStr string, width int) (Fingerprint, error) {
	f, err := NewFingerprint(width)
	if err != nil {
		return Fingerprint{}, err
	}
	nibbles := (width + 3) / 4
	if len(hexStr) != nibbles {
		return Fingerprint{}, fmt.Errorf("hex fingerprint has %d characters, want %d for %d bits", len(hexStr), nibbles, width)
	}
	for n := 0; n < nibbles; n++ {
		c := hexStr[n]
		var v byte
		switch {
		case c >= '0' && c <= '9':
			v = c - '0'
		case c >= 'a' && c <= 'f':
			v = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v = c - 'A' + 10
		default:
			return Fingerprint{}, fmt.Errorf("invalid hex character %q in fingerprint", c)
		}
		for j := 0; j < 4; j++ {
			i := n*4 + j
			if i >= width {
				break
			}
			if v&(1<<(3-j)) != 0 {
				f.setBit(i)
			}
		}
	}
	return f, nil
}
