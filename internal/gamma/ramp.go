// Package gamma builds gamma ramp tables and hands them to the compositor
// as anonymous, descriptor-addressable files.
package gamma

import (
	"math"

	"codeberg.org/mutker/waysn/internal/colortemp"
)

// DefaultGamma is the neutral gamma exponent.
const DefaultGamma = 1.0

// Expand widens an 8-bit channel value to 16 bits by byte duplication, so
// 0xff maps to 0xffff.
func Expand(v uint8) uint16 {
	return uint16(v) | uint16(v)<<8
}

// Build returns a ramp table of 3*size entries: red in [0,size), green in
// [size,2*size) and blue in [2*size,3*size). Each entry is
// round(channel16 * (i/(size-1))^gamma). A single-entry ramp has no slope
// and holds the channel maximum.
func Build(size uint32, rgb colortemp.RGB, gamma float64) []uint16 {
	n := int(size)
	table := make([]uint16, 3*n)
	if n == 0 {
		return table
	}

	channels := [3]float64{
		float64(Expand(rgb.R)),
		float64(Expand(rgb.G)),
		float64(Expand(rgb.B)),
	}

	if n == 1 {
		for c, v := range channels {
			table[c] = uint16(v)
		}
		return table
	}

	last := float64(n - 1)
	for i := 0; i < n; i++ {
		fraction := math.Pow(float64(i)/last, gamma)
		for c, v := range channels {
			table[c*n+i] = uint16(math.Round(v * fraction))
		}
	}

	return table
}
