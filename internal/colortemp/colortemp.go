// Package colortemp converts a black-body color temperature into an sRGB
// white point, using Tanner Helland's curve fit.
package colortemp

import "math"

const (
	MinKelvin     = 1000
	MaxKelvin     = 40000
	NeutralKelvin = 6600
)

// RGB is an 8-bit per channel color.
type RGB struct {
	R, G, B uint8
}

// FromKelvin returns the white point for the given temperature. Values
// outside [MinKelvin, MaxKelvin] are clamped.
func FromKelvin(kelvin uint32) RGB {
	k := min(max(float64(kelvin), MinKelvin), MaxKelvin)
	t := k / 100

	var r, g, b float64

	if t <= 66 {
		r = 255
		g = 99.4708025861*math.Log(t) - 161.1195681661
	} else {
		r = 329.698727446 * math.Pow(t-60, -0.1332047592)
		g = 288.1221695283 * math.Pow(t-60, -0.0755148492)
	}

	switch {
	case t >= 66:
		b = 255
	case t <= 19:
		b = 0
	default:
		b = 138.5177312231*math.Log(t-10) - 305.0447927307
	}

	return RGB{R: channel(r), G: channel(g), B: channel(b)}
}

func channel(v float64) uint8 {
	return uint8(math.Round(min(max(v, 0), 255)))
}
