package utils

import (
	"fmt"
	"image/color"
)

// Palette is a colour ramp for quicklooks.  With Interpolate set the
// ramp is a gradient through Colours, otherwise Colours are equally
// sized steps.
type Palette struct {
	Interpolate bool         `json:"interpolate"`
	Colours     []color.RGBA `json:"colours"`
}

// NDVIPalette runs from bare soil brown to dense vegetation green.
var NDVIPalette = &Palette{
	Interpolate: true,
	Colours: []color.RGBA{
		{R: 140, G: 81, B: 10, A: 255},
		{R: 246, G: 232, B: 195, A: 255},
		{R: 199, G: 234, B: 229, A: 255},
		{R: 90, G: 180, B: 172, A: 255},
		{R: 1, G: 102, B: 94, A: 255},
		{R: 0, G: 68, B: 27, A: 255},
	},
}

// InterpolateUint8 interpolates the value of a
// byte between two numbers 'a' and 'b' by
// especifying a length and a position 'i'
// along that length.
func InterpolateUint8(a, b uint8, i, sectionLength int) uint8 {
	return uint8(int(a) + i*(int(b)-int(a))/sectionLength)
}

// InterpolateColor returns an RGBA color where
// the R, G, B, and A components have been
// interpolated from the 'a' and 'b' colors
func InterpolateColor(a, b color.RGBA, i, sectionLength int) color.RGBA {
	return color.RGBA{InterpolateUint8(a.R, b.R, i, sectionLength),
		InterpolateUint8(a.G, b.G, i, sectionLength),
		InterpolateUint8(a.B, b.B, i, sectionLength),
		255}
}

// GradientRGBAPalette returns a palette of 256 colors
// creating an interpolation that goes though
// a list of provided colours.
func GradientRGBAPalette(palette *Palette) ([]color.RGBA, error) {
	if palette == nil {
		return nil, nil
	}

	minColours := 1
	if palette.Interpolate {
		minColours = 2
	}
	if len(palette.Colours) < minColours {
		return nil, fmt.Errorf("palette needs at least %d colours, got %d", minColours, len(palette.Colours))
	}

	ramp := make([]color.RGBA, 256)

	if palette.Interpolate {
		bins := len(palette.Colours) - 1
		sectionLength := 256 / bins
		bonus := 256 - (sectionLength * bins)
		bonusArr := make([]int, bins)
		for i := 0; i < bonus; i++ {
			bonusArr[i] = 1
		}

		index := 0
		for section, upperColour := range palette.Colours[1:] {
			for i := 0; i < sectionLength+bonusArr[section]; i++ {
				ramp[index] = InterpolateColor(palette.Colours[section], upperColour, i, sectionLength)
				index++
			}
		}
	} else {
		bins := len(palette.Colours)
		sectionLength := 256 / bins
		bonus := 256 - (sectionLength * bins)
		bonusArr := make([]int, bins)
		for i := 0; i < bonus; i++ {
			bonusArr[i] = 1
		}

		index := 0
		for section, colour := range palette.Colours {
			for i := 0; i < sectionLength+bonusArr[section]; i++ {
				ramp[index] = colour
				index++
			}
		}
	}

	return ramp, nil
}
