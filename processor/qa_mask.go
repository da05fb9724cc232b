package processor

import (
	"fmt"

	"github.com/nci/composite/utils"
)

// QAValues returns the quality bitfield of a raster.  Signed and
// float quality bands are reinterpreted bit for bit as 16 bit words.
func QAValues(r utils.Raster) ([]uint16, error) {
	switch t := r.(type) {
	case *utils.UInt16Raster:
		return t.Data, nil
	case *utils.Int16Raster:
		out := make([]uint16, len(t.Data))
		for i, v := range t.Data {
			out[i] = uint16(v)
		}
		return out, nil
	case *utils.ByteRaster:
		out := make([]uint16, len(t.Data))
		for i, v := range t.Data {
			out[i] = uint16(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("quality band of type %T is not supported", r)
	}
}

// ComputeMask flags every contaminated pixel of a quality band.
func ComputeMask(mask *utils.CompiledMask, qa []uint16) []bool {
	out := make([]bool, len(qa))
	for i, v := range qa {
		out[i] = mask.Contaminated(v)
	}
	return out
}

// DilateMask grows the contaminated pixels of a width x height mask by
// radius pixels in every direction, diagonals included, so a pixel is
// only left clear when its whole (2*radius+1)^2 window is clear.
// Window positions outside the grid count as clear.
func DilateMask(mask []bool, width, height, radius int) []bool {
	if radius <= 0 {
		out := make([]bool, len(mask))
		copy(out, mask)
		return out
	}

	// The square window is separable: dilate rows, then columns.
	rows := make([]bool, len(mask))
	for y := 0; y < height; y++ {
		line := mask[y*width : (y+1)*width]
		for x := 0; x < width; x++ {
			x0, x1 := clampWindow(x, radius, width)
			for k := x0; k <= x1; k++ {
				if line[k] {
					rows[y*width+x] = true
					break
				}
			}
		}
	}

	out := make([]bool, len(mask))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			y0, y1 := clampWindow(y, radius, height)
			for k := y0; k <= y1; k++ {
				if rows[k*width+x] {
					out[y*width+x] = true
					break
				}
			}
		}
	}
	return out
}

func clampWindow(c, radius, size int) (int, int) {
	lo, hi := c-radius, c+radius
	if lo < 0 {
		lo = 0
	}
	if hi > size-1 {
		hi = size - 1
	}
	return lo, hi
}
