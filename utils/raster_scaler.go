package utils

import (
	"fmt"
)

type ScaleParams struct {
	Offset float64
	Scale  float64
	Clip   float64
}

// scale maps a raster onto bytes: (value+Offset)*Scale clamped to
// [0, Clip], with Clip stretched to 254.  A zero Scale stretches
// [-Offset, Clip-Offset] over the byte range.  Missing pixels become
// 0xFF.
func scale(r Raster, params ScaleParams) (*ByteRaster, error) {
	clip := params.Clip
	if clip <= 0 {
		clip = 254
	}
	factor := params.Scale
	if factor == 0 {
		factor = 1
	}

	switch t := r.(type) {
	case *Float32Raster:
		out := &ByteRaster{NoData: 0xFF, Data: make([]uint8, t.Height*t.Width), Width: t.Width, Height: t.Height, NameSpace: t.NameSpace}
		for i, value := range t.Data {
			if t.IsMissing(value) {
				out.Data[i] = 0xFF
				continue
			}
			v := (float64(value) + params.Offset) * factor
			if v > clip {
				v = clip
			} else if v < 0 {
				v = 0
			}
			out.Data[i] = uint8(v * 254.0 / clip)
		}
		return out, nil

	case *Int16Raster:
		out := &ByteRaster{NoData: 0xFF, Data: make([]uint8, t.Height*t.Width), Width: t.Width, Height: t.Height, NameSpace: t.NameSpace}
		noData := int16(t.NoData)
		for i, value := range t.Data {
			if value == noData {
				out.Data[i] = 0xFF
				continue
			}
			v := (float64(value) + params.Offset) * factor
			if v > clip {
				v = clip
			} else if v < 0 {
				v = 0
			}
			out.Data[i] = uint8(v * 254.0 / clip)
		}
		return out, nil

	default:
		return &ByteRaster{}, fmt.Errorf("Raster type not implemented")
	}
}

func Scale(rs []Raster, params ScaleParams) ([]*ByteRaster, error) {
	out := make([]*ByteRaster, len(rs))

	for i, r := range rs {
		br, err := scale(r, params)
		if err != nil {
			return out, err
		}
		out[i] = br
	}

	return out, nil
}
