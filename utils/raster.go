package utils

import "math"

type Raster interface {
	GetNoData() float64
}

type ByteRaster struct {
	Data          []uint8
	Height, Width int
	NoData        float64
	NameSpace     string
}

func (br *ByteRaster) GetNoData() float64 {
	return br.NoData
}

type UInt16Raster struct {
	Data          []uint16
	Height, Width int
	NoData        float64
	NameSpace     string
}

func (u16 *UInt16Raster) GetNoData() float64 {
	return u16.NoData
}

type Int16Raster struct {
	Data          []int16
	Height, Width int
	NoData        float64
	NameSpace     string
}

func (s16 *Int16Raster) GetNoData() float64 {
	return s16.NoData
}

// Float32Raster uses NaN as its missing value unless NoData says
// otherwise.
type Float32Raster struct {
	Data          []float32
	Height, Width int
	NoData        float64
	NameSpace     string
}

func (f32 *Float32Raster) GetNoData() float64 {
	return f32.NoData
}

// NewFloat32Raster returns a width x height raster with every pixel
// missing.
func NewFloat32Raster(nameSpace string, width, height int) *Float32Raster {
	data := make([]float32, width*height)
	nan := float32(math.NaN())
	for i := range data {
		data[i] = nan
	}
	return &Float32Raster{Data: data, Width: width, Height: height, NoData: math.NaN(), NameSpace: nameSpace}
}

// IsMissing reports whether v is the missing value of the raster.
func (f32 *Float32Raster) IsMissing(v float32) bool {
	if math.IsNaN(f32.NoData) {
		return v != v
	}
	return v != v || v == float32(f32.NoData)
}

// ValidCount returns the number of non missing pixels.
func (f32 *Float32Raster) ValidCount() int {
	n := 0
	for _, v := range f32.Data {
		if !f32.IsMissing(v) {
			n++
		}
	}
	return n
}
