package processor

import (
	"math"

	"github.com/nci/composite/utils"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// RasterStats computes Stats over the non missing pixels of r.  An
// empty raster yields zero statistics.
func RasterStats(r *utils.Float32Raster) Stats {
	values := make([]float64, 0, len(r.Data))
	for _, v := range r.Data {
		if !r.IsMissing(v) {
			values = append(values, float64(v))
		}
	}
	if len(values) == 0 || len(r.Data) == 0 {
		return Stats{}
	}

	s := Stats{
		ValidFraction: float64(len(values)) / float64(len(r.Data)),
		Min:           floats.Min(values),
		Max:           floats.Max(values),
	}
	if len(values) == 1 {
		s.Mean = values[0]
		return s
	}
	mean, std := stat.MeanStdDev(values, nil)
	s.Mean = nanToZero(mean)
	s.StdDev = nanToZero(std)
	return s
}

// Stats summarises the valid pixels of a raster.
type Stats struct {
	ValidFraction float64
	Mean          float64
	StdDev        float64
	Min           float64
	Max           float64
}

func nanToZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
