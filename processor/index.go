package processor

import (
	"fmt"
	"math"

	"github.com/nci/composite/utils"
)

// NormalizedDifference returns (a - b) / (a + b) per pixel.  Pixels
// missing in either input or with a zero denominator are NaN.
func NormalizedDifference(a, b *utils.Float32Raster) (*utils.Float32Raster, error) {
	if len(a.Data) != len(b.Data) {
		return nil, fmt.Errorf("normalized difference of rasters with %d and %d pixels", len(a.Data), len(b.Data))
	}

	out := &utils.Float32Raster{Data: make([]float32, len(a.Data)), Width: a.Width, Height: a.Height, NoData: math.NaN()}
	nan := float32(math.NaN())
	for i := range a.Data {
		va, vb := a.Data[i], b.Data[i]
		if a.IsMissing(va) || b.IsMissing(vb) {
			out.Data[i] = nan
			continue
		}
		sum := float64(va) + float64(vb)
		if sum == 0 {
			out.Data[i] = nan
			continue
		}
		out.Data[i] = float32((float64(va) - float64(vb)) / sum)
	}
	return out, nil
}

// IndexCalculator derives a single band index from canonical bands.
// Without an expression it computes NDVI.
type IndexCalculator struct {
	Name string
	expr *utils.BandExpressions
}

func NewIndexCalculator(cfg utils.IndexConfig) (*IndexCalculator, error) {
	ic := &IndexCalculator{Name: cfg.Name}
	if ic.Name == "" {
		ic.Name = utils.DefaultIndexName
	}
	if cfg.Expression != "" {
		expr, err := utils.ParseBandExpressions([]string{cfg.Expression}, utils.CanonicalBands)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", ic.Name, err)
		}
		ic.expr = expr
	}
	return ic, nil
}

// Compute evaluates the index over bands.  Pixels where a referenced
// band is missing, or where the result is not finite, are NaN.
func (ic *IndexCalculator) Compute(bands map[string]*utils.Float32Raster) (*utils.Float32Raster, error) {
	if ic.expr == nil {
		nir, red := bands["nir"], bands["red"]
		if nir == nil || red == nil {
			return nil, fmt.Errorf("index %s needs nir and red bands", ic.Name)
		}
		out, err := NormalizedDifference(nir, red)
		if err != nil {
			return nil, err
		}
		out.NameSpace = ic.Name
		return out, nil
	}

	vars := ic.expr.ExprVarRef[0]
	inputs := make([]*utils.Float32Raster, len(vars))
	for iv, v := range vars {
		if bands[v] == nil {
			return nil, fmt.Errorf("index %s needs band %s", ic.Name, v)
		}
		inputs[iv] = bands[v]
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("index %s: expression references no band", ic.Name)
	}

	first := inputs[0]
	out := &utils.Float32Raster{Data: make([]float32, len(first.Data)), Width: first.Width, Height: first.Height, NoData: math.NaN(), NameSpace: ic.Name}
	nan := float32(math.NaN())
	params := make(map[string]interface{}, len(vars))
	for i := range out.Data {
		missing := false
		for iv, r := range inputs {
			if i >= len(r.Data) || r.IsMissing(r.Data[i]) {
				missing = true
				break
			}
			params[vars[iv]] = float64(r.Data[i])
		}
		if missing {
			out.Data[i] = nan
			continue
		}

		val, err := ic.expr.EvaluateFloat(0, params)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", ic.Name, err)
		}
		out.Data[i] = float32(val)
	}
	return out, nil
}
