package processor

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/nci/composite/utils"
)

// testScene builds a scene where every band holds values.
func testScene(id string, year, width, height int, values []float32) *Scene {
	s := &Scene{ID: id, Year: year, Width: width, Height: height, Bands: make(map[string]*utils.Float32Raster)}
	for _, band := range utils.CanonicalBands {
		data := make([]float32, len(values))
		copy(data, values)
		s.Bands[band] = &utils.Float32Raster{Data: data, Width: width, Height: height, NoData: math.NaN(), NameSpace: band}
	}
	return s
}

// ndviScene builds a scene whose NDVI equals ndvi at every pixel, NaN
// entries leave the pixel masked.
func ndviScene(id string, year int, ndvi []float64) *Scene {
	n := len(ndvi)
	values := make([]float32, n)
	s := testScene(id, year, n, 1, values)
	nan := float32(math.NaN())
	for i, v := range ndvi {
		if math.IsNaN(v) {
			for _, band := range utils.CanonicalBands {
				s.Bands[band].Data[i] = nan
			}
			continue
		}
		// nir = 1 + v, red = 1 - v gives (nir - red) / (nir + red) = v
		s.Bands["nir"].Data[i] = float32(1 + v)
		s.Bands["red"].Data[i] = float32(1 - v)
	}
	return s
}

func TestMedianComposite(t *testing.T) {
	nan := float32(math.NaN())
	scenes := []*Scene{
		testScene("a", 2000, 4, 1, []float32{0.1, 0.1, 0.5, nan}),
		testScene("b", 2000, 4, 1, []float32{0.3, 0.4, nan, nan}),
		testScene("c", 2000, 4, 1, []float32{0.2, nan, nan, nan}),
		testScene("d", 2000, 4, 1, []float32{0.9, nan, nan, nan}),
		testScene("e", 2000, 4, 1, []float32{0.05, nan, nan, nan}),
	}

	comp, err := MedianComposite(2000, scenes, 4, 1)
	if err != nil {
		t.Fatal(err)
	}
	if comp.Year != 2000 || comp.NumScenes != 5 || comp.Method != utils.MethodMedian {
		t.Errorf("unexpected composite header %+v", comp)
	}
	if len(comp.Bands) != len(utils.CanonicalBands) {
		t.Fatalf("expected %d bands, actual %d", len(utils.CanonicalBands), len(comp.Bands))
	}

	for _, band := range utils.CanonicalBands {
		r := comp.Band(band)
		// odd count: 0.05 0.1 0.2 0.3 0.9
		if r.Data[0] != 0.2 {
			t.Errorf("%s: expected odd median 0.2, actual %v", band, r.Data[0])
		}
		// even count: average of 0.1 and 0.4
		if !approxEqual(float64(r.Data[1]), 0.25) {
			t.Errorf("%s: expected even median 0.25, actual %v", band, r.Data[1])
		}
		if r.Data[2] != 0.5 {
			t.Errorf("%s: expected single value 0.5, actual %v", band, r.Data[2])
		}
		if !isNaN32(r.Data[3]) {
			t.Errorf("%s: expected missing pixel, actual %v", band, r.Data[3])
		}
	}

	scenes[1] = testScene("b", 2000, 2, 2, []float32{0.3, 0.4, 0.1, 0.1})
	if _, err = MedianComposite(2000, scenes, 4, 1); err == nil {
		t.Errorf("expected an error for a scene of another size")
	}
}

func TestMaxIndexComposite(t *testing.T) {
	ic, err := NewIndexCalculator(utils.IndexConfig{})
	if err != nil {
		t.Fatal(err)
	}

	nan := math.NaN()
	scenes := []*Scene{
		ndviScene("a", 2004, []float64{0.3, -0.5, nan, 0.2}),
		ndviScene("b", 2004, []float64{0.7, -0.9, nan, nan}),
	}

	comp, err := MaxIndexComposite(2004, scenes, ic, 4, 1)
	if err != nil {
		t.Fatal(err)
	}
	if comp.Variable != "NDVI" || len(comp.BandNames) != 1 || comp.BandNames[0] != "NDVI" {
		t.Errorf("unexpected composite bands %v %s", comp.BandNames, comp.Variable)
	}

	out := comp.Band("NDVI")
	expected := []float64{0.7, -0.5, nan, 0.2}
	for i, e := range expected {
		v := float64(out.Data[i])
		if math.IsNaN(e) {
			if !math.IsNaN(v) {
				t.Errorf("pixel %d: expected missing, actual %v", i, v)
			}
			continue
		}
		if !approxEqual(v, e) {
			t.Errorf("pixel %d: expected %v, actual %v", i, e, v)
		}
	}
}

func TestEmptyYearComposite(t *testing.T) {
	ic, err := NewIndexCalculator(utils.IndexConfig{})
	if err != nil {
		t.Fatal(err)
	}

	comp, err := MaxIndexComposite(1996, nil, ic, 3, 2)
	if err != nil {
		t.Fatalf("empty year should not fail: %v", err)
	}
	if comp.Year != 1996 || comp.NumScenes != 0 {
		t.Errorf("unexpected composite header %+v", comp)
	}
	if n := comp.Bands[0].ValidCount(); n != 0 || len(comp.Bands[0].Data) != 6 {
		t.Errorf("expected 6 missing pixels, actual %d valid of %d", n, len(comp.Bands[0].Data))
	}

	comp, err = MedianComposite(1996, nil, 3, 2)
	if err != nil {
		t.Fatalf("empty year should not fail: %v", err)
	}
	for i, r := range comp.Bands {
		if r.ValidCount() != 0 {
			t.Errorf("band %s: expected all pixels missing", comp.BandNames[i])
		}
	}
}

func TestCompositeMergerStage(t *testing.T) {
	cfg := testConfig(t)
	ic, err := NewIndexCalculator(cfg.Composite.Index)
	if err != nil {
		t.Fatal(err)
	}

	grid := utils.Grid{Width: 2, Height: 1}
	for _, method := range []string{utils.MethodMaxIndex, utils.MethodMedian} {
		errChan := make(chan error, 10)
		cm := NewCompositeMerger(context.Background(), method, ic, grid, 2, testLogger, errChan)
		go cm.Run()

		for year := 2000; year <= 2004; year++ {
			cm.In <- yearStream(year, ndviScene("s", year, []float64{0.1, 0.2}))
		}
		cm.In <- yearStream(2005)
		close(cm.In)

		year := 2000
		for comp := range cm.Out {
			if comp.Year != year {
				t.Errorf("%s: expected year %d, actual %d", method, year, comp.Year)
			}
			index := comp.Band("NDVI")
			if index == nil {
				t.Fatalf("%s: composite without NDVI band", method)
			}
			if year < 2005 && !approxEqual(float64(index.Data[1]), 0.2) {
				t.Errorf("%s: expected NDVI 0.2, actual %v", method, index.Data[1])
			}
			if year == 2005 && index.ValidCount() != 0 {
				t.Errorf("%s: expected an empty composite for 2005", method)
			}
			year++
		}
		if year != 2006 {
			t.Errorf("%s: expected 6 composites, actual %d", method, year-2000)
		}

		select {
		case err := <-errChan:
			t.Errorf("%s: unexpected error %v", method, err)
		default:
		}
	}
}

func TestCompositeMergerFailure(t *testing.T) {
	cfg := testConfig(t)
	ic, err := NewIndexCalculator(cfg.Composite.Index)
	if err != nil {
		t.Fatal(err)
	}

	errChan := make(chan error, 10)
	cm := NewCompositeMerger(context.Background(), utils.MethodMaxIndex, ic, utils.Grid{Width: 2, Height: 1}, 1, testLogger, errChan)
	go cm.Run()

	cm.In <- yearStream(2000, ndviScene("a", 2000, []float64{0.1, 0.2}))
	cm.In <- yearStream(2001, ndviScene("b", 2001, []float64{0.1, 0.2, 0.3}))
	cm.In <- yearStream(2002, ndviScene("c", 2002, []float64{0.1, 0.2}))
	close(cm.In)

	for comp := range cm.Out {
		if comp.Year != 2000 {
			t.Errorf("expected no composite after the failed year, actual %d", comp.Year)
		}
	}
	select {
	case err := <-errChan:
		if !strings.Contains(err.Error(), "composite 2001") {
			t.Errorf("unexpected error %v", err)
		}
	default:
		t.Errorf("expected an error for a scene of another size")
	}
}

func TestMaxIndexAccumulator(t *testing.T) {
	ic, err := NewIndexCalculator(utils.IndexConfig{})
	if err != nil {
		t.Fatal(err)
	}

	acc := NewMaxIndexAccumulator(2004, ic, 2, 1)
	for _, ndvi := range [][]float64{{0.3, -0.5}, {0.7, -0.9}, {0.1, math.NaN()}} {
		if err := acc.Add(ndviScene("s", 2004, ndvi)); err != nil {
			t.Fatal(err)
		}
	}
	comp, err := acc.Composite()
	if err != nil {
		t.Fatal(err)
	}
	if comp.NumScenes != 3 {
		t.Errorf("expected 3 scenes, actual %d", comp.NumScenes)
	}
	out := comp.Band("NDVI")
	if !approxEqual(float64(out.Data[0]), 0.7) || !approxEqual(float64(out.Data[1]), -0.5) {
		t.Errorf("unexpected running maximum %v", out.Data)
	}
	if err := acc.Add(ndviScene("wide", 2004, []float64{0.1, 0.2, 0.3})); err == nil {
		t.Errorf("expected an error for a scene of another size")
	}
}

func TestRasterStats(t *testing.T) {
	nan := float32(math.NaN())
	s := RasterStats(&utils.Float32Raster{Data: []float32{0.2, 0.4, nan, nan}, NoData: math.NaN()})
	if s.ValidFraction != 0.5 || !approxEqual(s.Mean, 0.3) || !approxEqual(s.Min, 0.2) || !approxEqual(s.Max, 0.4) {
		t.Errorf("unexpected stats %+v", s)
	}
	if s.StdDev <= 0 {
		t.Errorf("expected a positive standard deviation, actual %v", s.StdDev)
	}

	s = RasterStats(utils.NewFloat32Raster("empty", 2, 2))
	if s != (Stats{}) {
		t.Errorf("expected zero stats, actual %+v", s)
	}
}
