package utils

import (
	"math"
	"testing"
)

func TestRegionResolve(t *testing.T) {
	r := &Region{Name: "sand_hills", GeoJSONFile: "testdata/region.geojson"}
	if err := r.Resolve(); err != nil {
		t.Fatal(err)
	}

	expected := []float64{500000, 4600000, 530000, 4630000}
	for i := range expected {
		if math.Abs(r.BBox[i]-expected[i]) > 1e-6 {
			t.Fatalf("expected bbox %v, actual %v", expected, r.BBox)
		}
	}
	if len(r.WKT) == 0 {
		t.Errorf("expected a WKT representation")
	}

	r = &Region{Name: "point", GeoJSON: `{"type": "Feature", "geometry": {"type": "Point", "coordinates": [1, 2]}}`}
	if err := r.Resolve(); err == nil {
		t.Errorf("expected an error for a point geometry")
	}

	r = &Region{Name: "empty"}
	if err := r.Resolve(); err == nil {
		t.Errorf("expected an error for a region without geometry")
	}

	r = &Region{Name: "missing", GeoJSONFile: "testdata/does_not_exist.geojson"}
	if err := r.Resolve(); err == nil {
		t.Errorf("expected an error for a missing file")
	}
}

func TestRegionContains(t *testing.T) {
	r := &Region{Name: "holed", GeoJSON: `{"type": "Feature", "geometry": {"type": "MultiPolygon", "coordinates": [
		[[[0, 0], [90, 0], [90, 90], [0, 90], [0, 0]], [[30, 30], [60, 30], [60, 60], [30, 60], [30, 30]]],
		[[[100, 0], [130, 0], [100, 30], [100, 0]]]
	]}}`}
	if err := r.Resolve(); err != nil {
		t.Fatal(err)
	}
	if len(r.Polygons) != 2 || len(r.Polygons[0]) != 2 {
		t.Fatalf("expected 2 polygons, the first with a hole, actual %v", r.Polygons)
	}

	cases := []struct {
		x, y   float64
		inside bool
	}{
		{15, 15, true},
		{45, 45, false},
		{75, 45, true},
		{95, 15, false},
		{105, 5, true},
		{125, 25, false},
		{-1, 45, false},
	}
	for _, tc := range cases {
		if got := r.Contains(tc.x, tc.y); got != tc.inside {
			t.Errorf("(%v, %v): expected inside %v, actual %v", tc.x, tc.y, tc.inside, got)
		}
	}
}

func TestGeoJSONBBox(t *testing.T) {
	bbox, err := GeoJSONBBox([]byte(`{"type": "MultiPolygon", "coordinates": [[[[0, 0], [1, 0], [1, 1], [0, 0]]], [[[-3, 2], [4, 5], [0, 7], [-3, 2]]]]}`))
	if err != nil {
		t.Fatal(err)
	}
	expected := []float64{-3, 0, 4, 7}
	for i := range expected {
		if bbox[i] != expected[i] {
			t.Fatalf("expected %v, actual %v", expected, bbox)
		}
	}

	if _, err = GeoJSONBBox([]byte(`{"type": "Polygon", "coordinates": []}`)); err == nil {
		t.Errorf("expected an error for an empty geometry")
	}
}

func TestBBoxIntersects(t *testing.T) {
	a := []float64{0, 0, 10, 10}
	cases := []struct {
		b        []float64
		expected bool
	}{
		{[]float64{5, 5, 15, 15}, true},
		{[]float64{10, 10, 20, 20}, true},
		{[]float64{11, 0, 20, 10}, false},
		{[]float64{-5, -5, -1, -1}, false},
		{[]float64{2, 2, 3, 3}, true},
		{[]float64{0, 0}, false},
	}
	for _, c := range cases {
		if got := BBoxIntersects(a, c.b); got != c.expected {
			t.Errorf("%v vs %v: expected %v, actual %v", a, c.b, c.expected, got)
		}
	}
}
