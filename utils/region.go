package utils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math"

	geo "github.com/nci/geometry"
)

// Region is the study area.  The polygon is given as a GeoJSON
// Feature, either inline or in a file, in the CRS of the grid.
type Region struct {
	Name        string `json:"name"`
	GeoJSON     string `json:"geojson"`
	GeoJSONFile string `json:"geojson_file"`

	WKT  string    `json:"-"`
	BBox []float64 `json:"-"`
	// Polygons holds the rings of every polygon, outer ring first.
	Polygons [][][][]float64 `json:"-"`
}

// Resolve parses the region feature and computes its WKT and bounding
// box.
func (r *Region) Resolve() error {
	raw := []byte(r.GeoJSON)
	if len(raw) == 0 {
		if len(r.GeoJSONFile) == 0 {
			return fmt.Errorf("region %s: either geojson or geojson_file is required", r.Name)
		}
		var err error
		raw, err = ioutil.ReadFile(r.GeoJSONFile)
		if err != nil {
			return fmt.Errorf("region %s: %v", r.Name, err)
		}
	}

	var feat geo.Feature
	err := json.Unmarshal(raw, &feat)
	if err != nil {
		return fmt.Errorf("Problem unmarshalling GeoJSON object: %v", err)
	}
	if feat.Geometry == nil {
		return fmt.Errorf("region %s: feature has no geometry", r.Name)
	}

	switch g := feat.Geometry.(type) {
	case *geo.Polygon:
		r.Polygons = [][][][]float64{g.AsArray()}
	case *geo.MultiPolygon:
		r.Polygons = g.AsArray()
	default:
		return fmt.Errorf("region %s: geometry not supported. Only Polygon or MultiPolygon are available", r.Name)
	}

	r.WKT = feat.Geometry.MarshalWKT()

	geomJSON, err := json.Marshal(feat.Geometry)
	if err != nil {
		return fmt.Errorf("Problem marshaling GeoJSON geometry: %v", err)
	}
	r.BBox, err = GeoJSONBBox(geomJSON)
	if err != nil {
		return fmt.Errorf("region %s: %v", r.Name, err)
	}
	return nil
}

// GeoJSONBBox computes xMin, yMin, xMax, yMax over every position of a
// GeoJSON geometry.
func GeoJSONBBox(geomJSON []byte) ([]float64, error) {
	var geom struct {
		Type        string      `json:"type"`
		Coordinates interface{} `json:"coordinates"`
	}
	if err := json.Unmarshal(geomJSON, &geom); err != nil {
		return nil, err
	}

	bbox := []float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	var walk func(v interface{}) error
	walk = func(v interface{}) error {
		arr, ok := v.([]interface{})
		if !ok {
			return fmt.Errorf("unexpected coordinate value %v", v)
		}
		if len(arr) >= 2 {
			x, xok := arr[0].(float64)
			y, yok := arr[1].(float64)
			if xok && yok {
				bbox[0] = math.Min(bbox[0], x)
				bbox[1] = math.Min(bbox[1], y)
				bbox[2] = math.Max(bbox[2], x)
				bbox[3] = math.Max(bbox[3], y)
				return nil
			}
		}
		for _, child := range arr {
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(geom.Coordinates); err != nil {
		return nil, err
	}
	if math.IsInf(bbox[0], 1) {
		return nil, fmt.Errorf("%s geometry has no coordinates", geom.Type)
	}
	return bbox, nil
}

// Contains reports whether (x, y) lies inside the region.  Rings
// follow the even-odd rule, so holes are excluded.
func (r *Region) Contains(x, y float64) bool {
	for _, poly := range r.Polygons {
		inside := false
		for _, ring := range poly {
			if ringContains(ring, x, y) {
				inside = !inside
			}
		}
		if inside {
			return true
		}
	}
	return false
}

func ringContains(ring [][]float64, x, y float64) bool {
	in := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			in = !in
		}
	}
	return in
}

func BBox2WKT(bbox []float64) string {
	// BBox xMin, yMin, xMax, yMax
	return fmt.Sprintf("POLYGON ((%f %f, %f %f, %f %f, %f %f, %f %f))", bbox[0], bbox[1], bbox[2], bbox[1], bbox[2], bbox[3], bbox[0], bbox[3], bbox[0], bbox[1])
}

// BBoxIntersects reports whether two xMin, yMin, xMax, yMax boxes
// overlap.  Touching edges count as an intersection.
func BBoxIntersects(a, b []float64) bool {
	if len(a) != 4 || len(b) != 4 {
		return false
	}
	return a[0] <= b[2] && b[0] <= a[2] && a[1] <= b[3] && b[1] <= a[3]
}
