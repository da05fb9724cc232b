package mas

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	geo "github.com/nci/geometry"
	"github.com/nci/composite/utils"
)

// Query is an intersects request.  Zero values mean the predicate is
// not applied.
type Query struct {
	Collection string
	Time       time.Time
	Until      time.Time
	DOYStart   int
	DOYEnd     int
	MaxCloud   float64
	BBox       []float64
	WKT        string
}

// ParseQuery reads the intersects parameters of a request.  The
// collection is the request path.  The wkt parameter may come in the
// query string or a form body; its bounding box is used when no bbox
// parameter is given.
func ParseQuery(r *http.Request) (*Query, error) {
	q := &Query{Collection: strings.Trim(r.URL.Path, "/")}
	if len(q.Collection) == 0 {
		return nil, fmt.Errorf("collection is required in the request path")
	}

	var err error
	if v := r.FormValue("time"); len(v) > 0 {
		if q.Time, err = utils.ParseTime(v); err != nil {
			return nil, err
		}
	}
	if v := r.FormValue("until"); len(v) > 0 {
		if q.Until, err = utils.ParseTime(v); err != nil {
			return nil, err
		}
	}

	doyStart, doyEnd := r.FormValue("doy_start"), r.FormValue("doy_end")
	if (len(doyStart) == 0) != (len(doyEnd) == 0) {
		return nil, fmt.Errorf("doy_start and doy_end must be given together")
	}
	if len(doyStart) > 0 {
		if q.DOYStart, err = strconv.Atoi(doyStart); err != nil {
			return nil, fmt.Errorf("invalid doy_start: %v", err)
		}
		if q.DOYEnd, err = strconv.Atoi(doyEnd); err != nil {
			return nil, fmt.Errorf("invalid doy_end: %v", err)
		}
		if q.DOYStart < 1 || q.DOYEnd > 366 || q.DOYStart > q.DOYEnd {
			return nil, fmt.Errorf("invalid day of year window %d-%d", q.DOYStart, q.DOYEnd)
		}
	}

	if v := r.FormValue("max_cloud"); len(v) > 0 {
		if q.MaxCloud, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid max_cloud: %v", err)
		}
	}

	q.WKT = r.FormValue("wkt")
	if v := r.FormValue("bbox"); len(v) > 0 {
		if q.BBox, err = parseBBox(v); err != nil {
			return nil, err
		}
	} else if len(q.WKT) > 0 {
		if q.BBox, err = WKTBBox(q.WKT); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func parseBBox(v string) ([]float64, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values, got %d", len(parts))
	}
	bbox := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox: %v", err)
		}
		bbox[i] = f
	}
	if bbox[0] > bbox[2] || bbox[1] > bbox[3] {
		return nil, fmt.Errorf("invalid bbox %v", bbox)
	}
	return bbox, nil
}

// WKTBBox returns the xMin, yMin, xMax, yMax box of a POLYGON or
// MULTIPOLYGON.
func WKTBBox(wkt string) (bbox []float64, err error) {
	wkt = strings.TrimSpace(wkt)
	// the geometry parsers panic on malformed input
	defer func() {
		if r := recover(); r != nil {
			bbox, err = nil, fmt.Errorf("invalid wkt %q", wkt)
		}
	}()

	var rings [][][]float64
	switch {
	case strings.HasPrefix(wkt, "MULTIPOLYGON"):
		var mp geo.MultiPolygon
		if err = mp.UnmarshalWKT(wkt); err != nil {
			return nil, fmt.Errorf("invalid wkt %q: %v", wkt, err)
		}
		for _, poly := range mp.AsArray() {
			rings = append(rings, poly...)
		}
	case strings.HasPrefix(wkt, "POLYGON"):
		var poly geo.Polygon
		if err = poly.UnmarshalWKT(wkt); err != nil {
			return nil, fmt.Errorf("invalid wkt %q: %v", wkt, err)
		}
		rings = poly.AsArray()
	default:
		return nil, fmt.Errorf("invalid wkt %q: only POLYGON and MULTIPOLYGON are supported", wkt)
	}

	bbox = []float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, ring := range rings {
		for _, pt := range ring {
			x, y := pt[0], pt[1]
			if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
				return nil, fmt.Errorf("invalid wkt %q: coordinates must be finite", wkt)
			}
			bbox[0] = math.Min(bbox[0], x)
			bbox[1] = math.Min(bbox[1], y)
			bbox[2] = math.Max(bbox[2], x)
			bbox[3] = math.Max(bbox[3], y)
		}
	}
	if math.IsInf(bbox[0], 1) {
		return nil, fmt.Errorf("invalid wkt %q: no coordinates", wkt)
	}
	return bbox, nil
}
