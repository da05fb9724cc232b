package utils

import (
	"testing"
	"time"
)

func TestSceneQueryMatch(t *testing.T) {
	q := &SceneQuery{
		Collection:    "landsat5_sr",
		Start:         time.Date(1995, 1, 1, 0, 0, 0, 0, time.UTC),
		End:           time.Date(2012, 5, 5, 0, 0, 0, 0, time.UTC),
		DOYStart:      DefaultDOYStart,
		DOYEnd:        DefaultDOYEnd,
		MaxCloudCover: DefaultMaxCloudCover,
		BBox:          []float64{0, 0, 100, 100},
	}

	base := SceneRecord{ID: "LT05_029031_20050715", SensingTime: "2005-07-15T17:05:00Z", CloudCover: 12, BBox: []float64{50, 50, 150, 150}}

	cases := []struct {
		name     string
		mutate   func(r *SceneRecord)
		expected bool
	}{
		{"accepted", func(r *SceneRecord) {}, true},
		{"outside region", func(r *SceneRecord) { r.BBox = []float64{200, 200, 300, 300} }, false},
		{"before start", func(r *SceneRecord) { r.SensingTime = "1994-07-15T17:05:00Z" }, false},
		{"end is exclusive", func(r *SceneRecord) { r.SensingTime = "2012-05-05T00:00:00Z" }, false},
		{"winter", func(r *SceneRecord) { r.SensingTime = "2005-01-15T17:05:00Z" }, false},
		{"first day of window", func(r *SceneRecord) { r.SensingTime = "2005-05-01T00:00:00Z" }, true},
		{"cloudy", func(r *SceneRecord) { r.CloudCover = 80 }, false},
		{"almost cloudy", func(r *SceneRecord) { r.CloudCover = 79.9 }, true},
		{"bad time", func(r *SceneRecord) { r.SensingTime = "July 2005" }, false},
	}
	for _, c := range cases {
		r := base
		c.mutate(&r)
		ok, reason := q.Match(&r)
		if ok != c.expected {
			t.Errorf("%s: expected %v, actual %v (%s)", c.name, c.expected, ok, reason)
		}
	}
}

func TestSceneRecordBand(t *testing.T) {
	r := &SceneRecord{ID: "s", Bands: []BandInfo{{Name: "sr_band1", File: "sr_band1.raw", DataType: TypeInt16}}}
	b, err := r.Band("sr_band1")
	if err != nil || b.File != "sr_band1.raw" {
		t.Errorf("unexpected band %v %v", b, err)
	}
	if _, err = r.Band("sr_band2"); err == nil {
		t.Errorf("expected an error for a missing band")
	}
}
