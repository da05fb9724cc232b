package utils

import (
	"fmt"
	"time"
)

// Raw band data types understood by the scene store.
const (
	TypeByte    = "Byte"
	TypeInt16   = "Int16"
	TypeUInt16  = "UInt16"
	TypeFloat32 = "Float32"
)

// BandInfo describes one raw band file of a scene.
type BandInfo struct {
	Name     string   `yaml:"name" json:"name"`
	File     string   `yaml:"file" json:"file"`
	DataType string   `yaml:"data_type" json:"data_type"`
	NoData   *float64 `yaml:"nodata,omitempty" json:"nodata,omitempty"`
}

// SceneRecord is the catalogue record of one scene or auxiliary layer.
// Path is the directory holding scene.yaml and the band files.
type SceneRecord struct {
	ID          string     `yaml:"id" json:"id"`
	Collection  string     `yaml:"collection" json:"collection"`
	Platform    string     `yaml:"platform" json:"platform"`
	SensingTime string     `yaml:"sensing_time" json:"sensing_time"`
	CloudCover  float64    `yaml:"cloud_cover" json:"cloud_cover"`
	CRS         string     `yaml:"crs" json:"crs"`
	BBox        []float64  `yaml:"bbox" json:"bbox"`
	Width       int        `yaml:"width" json:"width"`
	Height      int        `yaml:"height" json:"height"`
	Bands       []BandInfo `yaml:"bands" json:"bands"`
	Path        string     `yaml:"-" json:"path"`
}

// Time parses the sensing time of the record.
func (r *SceneRecord) Time() (time.Time, error) {
	return ParseTime(r.SensingTime)
}

// Band returns the descriptor of a raw band.
func (r *SceneRecord) Band(name string) (*BandInfo, error) {
	for i := range r.Bands {
		if r.Bands[i].Name == name {
			return &r.Bands[i], nil
		}
	}
	return nil, fmt.Errorf("scene %s has no band %s", r.ID, name)
}

// SceneQuery holds the archive search predicates of one collection.
// End is exclusive, the day-of-year window inclusive and the cloud
// cover ceiling strict.
type SceneQuery struct {
	Collection    string
	Start         time.Time
	End           time.Time
	DOYStart      int
	DOYEnd        int
	MaxCloudCover float64
	WKT           string
	BBox          []float64
}

// NewSceneQuery builds the search of a configured collection over a
// region.
func NewSceneQuery(c *Collection, region *Region) *SceneQuery {
	return &SceneQuery{
		Collection:    c.Name,
		Start:         c.StartTime,
		End:           c.EndTime,
		DOYStart:      c.DOYStart,
		DOYEnd:        c.DOYEnd,
		MaxCloudCover: c.MaxCloudCover,
		WKT:           region.WKT,
		BBox:          region.BBox,
	}
}

// Match applies the query predicates in the order region, date range,
// day-of-year window, cloud cover.  The reason of a rejection is
// returned for logging.
func (q *SceneQuery) Match(r *SceneRecord) (bool, string) {
	if len(q.BBox) == 4 && !BBoxIntersects(q.BBox, r.BBox) {
		return false, "outside region"
	}

	t, err := r.Time()
	if err != nil {
		return false, err.Error()
	}
	if !q.Start.IsZero() && t.Before(q.Start) {
		return false, "before start date"
	}
	if !q.End.IsZero() && !t.Before(q.End) {
		return false, "after end date"
	}
	if q.DOYStart > 0 && q.DOYEnd > 0 && !InDOYWindow(t, q.DOYStart, q.DOYEnd) {
		return false, fmt.Sprintf("day of year %d outside %d-%d", t.YearDay(), q.DOYStart, q.DOYEnd)
	}
	if q.MaxCloudCover > 0 && r.CloudCover >= q.MaxCloudCover {
		return false, fmt.Sprintf("cloud cover %.1f", r.CloudCover)
	}
	return true, ""
}
