package processor

import (
	"context"
	"time"

	"github.com/nci/composite/metrics"
	"github.com/nci/composite/utils"
)

// Archive is the scene catalogue and pixel store the pipeline reads
// from.
type Archive interface {
	// Search returns the records of q.Collection.  Archives may apply
	// the predicates of q themselves but are not required to.
	Search(ctx context.Context, q *utils.SceneQuery) ([]*utils.SceneRecord, error)
	// LoadBands reads the named raw bands of a record.
	LoadBands(ctx context.Context, rec *utils.SceneRecord, bands []string) (map[string]utils.Raster, error)
	// FindAux returns the record of an auxiliary collection for year
	// intersecting bbox.  Year 0 matches any year.
	FindAux(ctx context.Context, collection string, year int, bbox []float64) (*utils.SceneRecord, error)
}

// Submitter queues an export task with the batch export service and
// returns the id it was assigned.
type Submitter interface {
	Submit(ctx context.Context, task *ExportTask) (string, error)
}

// SceneRequest asks for the scenes of one collection over a region.
type SceneRequest struct {
	Collection       *utils.Collection
	Region           *utils.Region
	Grid             utils.Grid
	MetricsCollector *metrics.MetricsCollector
}

type SceneGranule struct {
	Record           *utils.SceneRecord
	Collection       *utils.Collection
	Grid             utils.Grid
	TimeStamp        time.Time
	MetricsCollector *metrics.MetricsCollector
}

// RawScene holds the raw bands of a scene keyed by raw band name,
// quality band included.
type RawScene struct {
	Record     *utils.SceneRecord
	Collection *utils.Collection
	Bands      map[string]utils.Raster
	Width      int
	Height     int
}

// Scene is a preprocessed scene: canonical bands holding reflectance
// fractions, NaN where the pixel is not clear.
type Scene struct {
	ID          string
	Platform    string
	SensingTime string
	Year        int
	Bands       map[string]*utils.Float32Raster
	Width       int
	Height      int
}

// YearGranules is every accepted granule of one collection labelled
// with Year, ordered by sensing time.
type YearGranules struct {
	Year     int
	Granules []*SceneGranule
}

// YearRawScenes streams the raw scenes of one collection for Year.
// Scenes is closed once every granule of the year has been read.
type YearRawScenes struct {
	Year   int
	Scenes chan *RawScene
}

// YearScenes streams the preprocessed scenes labelled with Year.
// Scenes is closed once the year is complete.
type YearScenes struct {
	Year   int
	Scenes chan *Scene
}

// AnnualComposite is the reduction of the scenes of a year.
// Variable names the index for maximum index composites and is empty
// for medians.
type AnnualComposite struct {
	Year      int
	Method    string
	Variable  string
	BandNames []string
	Bands     []*utils.Float32Raster
	NumScenes int
	Width     int
	Height    int
}

// Band returns the named band or nil.
func (c *AnnualComposite) Band(name string) *utils.Float32Raster {
	for i, n := range c.BandNames {
		if n == name {
			return c.Bands[i]
		}
	}
	return nil
}

// StaticMasks are the year independent exclusion layers on the grid.
// Water is 1 over permanent water, NeverCultivated is 1 where no
// cultivation year flagged the pixel.  Either may be nil.
type StaticMasks struct {
	Water           *utils.ByteRaster
	NeverCultivated *utils.ByteRaster
	Years           []int
}

// ExportTask pairs a masked composite with its destination.
type ExportTask struct {
	Year        int
	Description string
	Folder      string
	Region      string
	BBox        []float64
	Scale       float64
	CRS         string
	NoData      float64
	Variable    string
	BandNames   []string
	Bands       []*utils.Float32Raster
	Width       int
	Height      int

	TaskID string
	Err    error
}
