package utils

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// CanonicalBands lists the semantic band names every preprocessed scene
// carries, in output order.
var CanonicalBands = []string{"blue", "green", "red", "nir", "swir1", "swir2"}

const (
	DefaultDOYStart      = 121
	DefaultDOYEnd        = 273
	DefaultMaxCloudCover = 80.0
	DefaultScaleFactor   = 10000.0
	DefaultQAMaskValue   = "101100"
	DefaultDilation      = 1

	DefaultStartYear = 1995
	DefaultEndYear   = 2015

	DefaultExportScale   = 30.0
	DefaultExportCRS     = "EPSG:32614"
	DefaultExportFolder  = "composites"
	DefaultExportNoData  = -9999.0
	DefaultDescription   = "LT5-LE7_SR_Maximum_NDVI_{{ year }}"
	DefaultIndexName     = "NDVI"
	DefaultRecvMsgSize   = 256 * 1024 * 1024
	DefaultReadConc      = 4
	DefaultCompositeConc = 2
)

const (
	MethodMaxIndex = "max_index"
	MethodMedian   = "median"
)

type ServiceConfig struct {
	MASAddress           string `json:"mas_address"`
	ExportAddress        string `json:"export_address"`
	DataDir              string `json:"data_dir"`
	MetricsLogDir        string `json:"metrics_log_dir"`
	ReadConcurrency      int    `json:"read_concurrency"`
	CompositeConcurrency int    `json:"composite_concurrency"`
	MaxGrpcMsgSize       int    `json:"max_grpc_msg_size"`
}

// Grid is the raster grid every scene and auxiliary layer of the study
// region is delivered on.  BBox is xMin, yMin, xMax, yMax in CRS units.
type Grid struct {
	CRS    string    `json:"crs"`
	BBox   []float64 `json:"bbox"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
}

// Size returns the number of pixels of the grid.
func (g Grid) Size() int {
	return g.Width * g.Height
}

// Resolution returns the pixel width and height in CRS units.
func (g Grid) Resolution() (float64, float64) {
	return (g.BBox[2] - g.BBox[0]) / float64(g.Width), (g.BBox[3] - g.BBox[1]) / float64(g.Height)
}

// PixelCenter returns the CRS coordinates of the centre of pixel
// (col, row).  Row 0 is the northern edge of the grid.
func (g Grid) PixelCenter(col, row int) (float64, float64) {
	xres, yres := g.Resolution()
	return g.BBox[0] + (float64(col)+0.5)*xres, g.BBox[3] - (float64(row)+0.5)*yres
}

// Window is a block of grid pixels and its extent.
type Window struct {
	X0, Y0        int
	Width, Height int
	BBox          []float64
}

// Window returns the smallest block of pixels covering bbox, clamped
// to the grid.
func (g Grid) Window(bbox []float64) (*Window, error) {
	if len(bbox) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values, got %d", len(bbox))
	}
	xres, yres := g.Resolution()

	const eps = 1e-9
	x0 := clampInt(int(math.Floor((bbox[0]-g.BBox[0])/xres+eps)), 0, g.Width)
	x1 := clampInt(int(math.Ceil((bbox[2]-g.BBox[0])/xres-eps)), 0, g.Width)
	y0 := clampInt(int(math.Floor((g.BBox[3]-bbox[3])/yres+eps)), 0, g.Height)
	y1 := clampInt(int(math.Ceil((g.BBox[3]-bbox[1])/yres-eps)), 0, g.Height)
	if x1 <= x0 || y1 <= y0 {
		return nil, fmt.Errorf("bbox %v does not overlap grid %v", bbox, g.BBox)
	}

	return &Window{
		X0:     x0,
		Y0:     y0,
		Width:  x1 - x0,
		Height: y1 - y0,
		BBox: []float64{
			g.BBox[0] + float64(x0)*xres,
			g.BBox[3] - float64(y1)*yres,
			g.BBox[0] + float64(x1)*xres,
			g.BBox[3] - float64(y0)*yres,
		},
	}, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Mask describes which bits of a quality band flag a pixel as
// contaminated.  Value is a binary OR mask: any set bit masks the
// pixel.  BitTests are pairs of binary strings (filter, value): the
// pixel is masked when qa&filter == value for any pair.  Dilation is
// the radius in pixels the contaminated region is grown by.
type Mask struct {
	ID       string   `json:"id"`
	Value    string   `json:"value"`
	BitTests []string `json:"bit_tests"`
	Dilation *int     `json:"dilation"`
}

// Collection is one single-platform scene archive together with the
// filters applied to it.
type Collection struct {
	Name          string            `json:"name"`
	Platform      string            `json:"platform"`
	StartISODate  string            `json:"start_isodate"`
	EndISODate    string            `json:"end_isodate"`
	DOYStart      int               `json:"doy_start"`
	DOYEnd        int               `json:"doy_end"`
	MaxCloudCover float64           `json:"max_cloud_cover"`
	Bands         map[string]string `json:"bands"`
	QABand        string            `json:"qa_band"`
	Mask          *Mask             `json:"mask"`
	ScaleFactor   float64           `json:"scale_factor"`
	NoData        *float64          `json:"nodata"`

	StartTime time.Time `json:"-"`
	EndTime   time.Time `json:"-"`
}

type AuxLayer struct {
	Collection string  `json:"collection"`
	Band       string  `json:"band"`
	Value      float64 `json:"value"`
}

type CultivationLayer struct {
	Collection         string  `json:"collection"`
	Band               string  `json:"band"`
	Years              []int   `json:"years"`
	NonCultivatedValue float64 `json:"non_cultivated_value"`
}

type StaticMasks struct {
	Water       *AuxLayer         `json:"water"`
	Cultivation *CultivationLayer `json:"cultivation"`
}

type IndexConfig struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

type CompositeConfig struct {
	Method    string      `json:"method"`
	StartYear int         `json:"start_year"`
	EndYear   int         `json:"end_year"`
	Index     IndexConfig `json:"index"`
}

type ExportConfig struct {
	Folder              string   `json:"folder"`
	DescriptionTemplate string   `json:"description_template"`
	Scale               float64  `json:"scale"`
	CRS                 string   `json:"crs"`
	NoData              *float64 `json:"nodata"`
}

// Config is the typed representation of a pipeline configuration
// document.
type Config struct {
	ServiceConfig ServiceConfig   `json:"service_config"`
	Region        Region          `json:"region"`
	Grid          Grid            `json:"grid"`
	Collections   []Collection    `json:"collections"`
	StaticMasks   StaticMasks     `json:"static_masks"`
	Composite     CompositeConfig `json:"composite"`
	Export        ExportConfig    `json:"export"`
}

// LoadConfigFile reads a JSON or YAML configuration document into
// config.  Values can be overridden by COMPOSITE_ prefixed
// environment variables, e.g. COMPOSITE_SERVICE_CONFIG_MAS_ADDRESS.
func (config *Config) LoadConfigFile(configFile string) error {
	*config = Config{}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("COMPOSITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"mas_address", "export_address", "data_dir", "metrics_log_dir"} {
		if err := v.BindEnv("service_config." + key); err != nil {
			return err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	err := v.Unmarshal(config, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
	})
	if err != nil {
		return fmt.Errorf("Error at parsing config document: %s. Error: %v", configFile, err)
	}

	return config.Prepare()
}

// Prepare fills in defaults, parses dates and the region geometry and
// validates the document.
func (config *Config) Prepare() error {
	config.applyDefaults()

	if len(config.Collections) == 0 {
		return errors.New("config: at least one collection is required")
	}

	if config.Grid.Width <= 0 || config.Grid.Height <= 0 {
		return fmt.Errorf("config: invalid grid size %dx%d", config.Grid.Width, config.Grid.Height)
	}
	if len(config.Grid.BBox) != 4 {
		return fmt.Errorf("config: grid bbox must have 4 values, got %d", len(config.Grid.BBox))
	}
	xres, yres := config.Grid.Resolution()
	if xres <= 0 || yres <= 0 {
		return fmt.Errorf("config: invalid grid bbox %v", config.Grid.BBox)
	}
	scale := config.Export.Scale
	if math.Abs(xres-scale) > 1e-6*scale || math.Abs(yres-scale) > 1e-6*scale {
		return fmt.Errorf("config: grid resolution %gx%g does not match export scale %g", xres, yres, scale)
	}

	if err := config.Region.Resolve(); err != nil {
		return err
	}
	if _, err := config.Grid.Window(config.Region.BBox); err != nil {
		return fmt.Errorf("config: region %s: %v", config.Region.Name, err)
	}

	for i := range config.Collections {
		if err := config.Collections[i].prepare(); err != nil {
			return err
		}
	}

	switch config.Composite.Method {
	case MethodMaxIndex, MethodMedian:
	default:
		return fmt.Errorf("config: unknown composite method %q", config.Composite.Method)
	}

	if config.Composite.StartYear > config.Composite.EndYear {
		return fmt.Errorf("config: start_year %d is after end_year %d", config.Composite.StartYear, config.Composite.EndYear)
	}

	if config.Composite.Index.Expression != "" {
		if _, err := ParseBandExpressions([]string{config.Composite.Index.Expression}, CanonicalBands); err != nil {
			return fmt.Errorf("config: index expression: %v", err)
		}
	}

	return nil
}

func (config *Config) applyDefaults() {
	sc := &config.ServiceConfig
	if sc.ReadConcurrency <= 0 {
		sc.ReadConcurrency = DefaultReadConc
	}
	if sc.CompositeConcurrency <= 0 {
		sc.CompositeConcurrency = DefaultCompositeConc
	}
	if sc.MaxGrpcMsgSize <= 0 {
		sc.MaxGrpcMsgSize = DefaultRecvMsgSize
	}
	if config.Grid.CRS == "" {
		config.Grid.CRS = DefaultExportCRS
	}

	comp := &config.Composite
	if comp.Method == "" {
		comp.Method = MethodMaxIndex
	}
	if comp.StartYear == 0 && comp.EndYear == 0 {
		comp.StartYear = DefaultStartYear
		comp.EndYear = DefaultEndYear
	}
	if comp.Index.Name == "" {
		comp.Index.Name = DefaultIndexName
	}

	exp := &config.Export
	if exp.Folder == "" {
		exp.Folder = DefaultExportFolder
	}
	if exp.DescriptionTemplate == "" {
		exp.DescriptionTemplate = DefaultDescription
	}
	if exp.Scale <= 0 {
		exp.Scale = DefaultExportScale
	}
	if exp.CRS == "" {
		exp.CRS = DefaultExportCRS
	}
	if exp.NoData == nil {
		nodata := DefaultExportNoData
		exp.NoData = &nodata
	}

	if cult := config.StaticMasks.Cultivation; cult != nil && len(cult.Years) == 0 {
		cult.Years = []int{2013, 2014, 2015}
	}

	for i := range config.Collections {
		c := &config.Collections[i]
		if c.DOYStart == 0 && c.DOYEnd == 0 {
			c.DOYStart = DefaultDOYStart
			c.DOYEnd = DefaultDOYEnd
		}
		if c.MaxCloudCover <= 0 {
			c.MaxCloudCover = DefaultMaxCloudCover
		}
		if c.ScaleFactor == 0 {
			c.ScaleFactor = DefaultScaleFactor
		}
		if c.Mask == nil {
			c.Mask = &Mask{Value: DefaultQAMaskValue}
		}
		if c.Mask.ID == "" {
			c.Mask.ID = c.QABand
		}
		if c.Mask.Dilation == nil {
			dilation := DefaultDilation
			c.Mask.Dilation = &dilation
		}
	}
}

func (c *Collection) prepare() error {
	if c.Name == "" {
		return errors.New("config: collection without name")
	}
	if c.QABand == "" {
		return fmt.Errorf("config: collection %s: qa_band is required", c.Name)
	}

	// Band names are matched case-insensitively as the config loader
	// lower cases map keys.
	c.QABand = strings.ToLower(c.QABand)
	c.Mask.ID = strings.ToLower(c.Mask.ID)
	bands := make(map[string]string, len(c.Bands))
	for raw, canonical := range c.Bands {
		bands[strings.ToLower(raw)] = canonical
	}
	c.Bands = bands

	seen := make(map[string]string, len(c.Bands))
	for raw, canonical := range c.Bands {
		if prev, found := seen[canonical]; found {
			return fmt.Errorf("config: collection %s: bands %s and %s both map to %s", c.Name, prev, raw, canonical)
		}
		seen[canonical] = raw
	}
	for _, canonical := range CanonicalBands {
		if _, found := seen[canonical]; !found {
			return fmt.Errorf("config: collection %s: no raw band maps to %s", c.Name, canonical)
		}
	}
	if len(seen) != len(CanonicalBands) {
		return fmt.Errorf("config: collection %s: expected %d bands, got %d", c.Name, len(CanonicalBands), len(seen))
	}

	if c.DOYStart < 1 || c.DOYEnd > 366 || c.DOYStart > c.DOYEnd {
		return fmt.Errorf("config: collection %s: invalid day-of-year window %d-%d", c.Name, c.DOYStart, c.DOYEnd)
	}

	var err error
	c.StartTime, err = ParseTime(c.StartISODate)
	if err != nil {
		return fmt.Errorf("config: collection %s: start_isodate: %v", c.Name, err)
	}
	c.EndTime, err = ParseTime(c.EndISODate)
	if err != nil {
		return fmt.Errorf("config: collection %s: end_isodate: %v", c.Name, err)
	}
	if !c.StartTime.Before(c.EndTime) {
		return fmt.Errorf("config: collection %s: empty date range", c.Name)
	}

	if _, err = CompileMask(c.Mask); err != nil {
		return fmt.Errorf("config: collection %s: %v", c.Name, err)
	}
	return nil
}

// RawBand returns the raw band name mapped to a canonical band.
func (c *Collection) RawBand(canonical string) (string, bool) {
	for raw, name := range c.Bands {
		if name == canonical {
			return raw, true
		}
	}
	return "", false
}
