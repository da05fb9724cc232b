package processor

import (
	"context"
	"fmt"
	"math"

	"github.com/nci/composite/utils"
	"go.uber.org/zap"
)

// PreprocessScene masks, rescales and renames the bands of a raw scene.
// A pixel is clear when neither it nor any pixel within the mask
// dilation radius is contaminated.  Raw fill values are missing too.
func PreprocessScene(raw *RawScene, mask *utils.CompiledMask) (*Scene, error) {
	coll := raw.Collection
	rec := raw.Record
	size := raw.Width * raw.Height

	year, err := utils.YearLabel(rec.SensingTime)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", rec.ID, err)
	}

	qaRaster, ok := raw.Bands[coll.QABand]
	if !ok {
		return nil, fmt.Errorf("scene %s: quality band %s not loaded", rec.ID, coll.QABand)
	}
	qa, err := QAValues(qaRaster)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", rec.ID, err)
	}
	if len(qa) != size {
		return nil, fmt.Errorf("scene %s: quality band has %d pixels, expected %d", rec.ID, len(qa), size)
	}
	contaminated := DilateMask(ComputeMask(mask, qa), raw.Width, raw.Height, mask.Dilation)

	scale := coll.ScaleFactor
	if scale == 0 {
		scale = utils.DefaultScaleFactor
	}

	scene := &Scene{
		ID:          rec.ID,
		Platform:    rec.Platform,
		SensingTime: rec.SensingTime,
		Year:        year,
		Bands:       make(map[string]*utils.Float32Raster, len(utils.CanonicalBands)),
		Width:       raw.Width,
		Height:      raw.Height,
	}

	nan := float32(math.NaN())
	for _, canonical := range utils.CanonicalBands {
		rawName, found := coll.RawBand(canonical)
		if !found {
			return nil, fmt.Errorf("collection %s: no raw band maps to %s", coll.Name, canonical)
		}
		r, found := raw.Bands[rawName]
		if !found {
			return nil, fmt.Errorf("scene %s: band %s not loaded", rec.ID, rawName)
		}

		noData := r.GetNoData()
		if coll.NoData != nil {
			noData = *coll.NoData
		}
		value, n, err := pixelAccessor(r)
		if err != nil {
			return nil, fmt.Errorf("scene %s: band %s: %w", rec.ID, rawName, err)
		}
		if n != size {
			return nil, fmt.Errorf("scene %s: band %s has %d pixels, expected %d", rec.ID, rawName, n, size)
		}

		out := &utils.Float32Raster{Data: make([]float32, size), Width: raw.Width, Height: raw.Height, NoData: math.NaN(), NameSpace: canonical}
		for i := 0; i < size; i++ {
			v := value(i)
			if contaminated[i] || v == noData || math.IsNaN(v) {
				out.Data[i] = nan
				continue
			}
			out.Data[i] = float32(v / scale)
		}
		scene.Bands[canonical] = out
	}

	return scene, nil
}

// pixelAccessor returns a float64 view of a raster and its length.
func pixelAccessor(r utils.Raster) (func(int) float64, int, error) {
	switch t := r.(type) {
	case *utils.Int16Raster:
		return func(i int) float64 { return float64(t.Data[i]) }, len(t.Data), nil
	case *utils.UInt16Raster:
		return func(i int) float64 { return float64(t.Data[i]) }, len(t.Data), nil
	case *utils.ByteRaster:
		return func(i int) float64 { return float64(t.Data[i]) }, len(t.Data), nil
	case *utils.Float32Raster:
		return func(i int) float64 { return float64(t.Data[i]) }, len(t.Data), nil
	default:
		return nil, 0, fmt.Errorf("raster type %T not supported", r)
	}
}

// ScenePreprocessor applies PreprocessScene to the scenes of every
// year of a collection as they are read.
type ScenePreprocessor struct {
	Context context.Context
	In      chan *YearRawScenes
	Out     chan *YearScenes
	Error   chan error
	Logger  *zap.SugaredLogger

	masks map[string]*utils.CompiledMask
}

func NewScenePreprocessor(ctx context.Context, logger *zap.SugaredLogger, errChan chan error) *ScenePreprocessor {
	return &ScenePreprocessor{
		Context: ctx,
		In:      make(chan *YearRawScenes, 100),
		Out:     make(chan *YearScenes, 100),
		Error:   errChan,
		Logger:  logger,
		masks:   make(map[string]*utils.CompiledMask),
	}
}

func (sp *ScenePreprocessor) Run() {
	defer close(sp.Out)

	for raw := range sp.In {
		year := &YearScenes{Year: raw.Year, Scenes: make(chan *Scene, cap(raw.Scenes))}
		select {
		case sp.Out <- year:
		case <-sp.Context.Done():
			return
		}

		if !sp.preprocessYear(raw, year.Scenes) {
			return
		}
	}
}

// preprocessYear streams the scenes of raw to out and closes out.
// Errors are reported before out is closed.
func (sp *ScenePreprocessor) preprocessYear(raw *YearRawScenes, out chan *Scene) bool {
	defer close(out)

	fail := func(err error) bool {
		sendError(sp.Context, sp.Error, err)
		return false
	}

	for {
		var rs *RawScene
		select {
		case r, ok := <-raw.Scenes:
			if !ok {
				return true
			}
			rs = r
		case <-sp.Context.Done():
			return false
		}

		mask, err := sp.compiledMask(rs.Collection)
		if err != nil {
			return fail(err)
		}
		scene, err := PreprocessScene(rs, mask)
		if err != nil {
			return fail(err)
		}
		if scene.Year != raw.Year {
			return fail(fmt.Errorf("scene %s is labelled %d, expected %d", scene.ID, scene.Year, raw.Year))
		}
		sp.Logger.Debugf("preprocessed %s: year %d, %d clear pixels", scene.ID, scene.Year, scene.Bands["red"].ValidCount())

		select {
		case out <- scene:
		case <-sp.Context.Done():
			return false
		}
	}
}

func (sp *ScenePreprocessor) compiledMask(coll *utils.Collection) (*utils.CompiledMask, error) {
	if mask, found := sp.masks[coll.Name]; found {
		return mask, nil
	}
	mask, err := utils.CompileMask(coll.Mask)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", coll.Name, err)
	}
	sp.masks[coll.Name] = mask
	return mask, nil
}
