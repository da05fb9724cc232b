package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/nci/composite/utils"
	"go.uber.org/zap"
)

// SceneReader loads the raw bands of the granules of one year at a
// time, at most Concurrency at once.  The scenes of a year are streamed
// on the YearRawScenes it emits; the next year is read only once every
// scene of the current one has been handed on, so pixel data of at
// most one year per collection is in flight.  Order within a year is
// not preserved.
type SceneReader struct {
	Context     context.Context
	In          chan *YearGranules
	Out         chan *YearRawScenes
	Error       chan error
	Archive     Archive
	Concurrency int
	Logger      *zap.SugaredLogger
}

func NewSceneReader(ctx context.Context, archive Archive, concurrency int, logger *zap.SugaredLogger, errChan chan error) *SceneReader {
	if concurrency <= 0 {
		concurrency = utils.DefaultReadConc
	}
	return &SceneReader{
		Context:     ctx,
		In:          make(chan *YearGranules, 100),
		Out:         make(chan *YearRawScenes, 100),
		Error:       errChan,
		Archive:     archive,
		Concurrency: concurrency,
		Logger:      logger,
	}
}

func (sr *SceneReader) Run() {
	defer close(sr.Out)

	start := time.Now()
	n := 0
	for yg := range sr.In {
		year := &YearRawScenes{Year: yg.Year, Scenes: make(chan *RawScene, sr.Concurrency)}
		select {
		case sr.Out <- year:
		case <-sr.Context.Done():
			return
		}

		sr.readYear(yg, year.Scenes)
		n += len(yg.Granules)
		if sr.Context.Err() != nil {
			return
		}
	}
	sr.Logger.Debugf("scene reader time: %v, scenes: %d", time.Since(start), n)
}

// readYear reads the granules of yg and closes out once all reads
// are done.
func (sr *SceneReader) readYear(yg *YearGranules, out chan *RawScene) {
	defer close(out)

	cLimiter := NewConcLimiter(sr.Concurrency)
	for _, gran := range yg.Granules {
		if sr.Context.Err() != nil {
			break
		}

		cLimiter.Increase()
		go func(g *SceneGranule, conc *ConcLimiter) {
			defer conc.Decrease()
			raw, err := sr.read(g)
			if err != nil {
				sendError(sr.Context, sr.Error, err)
				return
			}
			select {
			case out <- raw:
			case <-sr.Context.Done():
			}
		}(gran, cLimiter)
	}
	cLimiter.Wait()
}

func (sr *SceneReader) read(g *SceneGranule) (*RawScene, error) {
	t0 := time.Now()
	rec := g.Record
	if rec.Width != g.Grid.Width || rec.Height != g.Grid.Height {
		return nil, fmt.Errorf("scene %s is %dx%d, grid is %dx%d", rec.ID, rec.Width, rec.Height, g.Grid.Width, g.Grid.Height)
	}

	bands := []string{g.Collection.QABand}
	for _, canonical := range utils.CanonicalBands {
		rawName, _ := g.Collection.RawBand(canonical)
		bands = append(bands, rawName)
	}

	rasters, err := sr.Archive.LoadBands(sr.Context, rec, bands)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", rec.ID, err)
	}

	var nBytes int64
	for _, r := range rasters {
		nBytes += RasterBytes(r)
	}
	if g.MetricsCollector != nil {
		g.MetricsCollector.AddRead(nBytes, time.Since(t0))
	}

	return &RawScene{
		Record:     rec,
		Collection: g.Collection,
		Bands:      rasters,
		Width:      rec.Width,
		Height:     rec.Height,
	}, nil
}

// RasterBytes returns the size of the pixel data of r.
func RasterBytes(r utils.Raster) int64 {
	switch t := r.(type) {
	case *utils.ByteRaster:
		return int64(len(t.Data))
	case *utils.Int16Raster:
		return 2 * int64(len(t.Data))
	case *utils.UInt16Raster:
		return 2 * int64(len(t.Data))
	case *utils.Float32Raster:
		return 4 * int64(len(t.Data))
	default:
		return 0
	}
}
