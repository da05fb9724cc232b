package processor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nci/composite/metrics"
	"github.com/nci/composite/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Accumulator reduces the scenes of one year as they arrive.
type Accumulator interface {
	Add(s *Scene) error
	Composite() (*AnnualComposite, error)
}

// MedianAccumulator keeps the scenes of the year; the median needs
// every value of a pixel.
type MedianAccumulator struct {
	year, width, height int
	scenes              []*Scene
}

func NewMedianAccumulator(year, width, height int) *MedianAccumulator {
	return &MedianAccumulator{year: year, width: width, height: height}
}

func (a *MedianAccumulator) Add(s *Scene) error {
	if err := checkScene(s, a.width, a.height); err != nil {
		return err
	}
	a.scenes = append(a.scenes, s)
	return nil
}

// Composite reduces the scenes to the per band, per pixel median of
// their non missing values.  An even number of values averages the
// two middle ones.  Pixels without values are NaN.
func (a *MedianAccumulator) Composite() (*AnnualComposite, error) {
	comp := newComposite(a.year, utils.MethodMedian, "", utils.CanonicalBands, a.width, a.height)
	comp.NumScenes = len(a.scenes)

	values := make([]float64, 0, len(a.scenes))
	for ib, band := range utils.CanonicalBands {
		out := comp.Bands[ib]
		for i := range out.Data {
			values = values[:0]
			for _, s := range a.scenes {
				r := s.Bands[band]
				if v := r.Data[i]; !r.IsMissing(v) {
					values = append(values, float64(v))
				}
			}
			if len(values) == 0 {
				continue
			}
			out.Data[i] = float32(median(values))
		}
	}
	return comp, nil
}

func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// MaxIndexAccumulator keeps the per pixel maximum of the index of the
// scenes added so far.  Scenes are not retained.
type MaxIndexAccumulator struct {
	index         *IndexCalculator
	width, height int
	comp          *AnnualComposite
}

func NewMaxIndexAccumulator(year int, ic *IndexCalculator, width, height int) *MaxIndexAccumulator {
	return &MaxIndexAccumulator{
		index:  ic,
		width:  width,
		height: height,
		comp:   newComposite(year, utils.MethodMaxIndex, ic.Name, []string{ic.Name}, width, height),
	}
}

func (a *MaxIndexAccumulator) Add(s *Scene) error {
	if err := checkScene(s, a.width, a.height); err != nil {
		return err
	}
	index, err := a.index.Compute(s.Bands)
	if err != nil {
		return fmt.Errorf("scene %s: %w", s.ID, err)
	}

	out := a.comp.Bands[0]
	for i, v := range index.Data {
		if index.IsMissing(v) {
			continue
		}
		if cur := out.Data[i]; out.IsMissing(cur) || v > cur {
			out.Data[i] = v
		}
	}
	a.comp.NumScenes++
	return nil
}

// Composite returns the running maximum.  Pixels without values are
// NaN.
func (a *MaxIndexAccumulator) Composite() (*AnnualComposite, error) {
	return a.comp, nil
}

// MedianComposite reduces scenes to their per band, per pixel median.
func MedianComposite(year int, scenes []*Scene, width, height int) (*AnnualComposite, error) {
	return accumulate(NewMedianAccumulator(year, width, height), scenes)
}

// MaxIndexComposite computes the index of every scene and keeps the per
// pixel maximum of the non missing values.
func MaxIndexComposite(year int, scenes []*Scene, ic *IndexCalculator, width, height int) (*AnnualComposite, error) {
	return accumulate(NewMaxIndexAccumulator(year, ic, width, height), scenes)
}

func accumulate(acc Accumulator, scenes []*Scene) (*AnnualComposite, error) {
	for _, s := range scenes {
		if err := acc.Add(s); err != nil {
			return nil, err
		}
	}
	return acc.Composite()
}

func newComposite(year int, method, variable string, bandNames []string, width, height int) *AnnualComposite {
	comp := &AnnualComposite{
		Year:      year,
		Method:    method,
		Variable:  variable,
		BandNames: append([]string(nil), bandNames...),
		Width:     width,
		Height:    height,
	}
	for _, name := range bandNames {
		comp.Bands = append(comp.Bands, utils.NewFloat32Raster(name, width, height))
	}
	return comp
}

func checkScene(s *Scene, width, height int) error {
	if s.Width != width || s.Height != height {
		return fmt.Errorf("scene %s is %dx%d, composite grid is %dx%d", s.ID, s.Width, s.Height, width, height)
	}
	return nil
}

// CompositeMerger reduces the scene stream of every year to an annual
// composite as the scenes arrive.  At most Concurrency years are
// reduced at once and composites are emitted in the order the years
// arrived.
type CompositeMerger struct {
	Context          context.Context
	In               chan *YearScenes
	Out              chan *AnnualComposite
	Error            chan error
	Method           string
	Index            *IndexCalculator
	Grid             utils.Grid
	Concurrency      int
	Logger           *zap.SugaredLogger
	MetricsCollector *metrics.MetricsCollector
}

func NewCompositeMerger(ctx context.Context, method string, index *IndexCalculator, grid utils.Grid, concurrency int, logger *zap.SugaredLogger, errChan chan error) *CompositeMerger {
	return &CompositeMerger{
		Context:     ctx,
		In:          make(chan *YearScenes, 100),
		Out:         make(chan *AnnualComposite, 100),
		Error:       errChan,
		Method:      method,
		Index:       index,
		Grid:        grid,
		Concurrency: concurrency,
		Logger:      logger,
	}
}

func (cm *CompositeMerger) Run() {
	defer close(cm.Out)

	g, ctx := errgroup.WithContext(cm.Context)
	if cm.Concurrency > 0 {
		g.SetLimit(cm.Concurrency)
	}

	// each year waits for its predecessor to be emitted; false means
	// the predecessor failed
	prev := make(chan bool, 1)
	prev <- true
	for ys := range cm.In {
		ys, wait, done := ys, prev, make(chan bool, 1)
		prev = done
		g.Go(func() error {
			emitted := false
			defer func() { done <- emitted }()

			comp, err := cm.composite(ctx, ys)
			if err != nil {
				err = fmt.Errorf("composite %d: %w", ys.Year, err)
				sendError(cm.Context, cm.Error, err)
				return err
			}

			select {
			case ok := <-wait:
				if !ok {
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
			select {
			case cm.Out <- comp:
				emitted = true
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
	}
	g.Wait()
}

// composite drains the scenes of ys into an accumulator of the
// configured method.
func (cm *CompositeMerger) composite(ctx context.Context, ys *YearScenes) (*AnnualComposite, error) {
	t0 := time.Now()

	var acc Accumulator
	switch cm.Method {
	case utils.MethodMedian:
		acc = NewMedianAccumulator(ys.Year, cm.Grid.Width, cm.Grid.Height)
	case utils.MethodMaxIndex:
		acc = NewMaxIndexAccumulator(ys.Year, cm.Index, cm.Grid.Width, cm.Grid.Height)
	default:
		return nil, fmt.Errorf("unknown composite method %q", cm.Method)
	}

	for done := false; !done; {
		select {
		case s, ok := <-ys.Scenes:
			if !ok {
				done = true
				break
			}
			if err := acc.Add(s); err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	comp, err := acc.Composite()
	if err != nil {
		return nil, err
	}

	var index *utils.Float32Raster
	switch cm.Method {
	case utils.MethodMedian:
		bands := make(map[string]*utils.Float32Raster, len(comp.Bands))
		for i, name := range comp.BandNames {
			bands[name] = comp.Bands[i]
		}
		index, err = cm.Index.Compute(bands)
		if err != nil {
			return nil, err
		}
		comp.BandNames = append(comp.BandNames, cm.Index.Name)
		comp.Bands = append(comp.Bands, index)
	case utils.MethodMaxIndex:
		index = comp.Bands[0]
	}

	stats := RasterStats(index)
	if comp.NumScenes == 0 {
		cm.Logger.Warnf("year %d: no qualifying scenes, composite is empty", ys.Year)
	} else {
		cm.Logger.Infof("year %d: %d scenes, %.1f%% valid, mean %s %.4f", ys.Year, comp.NumScenes, 100*stats.ValidFraction, cm.Index.Name, stats.Mean)
	}
	if cm.MetricsCollector != nil {
		cm.MetricsCollector.SetYear(&metrics.YearInfo{
			Year:          ys.Year,
			NumScenes:     comp.NumScenes,
			ValidFraction: stats.ValidFraction,
			MeanIndex:     stats.Mean,
			StdDevIndex:   stats.StdDev,
			Duration:      time.Since(t0),
		})
	}
	return comp, nil
}
