package processor

import (
	"context"
	"fmt"
	"math"

	"github.com/nci/composite/utils"
	"go.uber.org/zap"
)

// LoadStaticMasks reads the water layer once and the cultivation layer
// of every configured year, intersecting the never cultivated pixels of
// all years.  Layers not configured are left nil.
func LoadStaticMasks(ctx context.Context, archive Archive, cfg utils.StaticMasks, grid utils.Grid, bbox []float64) (*StaticMasks, error) {
	masks := &StaticMasks{}

	if cfg.Water != nil {
		values, err := loadAuxBand(ctx, archive, cfg.Water.Collection, cfg.Water.Band, 0, grid, bbox)
		if err != nil {
			return nil, fmt.Errorf("water mask: %w", err)
		}
		water := &utils.ByteRaster{Data: make([]uint8, grid.Size()), Width: grid.Width, Height: grid.Height, NoData: 0xFF, NameSpace: "water"}
		for i, v := range values {
			if v == cfg.Water.Value {
				water.Data[i] = 1
			}
		}
		masks.Water = water
	}

	if cfg.Cultivation != nil {
		never := &utils.ByteRaster{Data: make([]uint8, grid.Size()), Width: grid.Width, Height: grid.Height, NoData: 0xFF, NameSpace: "never_cultivated"}
		for i := range never.Data {
			never.Data[i] = 1
		}
		for _, year := range cfg.Cultivation.Years {
			values, err := loadAuxBand(ctx, archive, cfg.Cultivation.Collection, cfg.Cultivation.Band, year, grid, bbox)
			if err != nil {
				return nil, fmt.Errorf("cultivation mask %d: %w", year, err)
			}
			for i, v := range values {
				if v != cfg.Cultivation.NonCultivatedValue {
					never.Data[i] = 0
				}
			}
		}
		masks.NeverCultivated = never
		masks.Years = append(masks.Years, cfg.Cultivation.Years...)
	}

	return masks, nil
}

func loadAuxBand(ctx context.Context, archive Archive, collection, band string, year int, grid utils.Grid, bbox []float64) ([]float64, error) {
	rec, err := archive.FindAux(ctx, collection, year, bbox)
	if err != nil {
		return nil, err
	}
	if rec.Width != grid.Width || rec.Height != grid.Height {
		return nil, fmt.Errorf("layer %s is %dx%d, grid is %dx%d", rec.ID, rec.Width, rec.Height, grid.Width, grid.Height)
	}

	rasters, err := archive.LoadBands(ctx, rec, []string{band})
	if err != nil {
		return nil, err
	}
	r, ok := rasters[band]
	if !ok {
		return nil, fmt.Errorf("layer %s: band %s not loaded", rec.ID, band)
	}

	value, n, err := pixelAccessor(r)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", rec.ID, err)
	}
	noData := r.GetNoData()
	out := make([]float64, n)
	for i := range out {
		v := value(i)
		if v == noData {
			v = math.NaN()
		}
		out[i] = v
	}
	return out, nil
}

// ApplyStaticMasks returns a copy of comp with every pixel over water
// or over land cultivated in any mask year set to NaN.
func ApplyStaticMasks(comp *AnnualComposite, masks *StaticMasks) (*AnnualComposite, error) {
	out := *comp
	out.BandNames = append([]string(nil), comp.BandNames...)
	out.Bands = make([]*utils.Float32Raster, len(comp.Bands))

	size := comp.Width * comp.Height
	excluded := make([]bool, size)
	if masks != nil {
		if masks.Water != nil {
			if len(masks.Water.Data) != size {
				return nil, fmt.Errorf("water mask has %d pixels, composite %d", len(masks.Water.Data), size)
			}
			for i, v := range masks.Water.Data {
				if v == 1 {
					excluded[i] = true
				}
			}
		}
		if masks.NeverCultivated != nil {
			if len(masks.NeverCultivated.Data) != size {
				return nil, fmt.Errorf("cultivation mask has %d pixels, composite %d", len(masks.NeverCultivated.Data), size)
			}
			for i, v := range masks.NeverCultivated.Data {
				if v == 0 {
					excluded[i] = true
				}
			}
		}
	}

	nan := float32(math.NaN())
	for ib, band := range comp.Bands {
		masked := *band
		masked.Data = make([]float32, len(band.Data))
		for i, v := range band.Data {
			if excluded[i] {
				v = nan
			}
			masked.Data[i] = v
		}
		out.Bands[ib] = &masked
	}
	return &out, nil
}

// StaticMasker applies the static masks to every composite.
type StaticMasker struct {
	Context context.Context
	In      chan *AnnualComposite
	Out     chan *AnnualComposite
	Error   chan error
	Masks   *StaticMasks
	Logger  *zap.SugaredLogger
}

func NewStaticMasker(ctx context.Context, masks *StaticMasks, logger *zap.SugaredLogger, errChan chan error) *StaticMasker {
	return &StaticMasker{
		Context: ctx,
		In:      make(chan *AnnualComposite, 100),
		Out:     make(chan *AnnualComposite, 100),
		Error:   errChan,
		Masks:   masks,
		Logger:  logger,
	}
}

func (sm *StaticMasker) Run() {
	defer close(sm.Out)
	for comp := range sm.In {
		masked, err := ApplyStaticMasks(comp, sm.Masks)
		if err != nil {
			sendError(sm.Context, sm.Error, fmt.Errorf("year %d: %w", comp.Year, err))
			return
		}
		select {
		case sm.Out <- masked:
		case <-sm.Context.Done():
			return
		}
	}
}
