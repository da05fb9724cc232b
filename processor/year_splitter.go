package processor

import (
	"context"
	"fmt"

	"github.com/nci/composite/utils"
	"go.uber.org/zap"
)

// YearSplitter groups the granules of a collection by year label.
// Once the input is drained it emits one YearGranules for every year
// from StartYear to EndYear, empty years included.  Granules labelled
// outside the range are dropped before any pixel is read.
type YearSplitter struct {
	Context   context.Context
	In        chan *SceneGranule
	Out       chan *YearGranules
	Error     chan error
	StartYear int
	EndYear   int
	Logger    *zap.SugaredLogger
}

func NewYearSplitter(ctx context.Context, startYear, endYear int, logger *zap.SugaredLogger, errChan chan error) *YearSplitter {
	return &YearSplitter{
		Context:   ctx,
		In:        make(chan *SceneGranule, 100),
		Out:       make(chan *YearGranules, 100),
		Error:     errChan,
		StartYear: startYear,
		EndYear:   endYear,
		Logger:    logger,
	}
}

func (ys *YearSplitter) Run() {
	defer close(ys.Out)

	granules := make(map[int][]*SceneGranule)
	for gran := range ys.In {
		year, err := utils.YearLabel(gran.Record.SensingTime)
		if err != nil {
			sendError(ys.Context, ys.Error, fmt.Errorf("scene %s: %w", gran.Record.ID, err))
			return
		}
		if year < ys.StartYear || year > ys.EndYear {
			ys.Logger.Debugf("skipping %s: year %d outside %d-%d", gran.Record.ID, year, ys.StartYear, ys.EndYear)
			continue
		}
		granules[year] = append(granules[year], gran)
	}

	// an upstream failure closes In early
	if ys.Context.Err() != nil {
		return
	}

	for _, year := range utils.GenerateYears(ys.StartYear, ys.EndYear) {
		select {
		case ys.Out <- &YearGranules{Year: year, Granules: granules[year]}:
		case <-ys.Context.Done():
			return
		}
	}
}
