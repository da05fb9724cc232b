package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/nci/composite/metrics"
	"github.com/nci/composite/utils"
	"go.uber.org/zap"
)

// CompositePipeline wires the stages from scene search to export
// submission:
//
//	SceneIndexer -> YearSplitter -> SceneReader -> ScenePreprocessor  (per collection)
//	  -> CollectionMerger -> CompositeMerger -> StaticMasker -> ExportDriver
//
// Pixels flow one year at a time: readers start on a year once the
// previous one has been handed to the compositor.
type CompositePipeline struct {
	Context              context.Context
	Error                chan error
	Archive              Archive
	Submitter            Submitter
	ReadConcurrency      int
	CompositeConcurrency int
	Logger               *zap.SugaredLogger
	MetricsCollector     *metrics.MetricsCollector
}

func InitCompositePipeline(ctx context.Context, archive Archive, submitter Submitter, readConcurrency, compositeConcurrency int, logger *zap.SugaredLogger, errChan chan error) *CompositePipeline {
	return &CompositePipeline{
		Context:              ctx,
		Error:                errChan,
		Archive:              archive,
		Submitter:            submitter,
		ReadConcurrency:      readConcurrency,
		CompositeConcurrency: compositeConcurrency,
		Logger:               logger,
	}
}

func (cp *CompositePipeline) Process(cfg *utils.Config, masks *StaticMasks) (chan *ExportTask, error) {
	index, err := NewIndexCalculator(cfg.Composite.Index)
	if err != nil {
		return nil, err
	}
	driver, err := NewExportDriver(cp.Context, cp.Submitter, cfg.Export, cfg.Grid, &cfg.Region, cp.Logger, cp.Error)
	if err != nil {
		return nil, err
	}
	driver.MetricsCollector = cp.MetricsCollector

	if masks != nil && len(masks.Years) > 0 {
		first, last := masks.Years[0], masks.Years[0]
		for _, y := range masks.Years {
			if y < first {
				first = y
			}
			if y > last {
				last = y
			}
		}
		if cfg.Composite.StartYear < first || cfg.Composite.EndYear > last {
			cp.Logger.Warnf("static masks derived from %d-%d are applied to composites of %d-%d", first, last, cfg.Composite.StartYear, cfg.Composite.EndYear)
		}
	}

	merger := NewCollectionMerger(cp.Context, cp.Logger, cp.Error)
	for i := range cfg.Collections {
		req := &SceneRequest{
			Collection:       &cfg.Collections[i],
			Region:           &cfg.Region,
			Grid:             cfg.Grid,
			MetricsCollector: cp.MetricsCollector,
		}

		indexer := NewSceneIndexer(cp.Context, cp.Archive, cp.Logger, cp.Error)
		splitter := NewYearSplitter(cp.Context, cfg.Composite.StartYear, cfg.Composite.EndYear, cp.Logger, cp.Error)
		reader := NewSceneReader(cp.Context, cp.Archive, cp.ReadConcurrency, cp.Logger, cp.Error)
		pre := NewScenePreprocessor(cp.Context, cp.Logger, cp.Error)

		indexer.In <- req
		close(indexer.In)

		splitter.In = indexer.Out
		reader.In = splitter.Out
		pre.In = reader.Out
		merger.AddInput(pre.Out)

		go indexer.Run()
		go splitter.Run()
		go reader.Run()
		go pre.Run()
	}

	compositor := NewCompositeMerger(cp.Context, cfg.Composite.Method, index, cfg.Grid, cp.CompositeConcurrency, cp.Logger, cp.Error)
	compositor.MetricsCollector = cp.MetricsCollector
	masker := NewStaticMasker(cp.Context, masks, cp.Logger, cp.Error)

	compositor.In = merger.Out
	masker.In = compositor.Out
	driver.In = masker.Out

	go merger.Run()
	go compositor.Run()
	go masker.Run()
	go driver.Run()

	return driver.Out, nil
}

// RunComposites runs the pipeline to completion and returns the
// submitted tasks.  The first stage error cancels the run before the
// failing stage closes its output, so nothing is submitted after it.
// Failed submissions don't stop the run and are returned joined.
func RunComposites(ctx context.Context, archive Archive, submitter Submitter, cfg *utils.Config, masks *StaticMasks, logger *zap.SugaredLogger, mc *metrics.MetricsCollector) ([]*ExportTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, cancel := withAbort(ctx)
	defer cancel(nil)

	errChan := make(chan error, 100)
	cp := InitCompositePipeline(ctx, archive, submitter, cfg.ServiceConfig.ReadConcurrency, cfg.ServiceConfig.CompositeConcurrency, logger, errChan)
	cp.MetricsCollector = mc

	out, err := cp.Process(cfg, masks)
	if err != nil {
		return nil, err
	}

	var tasks []*ExportTask
	var failed []error
	for task := range out {
		tasks = append(tasks, task)
		if task.Err != nil {
			failed = append(failed, fmt.Errorf("export %s: %w", task.Description, task.Err))
		}
	}

	select {
	case err := <-errChan:
		return tasks, err
	default:
	}
	if ctx.Err() != nil {
		return tasks, context.Cause(ctx)
	}
	return tasks, errors.Join(failed...)
}

type abortKey struct{}

// withAbort returns a context that sendError cancels.
func withAbort(parent context.Context) (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	return context.WithValue(ctx, abortKey{}, cancel), cancel
}

// sendError reports err and cancels the run of ctx.  Stages call it
// before closing their output.
func sendError(ctx context.Context, errChan chan error, err error) {
	if abort, ok := ctx.Value(abortKey{}).(context.CancelCauseFunc); ok {
		abort(err)
	}
	select {
	case errChan <- err:
	default:
	}
}
