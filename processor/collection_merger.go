package processor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// CollectionMerger combines the per year scene streams of several
// collections.  Every input delivers the same sequence of years; the
// scenes of a year are concatenated into one stream and are neither
// deduplicated nor tagged with their source.  A year is only emitted
// once every collection has delivered it.
type CollectionMerger struct {
	Context context.Context
	In      []chan *YearScenes
	Out     chan *YearScenes
	Error   chan error
	Logger  *zap.SugaredLogger
}

func NewCollectionMerger(ctx context.Context, logger *zap.SugaredLogger, errChan chan error) *CollectionMerger {
	return &CollectionMerger{
		Context: ctx,
		Out:     make(chan *YearScenes, 100),
		Error:   errChan,
		Logger:  logger,
	}
}

func (cm *CollectionMerger) AddInput(in chan *YearScenes) {
	cm.In = append(cm.In, in)
}

func (cm *CollectionMerger) Run() {
	defer close(cm.Out)

	var mu sync.Mutex
	platforms := make(map[string]int)
	total := 0

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		parts := make([]*YearScenes, 0, len(cm.In))
		for _, in := range cm.In {
			select {
			case ys, ok := <-in:
				if ok {
					parts = append(parts, ys)
				}
			case <-cm.Context.Done():
				return
			}
		}

		if len(parts) == 0 {
			break
		}
		if len(parts) != len(cm.In) {
			// a failed collection has already reported its error
			if cm.Context.Err() == nil {
				sendError(cm.Context, cm.Error, fmt.Errorf("collection streams ended at different years"))
			}
			return
		}
		year := parts[0].Year
		for _, p := range parts[1:] {
			if p.Year != year {
				sendError(cm.Context, cm.Error, fmt.Errorf("collection streams out of step: years %d and %d", year, p.Year))
				return
			}
		}

		merged := &YearScenes{Year: year, Scenes: make(chan *Scene, cap(parts[0].Scenes))}
		select {
		case cm.Out <- merged:
		case <-cm.Context.Done():
			return
		}

		var yearWg sync.WaitGroup
		for _, p := range parts {
			yearWg.Add(1)
			go func(in chan *Scene) {
				defer yearWg.Done()
				for scene := range in {
					mu.Lock()
					platforms[scene.Platform]++
					total++
					mu.Unlock()

					select {
					case merged.Scenes <- scene:
					case <-cm.Context.Done():
						return
					}
				}
			}(p.Scenes)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			yearWg.Wait()
			close(merged.Scenes)
		}()
	}

	wg.Wait()
	cm.Logger.Infof("combined collection: %d scenes %v", total, platforms)
}
