package processor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nci/composite/utils"
	"go.uber.org/zap"
)

// searchURLer is implemented by archives backed by an index service.
type searchURLer interface {
	SearchURL(q *utils.SceneQuery) string
}

// SceneIndexer searches the archive for the scenes of each request and
// emits the ones passing the collection filters, ordered by sensing
// time.  The filters are applied here whatever the archive did.
type SceneIndexer struct {
	Context context.Context
	In      chan *SceneRequest
	Out     chan *SceneGranule
	Error   chan error
	Archive Archive
	Logger  *zap.SugaredLogger
}

func NewSceneIndexer(ctx context.Context, archive Archive, logger *zap.SugaredLogger, errChan chan error) *SceneIndexer {
	return &SceneIndexer{
		Context: ctx,
		In:      make(chan *SceneRequest, 100),
		Out:     make(chan *SceneGranule, 100),
		Error:   errChan,
		Archive: archive,
		Logger:  logger,
	}
}

func (p *SceneIndexer) Run() {
	defer close(p.Out)

	for req := range p.In {
		t0 := time.Now()
		q := utils.NewSceneQuery(req.Collection, req.Region)

		recs, err := p.Archive.Search(p.Context, q)
		if err != nil {
			sendError(p.Context, p.Error, fmt.Errorf("collection %s: search failed: %w", q.Collection, err))
			return
		}

		sort.SliceStable(recs, func(i, j int) bool {
			if recs[i].SensingTime == recs[j].SensingTime {
				return recs[i].ID < recs[j].ID
			}
			return recs[i].SensingTime < recs[j].SensingTime
		})

		var grans []*SceneGranule
		for _, rec := range recs {
			ok, reason := q.Match(rec)
			if !ok {
				p.Logger.Debugf("skipping %s: %s", rec.ID, reason)
				continue
			}
			ts, _ := rec.Time()
			grans = append(grans, &SceneGranule{
				Record:           rec,
				Collection:       req.Collection,
				Grid:             req.Grid,
				TimeStamp:        ts,
				MetricsCollector: req.MetricsCollector,
			})
		}

		indexTime := time.Since(t0)
		p.Logger.Infof("collection %s: %d of %d scenes accepted, indexer time: %v", q.Collection, len(grans), len(recs), indexTime)
		if req.MetricsCollector != nil {
			var rawURL string
			if su, ok := p.Archive.(searchURLer); ok {
				rawURL = su.SearchURL(q)
			}
			req.MetricsCollector.AddIndexed(rawURL, len(recs), len(grans), indexTime)
		}

		for _, gran := range grans {
			select {
			case p.Out <- gran:
			case <-p.Context.Done():
				return
			}
		}
	}
}
