package catalogue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nci/composite/utils"
)

// LocalArchive serves scene searches from the records of a crawled
// directory tree.
type LocalArchive struct {
	Root  string
	store *SceneStore

	mu           sync.RWMutex
	byCollection map[string][]*utils.SceneRecord
}

// NewLocalArchive crawls root with conc walkers.  Unreadable scene
// directories fail the archive.
func NewLocalArchive(root string, conc int) (*LocalArchive, error) {
	recs, err := NewCrawler(conc, nil, true).Crawl(root)
	if err != nil {
		return nil, fmt.Errorf("crawling %s: %w", root, err)
	}

	a := &LocalArchive{Root: root, store: NewSceneStore()}
	a.Add(recs...)
	return a, nil
}

// Add indexes records, replacing records with the same id.
func (a *LocalArchive) Add(recs ...*utils.SceneRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.byCollection == nil {
		a.byCollection = make(map[string][]*utils.SceneRecord)
	}
	if a.store == nil {
		a.store = NewSceneStore()
	}

	for _, rec := range recs {
		list := a.byCollection[rec.Collection]
		replaced := false
		for i := range list {
			if list[i].ID == rec.ID {
				list[i] = rec
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, rec)
		}
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].SensingTime != list[j].SensingTime {
				return list[i].SensingTime < list[j].SensingTime
			}
			return list[i].ID < list[j].ID
		})
		a.byCollection[rec.Collection] = list
	}
}

// Collections returns the number of records per collection.
func (a *LocalArchive) Collections() map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]int, len(a.byCollection))
	for k, v := range a.byCollection {
		out[k] = len(v)
	}
	return out
}

func (a *LocalArchive) Search(ctx context.Context, q *utils.SceneQuery) ([]*utils.SceneRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []*utils.SceneRecord
	for _, rec := range a.byCollection[q.Collection] {
		if ok, _ := q.Match(rec); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (a *LocalArchive) LoadBands(ctx context.Context, rec *utils.SceneRecord, bands []string) (map[string]utils.Raster, error) {
	return a.store.LoadBands(ctx, rec, bands)
}

// FindAux returns the first record of collection, in sensing time
// order, whose year label is year and whose bbox intersects bbox.
func (a *LocalArchive) FindAux(ctx context.Context, collection string, year int, bbox []float64) (*utils.SceneRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return findAux(a.byCollection[collection], collection, year, bbox)
}

func findAux(recs []*utils.SceneRecord, collection string, year int, bbox []float64) (*utils.SceneRecord, error) {
	for _, rec := range recs {
		if year != 0 {
			label, err := utils.YearLabel(rec.SensingTime)
			if err != nil || label != year {
				continue
			}
		}
		if len(bbox) == 4 && !utils.BBoxIntersects(bbox, rec.BBox) {
			continue
		}
		return rec, nil
	}
	return nil, fmt.Errorf("no %s layer found for year %d", collection, year)
}
