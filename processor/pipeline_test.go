package processor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nci/composite/metrics"
	"github.com/nci/composite/utils"
)

// pipelineArchive holds two Landsat 5 and two Landsat 7 scenes of 2000
// and 2001 of which only two pass the filters, plus a 2002 scene
// outside the composite years.
func pipelineArchive() *fakeArchive {
	a := newFakeArchive()

	qa := make([]uint16, 9)
	qa[0] = 1 << 5
	a.add(testRecord("landsat5_sr", "LANDSAT_5", "LT05_20000701", "2000-07-01T17:00:00Z", 10, 3, 3), testRasters(3, 3, 2000, 5000, qa))
	a.add(testRecord("landsat7_sr", "LANDSAT_7", "LE07_20000801", "2000-08-01T17:00:00Z", 20, 3, 3), testRasters(3, 3, 1000, 5000, nil))

	// outside the day-of-year window and over the cloud ceiling
	a.add(testRecord("landsat7_sr", "LANDSAT_7", "LE07_20000201", "2000-02-01T17:00:00Z", 5, 3, 3), testRasters(3, 3, 0, 5000, nil))
	a.add(testRecord("landsat5_sr", "LANDSAT_5", "LT05_20010701", "2001-07-01T17:00:00Z", 85, 3, 3), testRasters(3, 3, 0, 5000, nil))

	a.add(testRecord("landsat5_sr", "LANDSAT_5", "LT05_20020701", "2002-07-01T17:00:00Z", 5, 3, 3), testRasters(3, 3, 0, 5000, nil))
	return a
}

func TestRunCompositesMaxIndex(t *testing.T) {
	cfg := testConfig(t)
	submitter := &fakeSubmitter{}
	mc := metrics.NewMetricsCollector(nil)

	tasks, err := RunComposites(context.Background(), pipelineArchive(), submitter, cfg, nil, testLogger, mc)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, actual %d", len(tasks))
	}

	t2000, t2001 := tasks[0], tasks[1]
	if t2000.Year != 2000 || t2001.Year != 2001 {
		t.Fatalf("expected tasks for 2000 and 2001, actual %d and %d", t2000.Year, t2001.Year)
	}
	if t2000.Description != "LT5-LE7_SR_Maximum_NDVI_2000" || t2000.TaskID != "task-2000" {
		t.Errorf("unexpected task %s %s", t2000.Description, t2000.TaskID)
	}
	if len(t2000.Bands) != 1 || t2000.BandNames[0] != "NDVI" {
		t.Fatalf("expected a single NDVI band, actual %v", t2000.BandNames)
	}

	// The Landsat 7 scene wins everywhere: 4000/6000 against 3000/7000.
	for i, v := range t2000.Bands[0].Data {
		if !approxEqual(float64(v), 4000.0/6000.0) {
			t.Errorf("2000 pixel %d: expected %v, actual %v", i, 4000.0/6000.0, v)
		}
	}
	if t2001.Bands[0].ValidCount() != 0 {
		t.Errorf("expected an empty 2001 composite, actual %v", t2001.Bands[0].Data)
	}
	if len(submitter.tasks) != 2 {
		t.Errorf("expected 2 submissions, actual %d", len(submitter.tasks))
	}

	if mc.Info.Indexer.NumScenes != 5 || mc.Info.Indexer.NumAccepted != 3 {
		t.Errorf("unexpected indexer metrics %+v", mc.Info.Indexer)
	}
	// the 2002 scene is dropped by year before its bands are read
	if mc.Info.Reader.NumScenes != 2 {
		t.Errorf("expected 2 scenes read, actual %d", mc.Info.Reader.NumScenes)
	}
	y, ok := mc.Year(2000)
	if !ok || y.NumScenes != 2 || y.TaskID != "task-2000" || y.ValidFraction != 1 {
		t.Errorf("unexpected 2000 metrics %+v", y)
	}
	y, ok = mc.Year(2001)
	if !ok || y.NumScenes != 0 || y.ValidFraction != 0 {
		t.Errorf("unexpected 2001 metrics %+v", y)
	}
}

func TestRunCompositesMedian(t *testing.T) {
	cfg := testConfig(t)
	cfg.Composite.Method = utils.MethodMedian
	submitter := &fakeSubmitter{}

	tasks, err := RunComposites(context.Background(), pipelineArchive(), submitter, cfg, nil, testLogger, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, actual %d", len(tasks))
	}

	t2000 := tasks[0]
	if len(t2000.BandNames) != len(utils.CanonicalBands)+1 {
		t.Fatalf("expected canonical bands and NDVI, actual %v", t2000.BandNames)
	}

	var red *utils.Float32Raster
	for i, name := range t2000.BandNames {
		if name == "red" {
			red = t2000.Bands[i]
		}
	}
	// pixels 0, 1, 3 and 4 are cloud masked in the Landsat 5 scene
	for _, i := range []int{0, 1, 3, 4} {
		if !approxEqual(float64(red.Data[i]), 0.1) {
			t.Errorf("pixel %d: expected red 0.1, actual %v", i, red.Data[i])
		}
	}
	for _, i := range []int{2, 5, 6, 7, 8} {
		if !approxEqual(float64(red.Data[i]), 0.15) {
			t.Errorf("pixel %d: expected red 0.15, actual %v", i, red.Data[i])
		}
	}
}

func TestRunCompositesStaticMasks(t *testing.T) {
	cfg := testConfig(t)
	masks := &StaticMasks{
		Water:           &utils.ByteRaster{Data: []uint8{0, 0, 0, 0, 0, 0, 0, 0, 1}, Width: 3, Height: 3},
		NeverCultivated: &utils.ByteRaster{Data: []uint8{0, 1, 1, 1, 1, 1, 1, 1, 1}, Width: 3, Height: 3},
		Years:           []int{2013, 2014, 2015},
	}

	tasks, err := RunComposites(context.Background(), pipelineArchive(), &fakeSubmitter{}, cfg, masks, testLogger, nil)
	if err != nil {
		t.Fatal(err)
	}

	data := tasks[0].Bands[0].Data
	if !isNaN32(data[0]) || !isNaN32(data[8]) {
		t.Errorf("expected cultivated and water pixels masked, actual %v", data)
	}
	if tasks[0].Bands[0].ValidCount() != 7 {
		t.Errorf("expected 7 valid pixels, actual %v", data)
	}
}

func TestRunCompositesSearchError(t *testing.T) {
	cfg := testConfig(t)
	archive := pipelineArchive()
	archive.searchErr = errors.New("connection refused")
	submitter := &fakeSubmitter{}

	_, err := RunComposites(context.Background(), archive, submitter, cfg, nil, testLogger, nil)
	if err == nil || !strings.Contains(err.Error(), "search failed") {
		t.Errorf("expected a search error, actual %v", err)
	}
	if submitter.count() != 0 {
		t.Errorf("expected no submissions, actual %d", submitter.count())
	}
}

func TestRunCompositesCollectionSearchError(t *testing.T) {
	cfg := testConfig(t)
	archive := pipelineArchive()
	archive.failSearch = map[string]bool{"landsat7_sr": true}
	submitter := &fakeSubmitter{}

	// composites without the Landsat 7 scenes must not be exported
	_, err := RunComposites(context.Background(), archive, submitter, cfg, nil, testLogger, nil)
	if err == nil || !strings.Contains(err.Error(), "landsat7_sr") {
		t.Errorf("expected a landsat7_sr search error, actual %v", err)
	}
	if submitter.count() != 0 {
		t.Errorf("expected no submissions, actual %d", submitter.count())
	}
}

func TestRunCompositesLoadError(t *testing.T) {
	cfg := testConfig(t)
	archive := pipelineArchive()
	archive.failLoad = map[string]bool{"LE07_20000801": true}
	submitter := &fakeSubmitter{}

	_, err := RunComposites(context.Background(), archive, submitter, cfg, nil, testLogger, nil)
	if err == nil || !strings.Contains(err.Error(), "LE07_20000801") {
		t.Errorf("expected a load error, actual %v", err)
	}
	if submitter.count() != 0 {
		t.Errorf("expected no submissions, actual %d", submitter.count())
	}
}

func TestRunCompositesSubmitError(t *testing.T) {
	cfg := testConfig(t)
	submitter := &fakeSubmitter{fail: map[int]bool{2001: true}}

	tasks, err := RunComposites(context.Background(), pipelineArchive(), submitter, cfg, nil, testLogger, nil)
	if err == nil || !strings.Contains(err.Error(), "LT5-LE7_SR_Maximum_NDVI_2001") {
		t.Errorf("expected the failed submission to be reported, actual %v", err)
	}
	if len(tasks) != 2 || tasks[0].TaskID != "task-2000" {
		t.Errorf("expected the 2000 task to be queued, actual %d tasks", len(tasks))
	}
}

func TestRunCompositesGridMismatch(t *testing.T) {
	cfg := testConfig(t)
	archive := pipelineArchive()
	archive.add(testRecord("landsat5_sr", "LANDSAT_5", "LT05_20000715", "2000-07-15T17:00:00Z", 5, 2, 2), testRasters(2, 2, 0, 5000, nil))

	_, err := RunComposites(context.Background(), archive, &fakeSubmitter{}, cfg, nil, testLogger, nil)
	if err == nil || !strings.Contains(err.Error(), "LT05_20000715") {
		t.Errorf("expected a grid mismatch error, actual %v", err)
	}
}

func TestRunCompositesCancelled(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunComposites(ctx, pipelineArchive(), &fakeSubmitter{}, cfg, nil, testLogger, nil)
	if err == nil {
		t.Errorf("expected an error for a cancelled run")
	}
}
