package catalogue

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nci/composite/utils"
)

func testRecord(id, collection, sensingTime string, cloud float64) *utils.SceneRecord {
	return &utils.SceneRecord{
		ID:          id,
		Collection:  collection,
		Platform:    "LANDSAT_5",
		SensingTime: sensingTime,
		CloudCover:  cloud,
		CRS:         "EPSG:32614",
		BBox:        []float64{500000, 4600000, 500060, 4600060},
		Width:       2,
		Height:      2,
	}
}

func writeTestScene(t *testing.T, root string, rec *utils.SceneRecord) string {
	t.Helper()
	noData := -9999.0
	rasters := map[string]utils.Raster{
		"sr_band3":  &utils.Int16Raster{Data: []int16{100, 200, -9999, 400}, Width: 2, Height: 2, NoData: noData},
		"sr_band4":  &utils.Int16Raster{Data: []int16{500, 600, 700, 800}, Width: 2, Height: 2, NoData: noData},
		"pixel_qa":  &utils.UInt16Raster{Data: []uint16{66, 66, 1, 98}, Width: 2, Height: 2, NoData: 1},
		"quicklook": &utils.Float32Raster{Data: []float32{0.5, float32(math.NaN()), 1, 2}, Width: 2, Height: 2, NoData: math.NaN()},
	}
	dir := filepath.Join(root, rec.Collection, rec.ID)
	if err := NewSceneStore().WriteScene(dir, rec, rasters); err != nil {
		t.Fatalf("WriteScene: %v", err)
	}
	return dir
}

func TestSceneStoreReadBack(t *testing.T) {
	root := t.TempDir()
	dir := writeTestScene(t, root, testRecord("LT05_001", "landsat5_sr", "2000-06-01T17:00:00Z", 10))

	store := NewSceneStore()
	rec, err := store.ReadRecord(dir)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if rec.Path != dir {
		t.Errorf("expected path %s, got %s", dir, rec.Path)
	}
	if len(rec.Bands) != 4 {
		t.Fatalf("expected 4 bands, got %d", len(rec.Bands))
	}

	bands, err := store.LoadBands(context.Background(), rec, []string{"sr_band3", "pixel_qa", "quicklook"})
	if err != nil {
		t.Fatalf("LoadBands: %v", err)
	}

	b3, ok := bands["sr_band3"].(*utils.Int16Raster)
	if !ok {
		t.Fatalf("expected Int16Raster, got %T", bands["sr_band3"])
	}
	if b3.Data[1] != 200 || b3.Data[2] != -9999 || b3.NoData != -9999 {
		t.Errorf("unexpected sr_band3 %v nodata %v", b3.Data, b3.NoData)
	}

	qa := bands["pixel_qa"].(*utils.UInt16Raster)
	if qa.Data[3] != 98 || qa.NoData != 1 {
		t.Errorf("unexpected pixel_qa %v nodata %v", qa.Data, qa.NoData)
	}

	ql := bands["quicklook"].(*utils.Float32Raster)
	if !math.IsNaN(ql.NoData) || ql.Data[1] == ql.Data[1] || ql.Data[3] != 2 {
		t.Errorf("unexpected quicklook %v nodata %v", ql.Data, ql.NoData)
	}

	if _, err = store.LoadBands(context.Background(), rec, []string{"sr_band9"}); err == nil {
		t.Errorf("expected error for unknown band")
	}
}

func TestSceneStoreSizeMismatch(t *testing.T) {
	root := t.TempDir()
	dir := writeTestScene(t, root, testRecord("LT05_001", "landsat5_sr", "2000-06-01T17:00:00Z", 10))
	if err := ioutil.WriteFile(filepath.Join(dir, "sr_band4.raw"), []byte{1, 2, 3}, 0644); err != nil {
		t.Fatal(err)
	}

	store := NewSceneStore()
	rec, err := store.ReadRecord(dir)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if _, err = store.LoadBands(context.Background(), rec, []string{"sr_band4"}); err == nil {
		t.Errorf("expected size mismatch error")
	}
}

func TestReadRecordInvalid(t *testing.T) {
	dir := t.TempDir()
	invalid := "id: x\ncollection: landsat5_sr\nsensing_time: 2000-06-01\nwidth: 0\nheight: 2\nbbox: [0, 0, 1, 1]\n"
	if err := ioutil.WriteFile(filepath.Join(dir, SceneFile), []byte(invalid), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSceneStore().ReadRecord(dir); err == nil {
		t.Errorf("expected error for zero width")
	}
}

func TestCrawler(t *testing.T) {
	root := t.TempDir()
	writeTestScene(t, root, testRecord("LT05_002", "landsat5_sr", "2000-07-01T17:00:00Z", 10))
	writeTestScene(t, root, testRecord("LT05_001", "landsat5_sr", "2000-06-01T17:00:00Z", 10))
	writeTestScene(t, root, testRecord("LE07_001", "landsat7_sr", "2000-06-09T17:00:00Z", 10))

	recs, err := NewCrawler(2, nil, false).Crawl(root)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	ids := []string{}
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	if strings.Join(ids, ",") != "LE07_001,LT05_001,LT05_002" {
		t.Errorf("unexpected records %v", ids)
	}

	pattern, err := ParsePattern("collection == 'landsat7_sr'")
	if err != nil {
		t.Fatalf("ParsePattern: %v", err)
	}
	recs, err = NewCrawler(2, pattern, false).Crawl(root)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "LE07_001" {
		t.Errorf("pattern should keep LE07_001 only, got %d records", len(recs))
	}
}

func TestCrawlerErrors(t *testing.T) {
	root := t.TempDir()
	writeTestScene(t, root, testRecord("LT05_001", "landsat5_sr", "2000-06-01T17:00:00Z", 10))
	bad := filepath.Join(root, "broken")
	if err := os.MkdirAll(bad, 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(filepath.Join(bad, SceneFile), []byte("id: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}

	recs, err := NewCrawler(1, nil, false).Crawl(root)
	if err == nil {
		t.Errorf("expected crawl error for broken scene")
	}
	if len(recs) != 1 {
		t.Errorf("expected the valid scene to be returned, got %d", len(recs))
	}

	if _, err = NewCrawler(1, nil, false).Crawl(filepath.Join(root, "missing")); err == nil {
		t.Errorf("expected error for missing root")
	}
}

func TestCrawlerErrorLimit(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a", "b", "c", "d"} {
		bad := filepath.Join(root, name)
		if err := os.MkdirAll(bad, 0755); err != nil {
			t.Fatal(err)
		}
		if err := ioutil.WriteFile(filepath.Join(bad, SceneFile), []byte("id: [unterminated"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	c := NewCrawler(1, nil, false)
	if cap(c.Error) != DefaultMaxCrawlErrors {
		t.Errorf("expected room for %d errors, actual %d", DefaultMaxCrawlErrors, cap(c.Error))
	}
	c.Error = make(chan error, 3)
	_, err := c.Crawl(root)
	if err == nil {
		t.Fatal("expected crawl errors")
	}
	if n := strings.Count(err.Error(), SceneFile); n != 3 || !strings.HasSuffix(err.Error(), " ... 1 more errors") {
		t.Errorf("expected 3 errors and a count of the dropped one, actual %v", err)
	}

	// every error is reported below the limit
	_, err = NewCrawler(2, nil, false).Crawl(root)
	if err == nil || strings.Count(err.Error(), SceneFile) != 4 || strings.Contains(err.Error(), "more errors") {
		t.Errorf("expected all 4 errors, actual %v", err)
	}
}

func TestParsePattern(t *testing.T) {
	if expr, err := ParsePattern("  "); err != nil || expr != nil {
		t.Errorf("empty pattern should be nil, got %v %v", expr, err)
	}
	if _, err := ParsePattern("type == 'f'"); err == nil {
		t.Errorf("expected error for unsupported variable")
	}
}

func TestWriteRecords(t *testing.T) {
	rec := testRecord("LT05_001", "landsat5_sr", "2000-06-01T17:00:00Z", 10)
	rec.Path = "/data/LT05_001"

	var buf bytes.Buffer
	if err := WriteRecords(&buf, []*utils.SceneRecord{rec}, "tsv"); err != nil {
		t.Fatalf("WriteRecords: %v", err)
	}
	fields := strings.SplitN(strings.TrimSpace(buf.String()), "\t", 3)
	if len(fields) != 3 || fields[0] != "/data/LT05_001" || fields[1] != "landsat5_sr" {
		t.Errorf("unexpected tsv line %q", buf.String())
	}

	if err := WriteRecords(&buf, []*utils.SceneRecord{rec}, "xml"); err == nil {
		t.Errorf("expected error for unknown format")
	}
}

func TestLocalArchive(t *testing.T) {
	root := t.TempDir()
	writeTestScene(t, root, testRecord("LT05_001", "landsat5_sr", "2000-06-01T17:00:00Z", 10))
	writeTestScene(t, root, testRecord("LT05_002", "landsat5_sr", "2000-03-01T17:00:00Z", 10))
	writeTestScene(t, root, testRecord("LT05_003", "landsat5_sr", "2000-07-01T17:00:00Z", 85))
	writeTestScene(t, root, testRecord("WATER_2013", "water", "2013-01-01", 0))
	writeTestScene(t, root, testRecord("WATER_2015", "water", "2015-01-01", 0))

	archive, err := NewLocalArchive(root, 2)
	if err != nil {
		t.Fatalf("NewLocalArchive: %v", err)
	}
	if n := archive.Collections()["landsat5_sr"]; n != 3 {
		t.Errorf("expected 3 landsat5_sr records, got %d", n)
	}

	q := &utils.SceneQuery{
		Collection:    "landsat5_sr",
		Start:         time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		End:           time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC),
		DOYStart:      121,
		DOYEnd:        273,
		MaxCloudCover: 80,
		BBox:          []float64{499000, 4599000, 501000, 4601000},
	}
	recs, err := archive.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "LT05_001" {
		t.Errorf("expected LT05_001 only, got %d records", len(recs))
	}

	aux, err := archive.FindAux(context.Background(), "water", 2015, nil)
	if err != nil || aux.ID != "WATER_2015" {
		t.Errorf("FindAux 2015: %v %v", aux, err)
	}
	aux, err = archive.FindAux(context.Background(), "water", 0, nil)
	if err != nil || aux.ID != "WATER_2013" {
		t.Errorf("FindAux any year: %v %v", aux, err)
	}
	if _, err = archive.FindAux(context.Background(), "water", 2014, nil); err == nil {
		t.Errorf("expected error for missing 2014 layer")
	}

	bands, err := archive.LoadBands(context.Background(), recs[0], []string{"sr_band4"})
	if err != nil || len(bands) != 1 {
		t.Errorf("LoadBands: %v", err)
	}
}

func TestMASClientSearch(t *testing.T) {
	root := t.TempDir()
	rec := testRecord("LT05_001", "landsat5_sr", "2000-06-01T17:00:00Z", 10)
	writeTestScene(t, root, rec)

	var gotQuery, gotWKT, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotWKT = r.FormValue("wkt")
		json.NewEncoder(w).Encode(SearchResult{Scenes: []*utils.SceneRecord{rec}})
	}))
	defer ts.Close()

	client := NewMASClient(ts.URL, 5*time.Second)
	q := &utils.SceneQuery{
		Collection:    "landsat5_sr",
		Start:         time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		End:           time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC),
		DOYStart:      121,
		DOYEnd:        273,
		MaxCloudCover: 80,
		WKT:           "POLYGON ((0 0, 1 0, 1 1, 0 1, 0 0))",
	}
	recs, err := client.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(recs) != 1 || recs[0].Path != rec.Path {
		t.Errorf("unexpected records %v", recs)
	}
	if gotPath != "/landsat5_sr" {
		t.Errorf("unexpected path %s", gotPath)
	}
	for _, want := range []string{"intersects", "doy_start=121", "doy_end=273", "max_cloud=80", "time=2000-01-01T00%3A00%3A00.000Z"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q is missing %q", gotQuery, want)
		}
	}
	if gotWKT != q.WKT {
		t.Errorf("expected wkt in body, got %q", gotWKT)
	}

	bands, err := client.LoadBands(context.Background(), recs[0], []string{"pixel_qa"})
	if err != nil || len(bands) != 1 {
		t.Errorf("LoadBands: %v", err)
	}
}

func TestMASClientErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(SearchResult{Error: "bad bbox"})
	}))
	defer ts.Close()

	client := NewMASClient(ts.URL, 5*time.Second)
	_, err := client.Search(context.Background(), &utils.SceneQuery{Collection: "landsat5_sr"})
	if err == nil || !strings.Contains(err.Error(), "bad bbox") {
		t.Errorf("expected bad bbox error, got %v", err)
	}
}

func TestMASClientIngest(t *testing.T) {
	var got []*utils.SceneRecord
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.URL.Query()["ingest"]; !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ingested": 2}`))
	}))
	defer ts.Close()

	client := NewMASClient(strings.TrimPrefix(ts.URL, "http://"), 5*time.Second)
	recs := []*utils.SceneRecord{
		testRecord("LT05_001", "landsat5_sr", "2000-06-01T17:00:00Z", 10),
		testRecord("LT05_002", "landsat5_sr", "2000-07-01T17:00:00Z", 10),
	}
	n, err := client.Ingest(context.Background(), recs)
	if err != nil || n != 2 {
		t.Errorf("Ingest: %d %v", n, err)
	}
	if len(got) != 2 || got[1].ID != "LT05_002" {
		t.Errorf("server received %v", got)
	}
}
