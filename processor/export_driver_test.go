package processor

import (
	"context"
	"math"
	"reflect"
	"strconv"
	"testing"

	"github.com/nci/composite/utils"
)

func TestDescriptionTemplate(t *testing.T) {
	dt, err := NewDescriptionTemplate(utils.DefaultDescription)
	if err != nil {
		t.Fatal(err)
	}
	for _, year := range []int{1995, 2003, 2015} {
		desc, err := dt.Render(year, "NDVI", "composites")
		if err != nil {
			t.Fatal(err)
		}
		expected := "LT5-LE7_SR_Maximum_NDVI_" + strconv.Itoa(year)
		if desc != expected {
			t.Errorf("expected %s, actual %s", expected, desc)
		}
	}

	dt, err = NewDescriptionTemplate("{{ folder }}/{{ variable }}_{{ year }}")
	if err != nil {
		t.Fatal(err)
	}
	desc, err := dt.Render(2001, "NDMI", "sand_hills")
	if err != nil {
		t.Fatal(err)
	}
	if desc != "sand_hills/NDMI_2001" {
		t.Errorf("expected sand_hills/NDMI_2001, actual %s", desc)
	}

	if _, err = NewDescriptionTemplate("{{ year "); err == nil {
		t.Errorf("expected an error for a malformed template")
	}
}

func TestExportDriverStage(t *testing.T) {
	cfg := testConfig(t)
	submitter := &fakeSubmitter{fail: map[int]bool{2001: true}}

	errChan := make(chan error, 10)
	ed, err := NewExportDriver(context.Background(), submitter, cfg.Export, cfg.Grid, &cfg.Region, testLogger, errChan)
	if err != nil {
		t.Fatal(err)
	}
	go ed.Run()

	for _, year := range []int{2000, 2001, 2002} {
		ed.In <- newComposite(year, utils.MethodMaxIndex, "NDVI", []string{"NDVI"}, 3, 3)
	}
	close(ed.In)

	var tasks []*ExportTask
	for task := range ed.Out {
		tasks = append(tasks, task)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, actual %d", len(tasks))
	}

	if tasks[0].TaskID != "task-2000" || tasks[0].Err != nil {
		t.Errorf("unexpected task %+v", tasks[0])
	}
	if tasks[1].Err == nil || tasks[1].TaskID != "" {
		t.Errorf("expected 2001 submission to fail, actual %+v", tasks[1])
	}
	if tasks[2].TaskID != "task-2002" {
		t.Errorf("expected the driver to carry on after a failed submission, actual %+v", tasks[2])
	}

	task := tasks[0]
	if task.Description != "LT5-LE7_SR_Maximum_NDVI_2000" {
		t.Errorf("unexpected description %s", task.Description)
	}
	if task.Scale != 30 || task.CRS != "EPSG:32614" || task.Folder != "composites" || task.NoData != -9999 {
		t.Errorf("unexpected destination %+v", task)
	}
	if task.Region != cfg.Region.WKT {
		t.Errorf("expected the region polygon as export region, actual %s", task.Region)
	}
	if !reflect.DeepEqual(task.BBox, cfg.Grid.BBox) || task.Width != 3 || task.Height != 3 {
		t.Errorf("expected the whole grid as export extent, actual %v %dx%d", task.BBox, task.Width, task.Height)
	}
	if len(submitter.tasks) != 2 {
		t.Errorf("expected 2 queued tasks, actual %d", len(submitter.tasks))
	}
}

func gridComposite(grid utils.Grid) *AnnualComposite {
	comp := newComposite(2000, utils.MethodMaxIndex, "NDVI", []string{"NDVI"}, grid.Width, grid.Height)
	for i := range comp.Bands[0].Data {
		comp.Bands[0].Data[i] = float32(i)
	}
	return comp
}

func TestClipToRegion(t *testing.T) {
	grid := utils.Grid{CRS: "EPSG:32614", BBox: []float64{0, 0, 90, 90}, Width: 3, Height: 3}

	// the south west pixel only
	region := &utils.Region{Name: "corner", GeoJSON: `{"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [30, 0], [30, 30], [0, 30], [0, 0]]]}}`}
	if err := region.Resolve(); err != nil {
		t.Fatal(err)
	}
	clipped, win, err := ClipToRegion(gridComposite(grid), grid, region)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(win.BBox, []float64{0, 0, 30, 30}) || win.Width != 1 || win.Height != 1 {
		t.Errorf("unexpected window %+v", win)
	}
	if clipped.Width != 1 || clipped.Height != 1 || clipped.Bands[0].Data[0] != 6 {
		t.Errorf("expected the south west pixel, actual %v", clipped.Bands[0].Data)
	}

	// an L shape leaves the north east pixel of its bbox outside
	region = &utils.Region{Name: "ell", GeoJSON: `{"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [60, 0], [60, 30], [30, 30], [30, 60], [0, 60], [0, 0]]]}}`}
	if err := region.Resolve(); err != nil {
		t.Fatal(err)
	}
	clipped, win, err = ClipToRegion(gridComposite(grid), grid, region)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(win.BBox, []float64{0, 0, 60, 60}) {
		t.Errorf("unexpected window %+v", win)
	}
	data := clipped.Bands[0].Data
	if len(data) != 4 || data[0] != 3 || !isNaN32(data[1]) || data[2] != 6 || data[3] != 7 {
		t.Errorf("expected [3 NaN 6 7], actual %v", data)
	}

	if _, _, err = ClipToRegion(newComposite(2000, utils.MethodMaxIndex, "NDVI", []string{"NDVI"}, 2, 2), grid, region); err == nil {
		t.Errorf("expected an error for a composite off the grid")
	}
}

func TestExportDriverClipsToRegion(t *testing.T) {
	cfg := testConfig(t)
	cfg.Region.GeoJSON = `{"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [30, 0], [30, 30], [0, 30], [0, 0]]]}}`
	if err := cfg.Region.Resolve(); err != nil {
		t.Fatal(err)
	}

	ed, err := NewExportDriver(context.Background(), &fakeSubmitter{}, cfg.Export, cfg.Grid, &cfg.Region, testLogger, make(chan error, 1))
	if err != nil {
		t.Fatal(err)
	}
	task, err := ed.NewTask(gridComposite(cfg.Grid))
	if err != nil {
		t.Fatal(err)
	}

	// one 30 m pixel at the south west corner of the grid
	if !reflect.DeepEqual(task.BBox, []float64{0, 0, 30, 30}) || task.Width != 1 || task.Height != 1 {
		t.Errorf("unexpected extent %v %dx%d", task.BBox, task.Width, task.Height)
	}
	if xres := (task.BBox[2] - task.BBox[0]) / float64(task.Width); math.Abs(xres-task.Scale) > 1e-9 {
		t.Errorf("pixel size %v does not match scale %v", xres, task.Scale)
	}
	if task.Bands[0].Data[0] != 6 {
		t.Errorf("expected the south west pixel, actual %v", task.Bands[0].Data)
	}
}
