package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/edisonguo/jet"
	"github.com/nci/composite/metrics"
	"github.com/nci/composite/utils"
	"go.uber.org/zap"
)

// DescriptionTemplate renders export job descriptions.  The template
// sees the variables year, variable and folder.
type DescriptionTemplate struct {
	template *jet.Template
}

func NewDescriptionTemplate(text string) (*DescriptionTemplate, error) {
	view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		w.Write(b)
	}), ".")

	template, err := view.LoadTemplate("description", text)
	if err != nil {
		return nil, fmt.Errorf("description template error: %v", err)
	}
	return &DescriptionTemplate{template: template}, nil
}

func (dt *DescriptionTemplate) Render(year int, variable, folder string) (string, error) {
	vars := make(jet.VarMap)
	vars.Set("year", year)
	vars.Set("variable", variable)
	vars.Set("folder", folder)

	var buf bytes.Buffer
	if err := dt.template.Execute(&buf, vars, nil); err != nil {
		return "", fmt.Errorf("description template error: %v", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// ClipToRegion crops comp to the grid window covering the region bbox
// and sets the pixels whose centre lies outside the region polygon to
// NaN.
func ClipToRegion(comp *AnnualComposite, grid utils.Grid, region *utils.Region) (*AnnualComposite, *utils.Window, error) {
	if comp.Width != grid.Width || comp.Height != grid.Height {
		return nil, nil, fmt.Errorf("composite is %dx%d, grid is %dx%d", comp.Width, comp.Height, grid.Width, grid.Height)
	}
	win, err := grid.Window(region.BBox)
	if err != nil {
		return nil, nil, fmt.Errorf("region %s: %v", region.Name, err)
	}

	inside := make([]bool, win.Width*win.Height)
	for r := 0; r < win.Height; r++ {
		for c := 0; c < win.Width; c++ {
			x, y := grid.PixelCenter(win.X0+c, win.Y0+r)
			inside[r*win.Width+c] = region.Contains(x, y)
		}
	}

	out := *comp
	out.Width, out.Height = win.Width, win.Height
	out.BandNames = append([]string(nil), comp.BandNames...)
	out.Bands = make([]*utils.Float32Raster, len(comp.Bands))

	nan := float32(math.NaN())
	for ib, band := range comp.Bands {
		clipped := &utils.Float32Raster{
			Data:      make([]float32, win.Width*win.Height),
			Width:     win.Width,
			Height:    win.Height,
			NoData:    band.NoData,
			NameSpace: band.NameSpace,
		}
		for r := 0; r < win.Height; r++ {
			src := band.Data[(win.Y0+r)*grid.Width+win.X0:]
			for c := 0; c < win.Width; c++ {
				v := nan
				if inside[r*win.Width+c] {
					v = src[c]
				}
				clipped.Data[r*win.Width+c] = v
			}
		}
		out.Bands[ib] = clipped
	}
	return &out, win, nil
}

// ExportDriver submits one export task per composite, clipped to the
// region.  Submission is fire and forget: a task is done once the
// export service queued it.  Failed submissions are logged and emitted
// with Err set, the remaining years are still submitted.  Nothing is
// submitted once the run has been cancelled.
type ExportDriver struct {
	Context          context.Context
	In               chan *AnnualComposite
	Out              chan *ExportTask
	Error            chan error
	Submitter        Submitter
	Export           utils.ExportConfig
	Grid             utils.Grid
	Region           *utils.Region
	Description      *DescriptionTemplate
	Logger           *zap.SugaredLogger
	MetricsCollector *metrics.MetricsCollector
}

func NewExportDriver(ctx context.Context, submitter Submitter, cfg utils.ExportConfig, grid utils.Grid, region *utils.Region, logger *zap.SugaredLogger, errChan chan error) (*ExportDriver, error) {
	desc, err := NewDescriptionTemplate(cfg.DescriptionTemplate)
	if err != nil {
		return nil, err
	}
	return &ExportDriver{
		Context:     ctx,
		In:          make(chan *AnnualComposite, 100),
		Out:         make(chan *ExportTask, 100),
		Error:       errChan,
		Submitter:   submitter,
		Export:      cfg,
		Grid:        grid,
		Region:      region,
		Description: desc,
		Logger:      logger,
	}, nil
}

// NewTask clips a composite to the region and pairs it with the export
// destination.  The task extent is the grid window covering the region.
func (ed *ExportDriver) NewTask(comp *AnnualComposite) (*ExportTask, error) {
	desc, err := ed.Description.Render(comp.Year, comp.Variable, ed.Export.Folder)
	if err != nil {
		return nil, err
	}

	clipped, win, err := ClipToRegion(comp, ed.Grid, ed.Region)
	if err != nil {
		return nil, err
	}

	noData := utils.DefaultExportNoData
	if ed.Export.NoData != nil {
		noData = *ed.Export.NoData
	}

	return &ExportTask{
		Year:        comp.Year,
		Description: desc,
		Folder:      ed.Export.Folder,
		Region:      ed.Region.WKT,
		BBox:        win.BBox,
		Scale:       ed.Export.Scale,
		CRS:         ed.Export.CRS,
		NoData:      noData,
		Variable:    comp.Variable,
		BandNames:   clipped.BandNames,
		Bands:       clipped.Bands,
		Width:       win.Width,
		Height:      win.Height,
	}, nil
}

func (ed *ExportDriver) Run() {
	defer close(ed.Out)

	for comp := range ed.In {
		// stage errors cancel the context before upstream outputs close
		if ed.Context.Err() != nil {
			return
		}

		task, err := ed.NewTask(comp)
		if err != nil {
			sendError(ed.Context, ed.Error, fmt.Errorf("year %d: %w", comp.Year, err))
			return
		}

		taskID, err := ed.Submitter.Submit(ed.Context, task)
		if err != nil {
			ed.Logger.Errorf("export %s: submission failed: %v", task.Description, err)
			task.Err = err
		} else {
			task.TaskID = taskID
			ed.Logger.Infof("export %s: queued as %s", task.Description, taskID)
		}
		if ed.MetricsCollector != nil {
			ed.MetricsCollector.SetTask(task.Year, task.Description, task.TaskID)
		}

		select {
		case ed.Out <- task:
		case <-ed.Context.Done():
			return
		}
	}
}
