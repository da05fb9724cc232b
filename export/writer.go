package export

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edisonguo/jet"
	"github.com/nci/composite/processor"
	"github.com/nci/composite/utils"
)

const enviHeader = `ENVI
description = { {{ description }} }
samples = {{ samples }}
lines = {{ lines }}
bands = {{ bands }}
header offset = 0
file type = ENVI Standard
data type = 4
interleave = bsq
byte order = 0
map info = { Arbitrary, 1, 1, {{ xmin }}, {{ ymax }}, {{ xres }}, {{ yres }} }
coordinate system string = { {{ crs }} }
data ignore value = {{ nodata }}
band names = { {{ bandNames }} }
`

// Writer writes export tasks below OutputDir/<folder> as an ENVI float32
// BSQ image with its header, and optionally a PNG quicklook of the
// index band.
type Writer struct {
	OutputDir string
	Quicklook bool
	Palette   *utils.Palette

	header *jet.Template
}

func NewWriter(outputDir string, quicklook bool) (*Writer, error) {
	view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		w.Write(b)
	}), ".")
	header, err := view.LoadTemplate("envi_header", enviHeader)
	if err != nil {
		return nil, fmt.Errorf("ENVI header template error: %v", err)
	}
	return &Writer{OutputDir: outputDir, Quicklook: quicklook, Palette: utils.NDVIPalette, header: header}, nil
}

// safeName maps s to a single path element below the output directory.
func safeName(s string) (string, error) {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	switch name {
	case "", ".", "..":
		return "", fmt.Errorf("invalid file name %q", s)
	}
	return name, nil
}

// outputBase returns the output path of task without extension.  An
// empty folder writes to the output directory itself.
func (w *Writer) outputBase(task *processor.ExportTask) (string, error) {
	dir := w.OutputDir
	if len(task.Folder) > 0 {
		folder, err := safeName(task.Folder)
		if err != nil {
			return "", fmt.Errorf("folder: %v", err)
		}
		dir = filepath.Join(dir, folder)
	}
	name, err := safeName(task.Description)
	if err != nil {
		return "", fmt.Errorf("description: %v", err)
	}
	base := filepath.Join(dir, name)

	rel, err := filepath.Rel(w.OutputDir, base)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", base, w.OutputDir)
	}
	return base, nil
}

// Write stores task and returns the path of the image file.
func (w *Writer) Write(task *processor.ExportTask) (string, error) {
	base, err := w.outputBase(task)
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return "", err
	}

	if err = w.writeImage(base+".img", task); err != nil {
		return "", err
	}
	if err = w.writeHeader(base+".hdr", task); err != nil {
		return "", err
	}
	if w.Quicklook {
		if err = w.writeQuicklook(base+".png", task); err != nil {
			return "", err
		}
	}
	return base + ".img", nil
}

func (w *Writer) writeImage(path string, task *processor.ExportTask) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	for _, b := range task.Bands {
		data := b.Data
		if !math.IsNaN(task.NoData) {
			data = make([]float32, len(b.Data))
			for i, v := range b.Data {
				if v != v {
					v = float32(task.NoData)
				}
				data[i] = v
			}
		}
		if err = binary.Write(bw, binary.LittleEndian, data); err != nil {
			f.Close()
			return err
		}
	}
	if err = bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (w *Writer) writeHeader(path string, task *processor.ExportTask) error {
	xres := task.Scale
	yres := task.Scale
	if len(task.BBox) == 4 && task.Width > 0 && task.Height > 0 {
		xres = (task.BBox[2] - task.BBox[0]) / float64(task.Width)
		yres = (task.BBox[3] - task.BBox[1]) / float64(task.Height)
	}

	vars := make(jet.VarMap)
	vars.Set("description", task.Description)
	vars.Set("samples", task.Width)
	vars.Set("lines", task.Height)
	vars.Set("bands", len(task.Bands))
	vars.Set("xmin", formatFloat(task.BBox[0]))
	vars.Set("ymax", formatFloat(task.BBox[3]))
	vars.Set("xres", formatFloat(xres))
	vars.Set("yres", formatFloat(yres))
	vars.Set("crs", task.CRS)
	vars.Set("nodata", fmt.Sprintf("%v", task.NoData))
	vars.Set("bandNames", strings.Join(task.BandNames, ", "))

	var buf bytes.Buffer
	if err := w.header.Execute(&buf, vars, nil); err != nil {
		return fmt.Errorf("ENVI header template error: %v", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// quicklookBand is the index band, or the first band for tasks
// without one.
func quicklookBand(task *processor.ExportTask) *utils.Float32Raster {
	for i, name := range task.BandNames {
		if len(task.Variable) > 0 && name == task.Variable {
			return task.Bands[i]
		}
	}
	return task.Bands[0]
}

func (w *Writer) writeQuicklook(path string, task *processor.ExportTask) error {
	band := quicklookBand(task)
	params := utils.ScaleParams{Offset: 0, Scale: 1, Clip: 1}
	if len(task.Variable) > 0 {
		// normalized differences range over [-1, 1]
		params = utils.ScaleParams{Offset: 1, Scale: 1, Clip: 2}
	}
	scaled, err := utils.Scale([]utils.Raster{band}, params)
	if err != nil {
		return err
	}

	palette := w.Palette
	if palette == nil {
		palette = utils.NDVIPalette
	}
	ramp, err := utils.GradientRGBAPalette(palette)
	if err != nil {
		return err
	}
	pal := make(color.Palette, 256)
	for i := range pal {
		pal[i] = ramp[i]
	}
	// 0xFF is missing
	pal[0xFF] = color.RGBA{}

	img := image.NewPaletted(image.Rect(0, 0, task.Width, task.Height), pal)
	copy(img.Pix, scaled[0].Data)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
