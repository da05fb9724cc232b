package export

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/golang/protobuf/ptypes"
	"github.com/nci/composite/processor"
	"github.com/nci/composite/utils"
	"google.golang.org/protobuf/types/known/structpb"
)

// Task states recorded by the ledger.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Job is a decoded task waiting in the pool queue.
type Job struct {
	ID   string
	Task *processor.ExportTask
}

func encodeFloat32(data []float32) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(4 * len(data))
	if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// structpb stores byte slices as standard base64 strings.
func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func decodeFloat32(raw []byte, n int) ([]float32, error) {
	if len(raw) != 4*n {
		return nil, fmt.Errorf("expected %d bytes of float32 pixels, got %d", 4*n, len(raw))
	}
	data := make([]float32, n)
	err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, data)
	return data, err
}

// TaskToStruct encodes an export task for the Submit call.  Band
// pixels travel as base64 little endian float32.
func TaskToStruct(task *processor.ExportTask, submitted time.Time) (*structpb.Struct, error) {
	if len(task.Bands) != len(task.BandNames) {
		return nil, fmt.Errorf("task %s has %d bands and %d band names", task.Description, len(task.Bands), len(task.BandNames))
	}

	ts, err := ptypes.TimestampProto(submitted)
	if err != nil {
		return nil, err
	}

	bbox := make([]interface{}, len(task.BBox))
	for i, v := range task.BBox {
		bbox[i] = v
	}
	names := make([]interface{}, len(task.BandNames))
	bands := make([]interface{}, len(task.Bands))
	for i, b := range task.Bands {
		if len(b.Data) != task.Width*task.Height {
			return nil, fmt.Errorf("band %s has %d pixels, task is %dx%d", task.BandNames[i], len(b.Data), task.Width, task.Height)
		}
		raw, err := encodeFloat32(b.Data)
		if err != nil {
			return nil, err
		}
		names[i] = task.BandNames[i]
		bands[i] = raw
	}

	fields := map[string]interface{}{
		"year":        task.Year,
		"description": task.Description,
		"folder":      task.Folder,
		"region":      task.Region,
		"bbox":        bbox,
		"scale":       task.Scale,
		"crs":         task.CRS,
		"variable":    task.Variable,
		"band_names":  names,
		"bands":       bands,
		"width":       task.Width,
		"height":      task.Height,
		"submitted":   ptypes.TimestampString(ts),
	}
	// NaN is not representable in JSON based values
	if !math.IsNaN(task.NoData) {
		fields["nodata"] = task.NoData
	}
	return structpb.NewStruct(fields)
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func numberField(s *structpb.Struct, key string) float64 {
	return s.GetFields()[key].GetNumberValue()
}

// TaskFromStruct decodes a submitted task.
func TaskFromStruct(s *structpb.Struct) (*processor.ExportTask, error) {
	task := &processor.ExportTask{
		Year:        int(numberField(s, "year")),
		Description: stringField(s, "description"),
		Folder:      stringField(s, "folder"),
		Region:      stringField(s, "region"),
		Scale:       numberField(s, "scale"),
		CRS:         stringField(s, "crs"),
		Variable:    stringField(s, "variable"),
		Width:       int(numberField(s, "width")),
		Height:      int(numberField(s, "height")),
		NoData:      math.NaN(),
	}
	if len(task.Description) == 0 {
		return nil, fmt.Errorf("task without description")
	}
	if _, err := safeName(task.Description); err != nil {
		return nil, fmt.Errorf("task description: %v", err)
	}
	if len(task.Folder) > 0 {
		if _, err := safeName(task.Folder); err != nil {
			return nil, fmt.Errorf("task %s folder: %v", task.Description, err)
		}
	}
	if task.Width <= 0 || task.Height <= 0 {
		return nil, fmt.Errorf("task %s: invalid size %dx%d", task.Description, task.Width, task.Height)
	}
	if v, ok := s.GetFields()["nodata"]; ok {
		task.NoData = v.GetNumberValue()
	}

	for _, v := range s.GetFields()["bbox"].GetListValue().GetValues() {
		task.BBox = append(task.BBox, v.GetNumberValue())
	}
	if len(task.BBox) != 4 {
		return nil, fmt.Errorf("task %s: bbox must have 4 values", task.Description)
	}

	names := s.GetFields()["band_names"].GetListValue().GetValues()
	bands := s.GetFields()["bands"].GetListValue().GetValues()
	if len(names) == 0 || len(names) != len(bands) {
		return nil, fmt.Errorf("task %s has %d bands and %d band names", task.Description, len(bands), len(names))
	}
	for i, v := range bands {
		raw, err := decodeBase64(v.GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("task %s band %d: %v", task.Description, i, err)
		}
		data, err := decodeFloat32(raw, task.Width*task.Height)
		if err != nil {
			return nil, fmt.Errorf("task %s band %d: %v", task.Description, i, err)
		}
		name := names[i].GetStringValue()
		task.BandNames = append(task.BandNames, name)
		task.Bands = append(task.Bands, &utils.Float32Raster{
			Data:      data,
			Width:     task.Width,
			Height:    task.Height,
			NoData:    task.NoData,
			NameSpace: name,
		})
	}
	return task, nil
}
