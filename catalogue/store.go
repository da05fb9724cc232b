package catalogue

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"

	"github.com/nci/composite/utils"
	"gopkg.in/yaml.v2"
)

// SceneFile is the metadata file of a scene directory.
const SceneFile = "scene.yaml"

// SceneStore reads and writes scene directories: a scene.yaml record
// next to one raw little endian file per band.
type SceneStore struct{}

func NewSceneStore() *SceneStore {
	return &SceneStore{}
}

// ReadRecord parses the scene.yaml of dir.
func (s *SceneStore) ReadRecord(dir string) (*utils.SceneRecord, error) {
	raw, err := ioutil.ReadFile(filepath.Join(dir, SceneFile))
	if err != nil {
		return nil, err
	}

	rec := &utils.SceneRecord{}
	if err = yaml.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("%s: %v", filepath.Join(dir, SceneFile), err)
	}
	if err = validateRecord(rec); err != nil {
		return nil, fmt.Errorf("%s: %v", filepath.Join(dir, SceneFile), err)
	}
	rec.Path = dir
	return rec, nil
}

func validateRecord(rec *utils.SceneRecord) error {
	if len(rec.ID) == 0 {
		return fmt.Errorf("scene without id")
	}
	if len(rec.Collection) == 0 {
		return fmt.Errorf("scene %s without collection", rec.ID)
	}
	if _, err := rec.Time(); err != nil {
		return fmt.Errorf("scene %s: %v", rec.ID, err)
	}
	if rec.Width <= 0 || rec.Height <= 0 {
		return fmt.Errorf("scene %s: invalid size %dx%d", rec.ID, rec.Width, rec.Height)
	}
	if len(rec.BBox) != 4 {
		return fmt.Errorf("scene %s: bbox must have 4 values", rec.ID)
	}
	for _, b := range rec.Bands {
		if _, err := bytesPerPixel(b.DataType); err != nil {
			return fmt.Errorf("scene %s band %s: %v", rec.ID, b.Name, err)
		}
	}
	return nil
}

func bytesPerPixel(dataType string) (int, error) {
	switch dataType {
	case utils.TypeByte:
		return 1, nil
	case utils.TypeInt16, utils.TypeUInt16:
		return 2, nil
	case utils.TypeFloat32:
		return 4, nil
	default:
		return 0, fmt.Errorf("data type %q not supported", dataType)
	}
}

// LoadBands reads the named bands of rec.
func (s *SceneStore) LoadBands(ctx context.Context, rec *utils.SceneRecord, bands []string) (map[string]utils.Raster, error) {
	out := make(map[string]utils.Raster, len(bands))
	for _, name := range bands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, found := out[name]; found {
			continue
		}

		info, err := rec.Band(name)
		if err != nil {
			return nil, err
		}
		r, err := s.readBand(rec, info)
		if err != nil {
			return nil, err
		}
		out[name] = r
	}
	return out, nil
}

func (s *SceneStore) readBand(rec *utils.SceneRecord, info *utils.BandInfo) (utils.Raster, error) {
	fileName := info.File
	if !filepath.IsAbs(fileName) {
		fileName = filepath.Join(rec.Path, fileName)
	}
	raw, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, err
	}

	size := rec.Width * rec.Height
	bpp, err := bytesPerPixel(info.DataType)
	if err != nil {
		return nil, err
	}
	if len(raw) != size*bpp {
		return nil, fmt.Errorf("%s: expected %d bytes for %dx%d %s, got %d", fileName, size*bpp, rec.Width, rec.Height, info.DataType, len(raw))
	}

	noData := math.NaN()
	if info.NoData != nil {
		noData = *info.NoData
	}

	rd := bytes.NewReader(raw)
	switch info.DataType {
	case utils.TypeByte:
		return &utils.ByteRaster{Data: raw, Width: rec.Width, Height: rec.Height, NoData: noData, NameSpace: info.Name}, nil
	case utils.TypeInt16:
		data := make([]int16, size)
		err = binary.Read(rd, binary.LittleEndian, data)
		return &utils.Int16Raster{Data: data, Width: rec.Width, Height: rec.Height, NoData: noData, NameSpace: info.Name}, err
	case utils.TypeUInt16:
		data := make([]uint16, size)
		err = binary.Read(rd, binary.LittleEndian, data)
		return &utils.UInt16Raster{Data: data, Width: rec.Width, Height: rec.Height, NoData: noData, NameSpace: info.Name}, err
	default:
		data := make([]float32, size)
		err = binary.Read(rd, binary.LittleEndian, data)
		return &utils.Float32Raster{Data: data, Width: rec.Width, Height: rec.Height, NoData: noData, NameSpace: info.Name}, err
	}
}

// WriteScene writes rasters and the scene.yaml of rec into dir.  The
// band descriptors of rec are derived from rasters.
func (s *SceneStore) WriteScene(dir string, rec *utils.SceneRecord, rasters map[string]utils.Raster) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	rec.Bands = rec.Bands[:0]
	for _, name := range sortedKeys(rasters) {
		r := rasters[name]
		var dataType string
		var data interface{}
		var n int
		switch t := r.(type) {
		case *utils.ByteRaster:
			dataType, data, n = utils.TypeByte, t.Data, len(t.Data)
		case *utils.Int16Raster:
			dataType, data, n = utils.TypeInt16, t.Data, len(t.Data)
		case *utils.UInt16Raster:
			dataType, data, n = utils.TypeUInt16, t.Data, len(t.Data)
		case *utils.Float32Raster:
			dataType, data, n = utils.TypeFloat32, t.Data, len(t.Data)
		default:
			return fmt.Errorf("band %s: raster type %T not supported", name, r)
		}
		if n != rec.Width*rec.Height {
			return fmt.Errorf("band %s has %d pixels, scene is %dx%d", name, n, rec.Width, rec.Height)
		}

		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
			return err
		}
		file := name + ".raw"
		if err := ioutil.WriteFile(filepath.Join(dir, file), buf.Bytes(), 0644); err != nil {
			return err
		}

		info := utils.BandInfo{Name: name, File: file, DataType: dataType}
		if noData := r.GetNoData(); !math.IsNaN(noData) {
			info.NoData = &noData
		}
		rec.Bands = append(rec.Bands, info)
	}

	raw, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	if err = ioutil.WriteFile(filepath.Join(dir, SceneFile), raw, 0644); err != nil {
		return err
	}
	rec.Path = dir
	return nil
}
