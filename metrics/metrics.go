package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"
)

type URLInfo struct {
	RawURL string            `json:"raw_url"`
	Host   string            `json:"host"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query"`
}

type IndexerInfo struct {
	Duration    time.Duration `json:"duration"`
	URL         URLInfo       `json:"url"`
	Geometry    string        `json:"geometry"`
	NumScenes   int           `json:"num_scenes"`
	NumAccepted int           `json:"num_accepted"`
}

type ReaderInfo struct {
	Duration  time.Duration `json:"duration"`
	NumScenes int           `json:"num_scenes"`
	BytesRead int64         `json:"bytes_read"`
}

// YearInfo summarises the composite of one year.
type YearInfo struct {
	Year          int           `json:"year"`
	NumScenes     int           `json:"num_scenes"`
	ValidFraction float64       `json:"valid_fraction"`
	MeanIndex     float64       `json:"mean_index"`
	StdDevIndex   float64       `json:"stddev_index"`
	Duration      time.Duration `json:"duration"`
	Description   string        `json:"description,omitempty"`
	TaskID        string        `json:"task_id,omitempty"`
}

type MetricsInfo struct {
	RunID       string        `json:"run_id"`
	ReqTime     string        `json:"req_time"`
	RunDuration time.Duration `json:"run_duration"`
	Region      string        `json:"region"`
	Method      string        `json:"method"`
	Indexer     *IndexerInfo  `json:"indexer"`
	Reader      *ReaderInfo   `json:"reader"`
	Years       []*YearInfo   `json:"years"`
	Error       string        `json:"error,omitempty"`
}

// MetricsCollector accumulates the metrics of one pipeline run.  The
// pipeline stages run concurrently so updates go through its methods.
type MetricsCollector struct {
	Info   *MetricsInfo
	logger Logger
	mu     sync.Mutex
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	return &MetricsCollector{
		Info: &MetricsInfo{
			ReqTime: time.Now().UTC().Format(time.RFC3339),
			Indexer: &IndexerInfo{},
			Reader:  &ReaderInfo{},
		},
		logger: logger,
	}
}

// AddIndexed records an index query returning found scenes of which
// accepted passed the filters.
func (m *MetricsCollector) AddIndexed(rawURL string, found, accepted int, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Info.Indexer.URL.RawURL) == 0 {
		m.Info.Indexer.URL.RawURL = rawURL
	}
	m.Info.Indexer.NumScenes += found
	m.Info.Indexer.NumAccepted += accepted
	m.Info.Indexer.Duration += d
}

func (m *MetricsCollector) AddRead(bytesRead int64, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Info.Reader.NumScenes++
	m.Info.Reader.BytesRead += bytesRead
	m.Info.Reader.Duration += d
}

// SetYear stores the summary of a year, replacing any previous one.
func (m *MetricsCollector) SetYear(info *YearInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, y := range m.Info.Years {
		if y.Year == info.Year {
			m.Info.Years[i] = info
			return
		}
	}
	m.Info.Years = append(m.Info.Years, info)
}

// SetTask attaches the export task of a year.
func (m *MetricsCollector) SetTask(year int, description, taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, y := range m.Info.Years {
		if y.Year == year {
			y.Description = description
			y.TaskID = taskID
			return
		}
	}
	m.Info.Years = append(m.Info.Years, &YearInfo{Year: year, Description: description, TaskID: taskID})
}

func (m *MetricsCollector) Year(year int) (YearInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, y := range m.Info.Years {
		if y.Year == year {
			return *y, true
		}
	}
	return YearInfo{}, false
}

func (m *MetricsCollector) Log() {
	if m.logger != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.logger.Log(m.Info)
	}
}

func (i *MetricsInfo) ToJSON() (string, error) {
	i.normaliseURLs()
	sort.Slice(i.Years, func(a, b int) bool { return i.Years[a].Year < i.Years[b].Year })

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(i)
	if err == nil {
		return buf.String(), nil
	} else {
		return "", err
	}
}

func (i *MetricsInfo) normaliseURLs() {
	if i.Indexer != nil && len(i.Indexer.URL.RawURL) > 0 {
		// errors leave the raw url in place
		_ = normaliseURL(&i.Indexer.URL)
	}
}

func normaliseURL(u *URLInfo) error {
	r, err := url.Parse(u.RawURL)
	if err != nil {
		return err
	}

	u.Host = r.Host
	u.Path = r.Path
	query, err := url.ParseQuery(r.RawQuery)
	if err != nil {
		return err
	}

	if u.Query == nil {
		u.Query = make(map[string]string)
	}
	for k, v := range query {
		if len(v) == 1 {
			u.Query[k] = v[0]
		} else if len(v) > 1 {
			u.Query[k] = fmt.Sprintf("%v", v)
		} else {
			u.Query[k] = ""
		}
	}
	return nil
}
