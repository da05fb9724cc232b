package catalogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nci/composite/utils"
)

// SearchResult is the payload of the index service.
type SearchResult struct {
	Scenes []*utils.SceneRecord `json:"scenes"`
	Error  string               `json:"error,omitempty"`
}

// MASClient searches the scene index service.  Pixels are read from
// the paths the index returns.
type MASClient struct {
	Address string
	Client  *http.Client
	store   *SceneStore
}

func NewMASClient(address string, timeout time.Duration) *MASClient {
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	return &MASClient{
		Address: strings.TrimRight(address, "/"),
		Client:  &http.Client{Timeout: timeout},
		store:   NewSceneStore(),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(utils.ISOFormat)
}

// SearchURL is the intersects url of q.  The region WKT travels in the
// request body.
func (c *MASClient) SearchURL(q *utils.SceneQuery) string {
	params := url.Values{}
	if !q.Start.IsZero() {
		params.Set("time", formatTime(q.Start))
	}
	if !q.End.IsZero() {
		params.Set("until", formatTime(q.End))
	}
	if q.DOYStart > 0 && q.DOYEnd > 0 {
		params.Set("doy_start", strconv.Itoa(q.DOYStart))
		params.Set("doy_end", strconv.Itoa(q.DOYEnd))
	}
	if q.MaxCloudCover > 0 {
		params.Set("max_cloud", strconv.FormatFloat(q.MaxCloudCover, 'f', -1, 64))
	}
	if len(q.BBox) == 4 {
		params.Set("bbox", fmt.Sprintf("%f,%f,%f,%f", q.BBox[0], q.BBox[1], q.BBox[2], q.BBox[3]))
	}
	return fmt.Sprintf("%s/%s?intersects&%s", c.Address, url.PathEscape(q.Collection), params.Encode())
}

func (c *MASClient) Search(ctx context.Context, q *utils.SceneQuery) ([]*utils.SceneRecord, error) {
	form := url.Values{}
	if len(q.WKT) > 0 {
		form.Set("wkt", q.WKT)
	}
	return c.post(ctx, c.SearchURL(q), "application/x-www-form-urlencoded", []byte(form.Encode()))
}

func (c *MASClient) FindAux(ctx context.Context, collection string, year int, bbox []float64) (*utils.SceneRecord, error) {
	q := &utils.SceneQuery{Collection: collection, BBox: bbox}
	if year != 0 {
		q.Start = time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
		q.End = q.Start.AddDate(1, 0, 0)
	}
	recs, err := c.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	return findAux(recs, collection, year, bbox)
}

func (c *MASClient) LoadBands(ctx context.Context, rec *utils.SceneRecord, bands []string) (map[string]utils.Raster, error) {
	return c.store.LoadBands(ctx, rec, bands)
}

// Ingest uploads records to the index and returns how many were
// stored.
func (c *MASClient) Ingest(ctx context.Context, recs []*utils.SceneRecord) (int, error) {
	body, err := json.Marshal(recs)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequest(http.MethodPost, c.Address+"/?ingest", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	raw, err := c.do(ctx, req)
	if err != nil {
		return 0, err
	}

	var result struct {
		Ingested int    `json:"ingested"`
		Error    string `json:"error,omitempty"`
	}
	if err = json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("MAS ingest: %v", err)
	}
	if len(result.Error) > 0 {
		return result.Ingested, fmt.Errorf("MAS ingest: %s", result.Error)
	}
	return result.Ingested, nil
}

func (c *MASClient) post(ctx context.Context, u, contentType string, body []byte) ([]*utils.SceneRecord, error) {
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	raw, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	var result SearchResult
	if err = json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("MAS json response error: %v", err)
	}
	if len(result.Error) > 0 {
		return nil, fmt.Errorf("MAS error: %s", result.Error)
	}
	return result.Scenes, nil
}

func (c *MASClient) do(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := c.Client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("MAS http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("MAS http error: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var result SearchResult
		if json.Unmarshal(raw, &result) == nil && len(result.Error) > 0 {
			return nil, fmt.Errorf("MAS error (%d): %s", resp.StatusCode, result.Error)
		}
		return nil, fmt.Errorf("MAS error: %s", resp.Status)
	}
	return raw, nil
}
