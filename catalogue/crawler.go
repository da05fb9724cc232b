package catalogue

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	goeval "github.com/edisonguo/govaluate"
	"github.com/nci/composite/utils"
)

const DefaultMaxCrawlErrors = 1000

// ParsePattern parses a scene filter expression.  The expression can
// reference path, platform and collection.  An empty pattern accepts
// every scene.
func ParsePattern(pattern string) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, err
	}

	validVariables := map[string]struct{}{"path": {}, "platform": {}, "collection": {}}
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := validVariables[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported. Valid variables are path, platform and collection", varName)
			}
		}
	}
	return expr, nil
}

// Crawler walks a directory tree concurrently and reads every scene
// directory it finds.  A scene directory is any directory holding a
// scene.yaml file; its subdirectories are not visited.
type Crawler struct {
	Outputs       chan *utils.SceneRecord
	Error         chan error
	wg            sync.WaitGroup
	concLimit     chan struct{}
	outputDone    chan struct{}
	store         *SceneStore
	pattern       *goeval.EvaluableExpression
	followSymlink bool
	records       []*utils.SceneRecord
	dropped       int64
}

func NewCrawler(conc int, pattern *goeval.EvaluableExpression, followSymlink bool) *Crawler {
	if conc <= 0 {
		conc = 1
	}
	return &Crawler{
		Outputs:       make(chan *utils.SceneRecord, 4096),
		Error:         make(chan error, DefaultMaxCrawlErrors),
		concLimit:     make(chan struct{}, conc),
		outputDone:    make(chan struct{}, 1),
		store:         NewSceneStore(),
		pattern:       pattern,
		followSymlink: followSymlink,
	}
}

// Crawl returns the records found under rootDir sorted by id.  Errors
// on individual directories don't stop the crawl and are returned
// joined with the records found.
func (c *Crawler) Crawl(rootDir string) ([]*utils.SceneRecord, error) {
	absRootDir, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, err
	}
	if _, err = os.Stat(absRootDir); err != nil {
		return nil, err
	}

	go c.collect()

	c.wg.Add(1)
	c.concLimit <- struct{}{}
	c.crawlDir(absRootDir, false)
	c.wg.Wait()

	close(c.Outputs)
	<-c.outputDone

	sort.Slice(c.records, func(i, j int) bool { return c.records[i].ID < c.records[j].ID })

	close(c.Error)
	var errors []string
	for err := range c.Error {
		errors = append(errors, err.Error())
	}
	if n := atomic.LoadInt64(&c.dropped); n > 0 {
		errors = append(errors, fmt.Sprintf(" ... %d more errors", n))
	}

	if len(errors) > 0 {
		return c.records, fmt.Errorf("%s", strings.Join(errors, "\n"))
	}
	return c.records, nil
}

// sendError keeps the first errors up to the capacity of Error and
// counts the rest.
func (c *Crawler) sendError(err error) {
	select {
	case c.Error <- err:
	default:
		atomic.AddInt64(&c.dropped, 1)
	}
}

func (c *Crawler) crawlDir(currPath string, serialised bool) {
	defer c.wg.Done()
	if !serialised {
		defer func() { <-c.concLimit }()
	}

	entries, err := os.ReadDir(currPath)
	if err != nil {
		c.sendError(fmt.Errorf("Could not read dir %s: %v", currPath, err))
		return
	}

	for _, e := range entries {
		if e.Name() == SceneFile && e.Type().IsRegular() {
			c.readScene(currPath)
			return
		}
	}

	for _, e := range entries {
		filePath := filepath.Join(currPath, e.Name())
		isDir := e.IsDir()
		if e.Type()&os.ModeSymlink != 0 {
			if !c.followSymlink {
				continue
			}
			fStat, err := os.Stat(filePath)
			if err != nil {
				c.sendError(err)
				continue
			}
			isDir = fStat.IsDir()
		}
		if !isDir {
			continue
		}

		c.wg.Add(1)
		select {
		case c.concLimit <- struct{}{}:
			go func(p string) {
				c.crawlDir(p, false)
			}(filePath)
		default:
			c.crawlDir(filePath, true)
		}
	}
}

func (c *Crawler) readScene(dir string) {
	rec, err := c.store.ReadRecord(dir)
	if err != nil {
		c.sendError(err)
		return
	}

	if c.pattern != nil {
		ok, err := c.evaluatePattern(rec)
		if err != nil {
			c.sendError(err)
			return
		}
		if !ok {
			return
		}
	}
	c.Outputs <- rec
}

func (c *Crawler) evaluatePattern(rec *utils.SceneRecord) (bool, error) {
	parameters := map[string]interface{}{
		"path":       rec.Path,
		"platform":   rec.Platform,
		"collection": rec.Collection,
	}
	result, err := c.pattern.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("pattern expression: %v", err)
	}

	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("pattern expression: result '%v' is not boolean", result)
	}
	return val, nil
}

func (c *Crawler) collect() {
	for rec := range c.Outputs {
		c.records = append(c.records, rec)
	}
	c.outputDone <- struct{}{}
}

// WriteRecords prints one line per record, either the JSON record or,
// for the tsv format, the path and collection followed by the record.
func WriteRecords(w io.Writer, recs []*utils.SceneRecord, format string) error {
	for _, rec := range recs {
		out, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		line := string(out)
		switch format {
		case "", "json":
		case "tsv":
			line = fmt.Sprintf("%s\t%s\t%s", rec.Path, rec.Collection, line)
		default:
			return fmt.Errorf("output format %q not supported", format)
		}
		if _, err = fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]utils.Raster) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
