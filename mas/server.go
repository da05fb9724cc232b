package mas

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nci/composite/utils"
	"go.uber.org/zap"
)

// Spit out a simple JSON-formatted error message for Content-Type: application/json
func httpJSONError(response http.ResponseWriter, err error, status int) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)
	fmt.Fprintf(response, "{ \"error\": %q }\n", err.Error())
}

// Server answers ?intersects searches and ?ingest uploads.
type Server struct {
	Index  Index
	Cache  Cache
	Logger *zap.SugaredLogger
}

func NewServer(index Index, cache Cache, logger *zap.SugaredLogger) *Server {
	return &Server{Index: index, Cache: cache, Logger: logger}
}

func (s *Server) ServeHTTP(response http.ResponseWriter, request *http.Request) {
	response.Header().Set("Content-Type", "application/json")

	query := request.URL.Query()
	if _, ok := query["ingest"]; ok {
		s.ingest(response, request)
		return
	}
	if _, ok := query["intersects"]; ok {
		s.intersects(response, request)
		return
	}

	httpJSONError(response, errors.New("unknown operation; currently supported: ?intersects, ?ingest"), http.StatusBadRequest)
}

func (s *Server) intersects(response http.ResponseWriter, request *http.Request) {
	q, err := ParseQuery(request)
	if err != nil {
		httpJSONError(response, err, http.StatusBadRequest)
		return
	}

	var hash string
	if s.Cache != nil {
		hash = CacheKey(request.URL.RequestURI(), q.WKT)
		if cached, err := s.Cache.Get(hash); err == nil {
			response.Write(cached)
			return
		}
	}

	payload, err := s.Index.Intersects(request.Context(), q)
	if err != nil {
		s.Logger.Errorw("intersects failed", "collection", q.Collection, "error", err)
		httpJSONError(response, err, http.StatusBadRequest)
		return
	}
	response.Write(payload)

	if s.Cache != nil {
		// memcache may not retain the payload anyway
		if err := s.Cache.Set(hash, payload); err != nil {
			s.Logger.Debugw("cache set failed", "error", err)
		}
	}
}

func validateRecord(rec *utils.SceneRecord) error {
	if rec == nil || len(rec.ID) == 0 || len(rec.Collection) == 0 {
		return errors.New("record without id or collection")
	}
	if _, err := rec.Time(); err != nil {
		return fmt.Errorf("record %s: %v", rec.ID, err)
	}
	if len(rec.BBox) != 4 {
		return fmt.Errorf("record %s: bbox must have 4 values", rec.ID)
	}
	return nil
}

func (s *Server) ingest(response http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		httpJSONError(response, errors.New("ingest requires POST"), http.StatusMethodNotAllowed)
		return
	}

	var recs []*utils.SceneRecord
	if err := json.NewDecoder(request.Body).Decode(&recs); err != nil {
		httpJSONError(response, fmt.Errorf("invalid records: %v", err), http.StatusBadRequest)
		return
	}
	for _, rec := range recs {
		if err := validateRecord(rec); err != nil {
			httpJSONError(response, err, http.StatusBadRequest)
			return
		}
	}

	n, err := s.Index.Ingest(request.Context(), recs)
	if err != nil {
		s.Logger.Errorw("ingest failed", "records", len(recs), "error", err)
		httpJSONError(response, err, http.StatusInternalServerError)
		return
	}
	if s.Cache != nil {
		if err := s.Cache.Invalidate(); err != nil {
			s.Logger.Warnw("cache invalidation failed", "error", err)
		}
	}
	s.Logger.Infow("ingested records", "records", n)

	json.NewEncoder(response).Encode(map[string]int{"ingested": n})
}
