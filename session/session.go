// Package session holds the handles a composite run needs: the scene
// archive, the export service client and the metrics logger.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nci/composite/catalogue"
	"github.com/nci/composite/export"
	"github.com/nci/composite/metrics"
	"github.com/nci/composite/processor"
	"github.com/nci/composite/utils"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	DefaultMASTimeout    = 60 * time.Second
	DefaultSubmitTimeout = 120 * time.Second
)

// Session is an authenticated connection to the archive and export
// services.  Create one with New and release it with Close.
type Session struct {
	Config        *utils.Config
	Archive       processor.Archive
	Submitter     processor.Submitter
	MetricsLogger metrics.Logger

	logger  *zap.Logger
	closers []func() error
}

// New connects to the services named in cfg.ServiceConfig.  The MAS
// index is used when mas_address is set, otherwise data_dir is crawled.
func New(ctx context.Context, cfg *utils.Config, logger *zap.Logger) (*Session, error) {
	sc := cfg.ServiceConfig
	s := &Session{Config: cfg, logger: logger}

	switch {
	case len(sc.MASAddress) > 0:
		s.Archive = catalogue.NewMASClient(sc.MASAddress, DefaultMASTimeout)
	case len(sc.DataDir) > 0:
		archive, err := catalogue.NewLocalArchive(sc.DataDir, sc.ReadConcurrency)
		if err != nil {
			return nil, err
		}
		logger.Sugar().Infow("crawled scene archive", "root", sc.DataDir, "collections", archive.Collections())
		s.Archive = archive
	default:
		return nil, utils.NewUserError("either service_config.mas_address or service_config.data_dir is required")
	}

	if len(sc.ExportAddress) == 0 {
		return nil, utils.NewUserError("service_config.export_address is required")
	}
	client, err := export.Dial(sc.ExportAddress, DefaultSubmitTimeout,
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(sc.MaxGrpcMsgSize), grpc.MaxCallRecvMsgSize(sc.MaxGrpcMsgSize)))
	if err != nil {
		return nil, err
	}
	s.Submitter = client
	s.closers = append(s.closers, client.Close)

	if len(sc.MetricsLogDir) > 0 {
		fl, err := metrics.NewFileLogger(sc.MetricsLogDir, 0, 0, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.MetricsLogger = fl
		s.closers = append(s.closers, func() error { fl.Close(); return nil })
	} else {
		s.MetricsLogger = metrics.NewZapLogger(logger)
	}
	return s, nil
}

// Close releases the session handles.
func (s *Session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Run loads the static masks and submits one export per year.
func (s *Session) Run(ctx context.Context) ([]*processor.ExportTask, error) {
	cfg := s.Config
	log := s.logger.Sugar()
	start := time.Now()

	mc := metrics.NewMetricsCollector(s.MetricsLogger)
	mc.Info.RunID = uuid.New().String()
	mc.Info.Region = cfg.Region.Name
	mc.Info.Method = cfg.Composite.Method
	defer func() {
		mc.Info.RunDuration = time.Since(start)
		mc.Log()
	}()

	masks, err := processor.LoadStaticMasks(ctx, s.Archive, cfg.StaticMasks, cfg.Grid, cfg.Region.BBox)
	if err != nil {
		mc.Info.Error = err.Error()
		return nil, fmt.Errorf("loading static masks: %w", err)
	}

	log.Infow("starting composite run", "run_id", mc.Info.RunID, "region", cfg.Region.Name,
		"method", cfg.Composite.Method, "start_year", cfg.Composite.StartYear, "end_year", cfg.Composite.EndYear)
	tasks, err := processor.RunComposites(ctx, s.Archive, s.Submitter, cfg, masks, log.With("run_id", mc.Info.RunID), mc)
	if err != nil {
		mc.Info.Error = err.Error()
	}
	return tasks, err
}
