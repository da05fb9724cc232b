package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nci/composite/processor"
	"github.com/nci/composite/session"
	"github.com/nci/composite/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the composites and submit one export per year",
	Args:  cobra.NoArgs,
	RunE:  runComposites,
}

func init() {
	runCmd.Flags().Int("start-year", 0, "First composite year, overrides composite.start_year")
	runCmd.Flags().Int("end-year", 0, "Last composite year, overrides composite.end_year")
	runCmd.Flags().String("method", "", "Composite method (max_index or median), overrides composite.method")
	runCmd.Flags().Bool("dry-run", false, "Build the composites without submitting exports")
	viper.BindPFlag("run.start_year", runCmd.Flags().Lookup("start-year"))
	viper.BindPFlag("run.end_year", runCmd.Flags().Lookup("end-year"))
	viper.BindPFlag("run.method", runCmd.Flags().Lookup("method"))
	viper.BindPFlag("run.dry_run", runCmd.Flags().Lookup("dry-run"))
}

// applyRunOverrides applies the run flags to cfg and validates it
// again.
func applyRunOverrides(cfg *utils.Config) error {
	changed := false
	if y := viper.GetInt("run.start_year"); y > 0 {
		cfg.Composite.StartYear = y
		changed = true
	}
	if y := viper.GetInt("run.end_year"); y > 0 {
		cfg.Composite.EndYear = y
		changed = true
	}
	if m := viper.GetString("run.method"); len(m) > 0 {
		cfg.Composite.Method = m
		changed = true
	}
	if !changed {
		return nil
	}
	if err := cfg.Prepare(); err != nil {
		return utils.UserErrorf("%v", err)
	}
	return nil
}

// dryRunSubmitter accepts every task without contacting the export
// service.
type dryRunSubmitter struct {
	logger *zap.SugaredLogger
}

func (d *dryRunSubmitter) Submit(ctx context.Context, task *processor.ExportTask) (string, error) {
	d.logger.Infow("dry run, export not submitted", "description", task.Description, "bands", task.BandNames)
	return "dry-run", nil
}

func runComposites(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err = applyRunOverrides(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	s, err := session.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	if viper.GetBool("run.dry_run") {
		s.Submitter = &dryRunSubmitter{logger: logger.Sugar()}
	}

	tasks, err := s.Run(ctx)
	for _, task := range tasks {
		if task.Err == nil {
			logger.Info("export queued", zap.Int("year", task.Year), zap.String("description", task.Description), zap.String("task_id", task.TaskID))
		}
	}
	return err
}
