package main

/* composite builds annual cloud masked Landsat 5/7 composites over a
   study region and queues one maximum NDVI export per year with the
   batch export service.  Scenes are found either through the MAS
   index service or by crawling a local archive. */

import (
	"fmt"
	"os"

	"github.com/nci/composite/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	verbose bool
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "composite",
	Short: "Annual Landsat 5/7 composites and maximum NDVI exports",
	Long: `composite runs the annual compositing pipeline: scene search, QA
cloud masking, per year median or maximum NDVI reduction, static water and
cultivation masking and submission of one export task per year.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = utils.NewLogger(verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
	rootCmd.PersistentFlags().StringP("config", "c", "composite.yaml", "Pipeline configuration file (JSON or YAML)")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(runCmd, crawlCmd, checkConfigCmd, statusCmd)
}

// loadConfig reads and validates the configuration named by --config.
// Invalid configurations are user errors.
func loadConfig() (*utils.Config, error) {
	configFile := viper.GetString("config")
	cfg := &utils.Config{}
	if err := cfg.LoadConfigFile(configFile); err != nil {
		return nil, utils.UserErrorf("%v", err)
	}
	if err := cfg.Prepare(); err != nil {
		return nil, utils.UserErrorf("%s: %v", configFile, err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if utils.IsUserError(err) {
			fmt.Fprintln(os.Stderr, "error:", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
