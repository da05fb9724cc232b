package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nci/composite/utils"
	"github.com/spf13/cobra"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and print the resolved run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		printConfigSummary(cmd, cfg)
		return nil
	},
}

func printConfigSummary(cmd *cobra.Command, cfg *utils.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "region %s bbox %v\n", cfg.Region.Name, cfg.Region.BBox)
	fmt.Fprintf(out, "grid %s %dx%d\n", cfg.Grid.CRS, cfg.Grid.Width, cfg.Grid.Height)
	for _, c := range cfg.Collections {
		raw := make([]string, 0, len(c.Bands))
		for r := range c.Bands {
			raw = append(raw, r)
		}
		sort.Strings(raw)
		fmt.Fprintf(out, "collection %s (%s) %s..%s doy %d-%d cloud<%v qa %s bands %s\n",
			c.Name, c.Platform, c.StartISODate, c.EndISODate, c.DOYStart, c.DOYEnd, c.MaxCloudCover, c.QABand, strings.Join(raw, ","))
	}
	fmt.Fprintf(out, "composite %s %d-%d index %s\n", cfg.Composite.Method, cfg.Composite.StartYear, cfg.Composite.EndYear, cfg.Composite.Index.Name)
	if cfg.StaticMasks.Cultivation != nil {
		fmt.Fprintf(out, "cultivation years %v\n", cfg.StaticMasks.Cultivation.Years)
	}
	fmt.Fprintf(out, "export folder %s scale %v crs %s\n", cfg.Export.Folder, cfg.Export.Scale, cfg.Export.CRS)
}
