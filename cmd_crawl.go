package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nci/composite/catalogue"
	"github.com/nci/composite/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <root dir>",
	Short: "List the scene directories of an archive, optionally ingesting them into MAS",
	Args:  cobra.ExactArgs(1),
	RunE:  crawlArchive,
}

func init() {
	crawlCmd.Flags().Int("conc", 16, "Concurrent directory walkers")
	crawlCmd.Flags().String("pattern", "", "Filter expression over path, platform and collection")
	crawlCmd.Flags().Bool("follow-symlink", false, "Follow symbolic links")
	crawlCmd.Flags().String("format", "json", "Output format: json or tsv")
	crawlCmd.Flags().String("ingest", "", "MAS address receiving the crawled records")
	viper.BindPFlag("crawl.conc", crawlCmd.Flags().Lookup("conc"))
	viper.BindPFlag("crawl.pattern", crawlCmd.Flags().Lookup("pattern"))
	viper.BindPFlag("crawl.follow_symlink", crawlCmd.Flags().Lookup("follow-symlink"))
	viper.BindPFlag("crawl.format", crawlCmd.Flags().Lookup("format"))
	viper.BindPFlag("crawl.ingest", crawlCmd.Flags().Lookup("ingest"))
}

func crawlArchive(cmd *cobra.Command, args []string) error {
	format := viper.GetString("crawl.format")
	if format != "json" && format != "tsv" {
		return utils.UserErrorf("unknown output format %q, valid formats are json and tsv", format)
	}
	pattern, err := catalogue.ParsePattern(viper.GetString("crawl.pattern"))
	if err != nil {
		return utils.UserErrorf("invalid pattern: %v", err)
	}

	crawler := catalogue.NewCrawler(viper.GetInt("crawl.conc"), pattern, viper.GetBool("crawl.follow_symlink"))
	recs, crawlErr := crawler.Crawl(args[0])
	if crawlErr != nil {
		// partial results are still printed
		fmt.Fprintln(os.Stderr, crawlErr)
	}

	if address := viper.GetString("crawl.ingest"); len(address) > 0 {
		client := catalogue.NewMASClient(address, 5*time.Minute)
		n, err := client.Ingest(context.Background(), recs)
		if err != nil {
			return err
		}
		logger.Info("ingested records", zap.Int("records", n), zap.String("mas", address))
		return nil
	}

	if err := catalogue.WriteRecords(cmd.OutOrStdout(), recs, format); err != nil {
		return err
	}
	if crawlErr != nil && len(recs) == 0 {
		return crawlErr
	}
	return nil
}
