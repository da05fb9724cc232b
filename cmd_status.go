package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nci/composite/export"
	"github.com/nci/composite/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status <task id>...",
	Short: "Print the state of submitted export tasks",
	Args:  cobra.MinimumNArgs(1),
	RunE:  taskStatus,
}

func init() {
	statusCmd.Flags().String("export-address", "", "Export service address, defaults to service_config.export_address")
	viper.BindPFlag("status.export_address", statusCmd.Flags().Lookup("export-address"))
}

func taskStatus(cmd *cobra.Command, args []string) error {
	address := viper.GetString("status.export_address")
	if len(address) == 0 {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		address = cfg.ServiceConfig.ExportAddress
	}
	if len(address) == 0 {
		return utils.NewUserError("no export service address given")
	}

	client, err := export.Dial(address, 30*time.Second)
	if err != nil {
		return err
	}
	defer client.Close()

	out := cmd.OutOrStdout()
	for _, id := range args {
		st, err := client.Status(context.Background(), id)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("%s\t%s\t%s\t%s", st.ID, st.Description, st.State, st.Updated.Format(time.RFC3339))
		if len(st.Output) > 0 {
			line += "\t" + st.Output
		}
		if len(st.Error) > 0 {
			line += "\t" + st.Error
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
