package commands

import (
	"net/http"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Mark an event as a confirmed false alarm",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := call(http.MethodPost, "/v1/sos/"+args[0]+"/cancel", nil); err != nil {
			color.Red("cancel %s: %v", args[0], err)
			return err
		}
		color.Green("cancelled %s", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
