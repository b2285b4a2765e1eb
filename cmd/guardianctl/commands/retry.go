package commands

import (
	"net/http"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry <session-id>",
	Short: "Restart dispatch for a DispatchFailed event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp sosEvent
		if err := call(http.MethodPost, "/v1/sos/"+args[0]+"/retry", &resp); err != nil {
			color.Red("retry %s: %v", args[0], err)
			return err
		}
		color.Green("retry accepted: %s -> %s", resp.SessionID, resp.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
}
