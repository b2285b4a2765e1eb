package commands

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show one SOS event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var ev sosEvent
		if err := call(http.MethodGet, "/v1/sos/"+args[0], &ev); err != nil {
			return err
		}

		fmt.Printf("session:   %s\n", ev.SessionID)
		statusColor(ev.Status).Printf("status:    %s\n", ev.Status)
		fmt.Printf("device:    %s\n", ev.CreatorDeviceID)
		fmt.Printf("attempts:  %d\n", ev.Attempts)
		fmt.Printf("cancelled: %v\n", ev.Cancelled)
		if ev.DecodeNote != "" {
			fmt.Printf("decode:    %s\n", ev.DecodeNote)
		}
		fmt.Printf("updated:   %s\n", time.UnixMilli(ev.UpdatedAt).UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
