package commands

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	sweepStatus string
	sweepDevice string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "List SOS events by status (default: DispatchFailed) or device",
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepStatus, "status", "DispatchFailed", "Status to sweep for")
	sweepCmd.Flags().StringVar(&sweepDevice, "device", "", "List events for one device instead")
	rootCmd.AddCommand(sweepCmd)
}

func statusColor(status string) *color.Color {
	switch status {
	case "Dispatched":
		return color.New(color.FgGreen)
	case "DispatchFailed":
		return color.New(color.FgRed, color.Bold)
	case "Dispatching":
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgWhite)
	}
}

func runSweep(cmd *cobra.Command, args []string) error {
	query := "status=" + url.QueryEscape(sweepStatus)
	if sweepDevice != "" {
		query = "device_id=" + url.QueryEscape(sweepDevice)
	}

	var resp struct {
		Events []sosEvent `json:"events"`
	}
	if err := call(http.MethodGet, "/v1/sos?"+query, &resp); err != nil {
		return err
	}

	if len(resp.Events) == 0 {
		fmt.Println("no matching events")
		return nil
	}

	for _, ev := range resp.Events {
		line := fmt.Sprintf("%-40s  %-14s  attempts=%d  device=%s  updated=%s",
			ev.SessionID, ev.Status, ev.Attempts, ev.CreatorDeviceID,
			time.UnixMilli(ev.UpdatedAt).UTC().Format(time.RFC3339))
		if ev.Cancelled {
			line += "  [cancelled]"
		}
		statusColor(ev.Status).Println(line)
	}
	return nil
}
