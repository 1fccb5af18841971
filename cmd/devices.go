package cmd

import (
	"github.com/spf13/cobra"

	"github.com/makrame5/healthconnect/internal/media"
	"github.com/makrame5/healthconnect/internal/ui"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the cameras and microphones visible to the capture drivers",
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	infos := media.EnumerateDevices()

	items := make([]ui.DeviceTableItem, 0, len(infos))
	for i, d := range infos {
		items = append(items, ui.DeviceTableItem{
			Index: i + 1,
			Kind:  d.Kind,
			Label: d.Label,
			ID:    d.ID,
		})
	}

	ui.RenderDeviceTable(items)
	return nil
}
