package cli

import (
	"github.com/olekukonko/tablewriter"

	"github.com/vburojevic/beacon/internal/device"
	"github.com/vburojevic/beacon/internal/domain"
	"github.com/vburojevic/beacon/internal/output"
	"github.com/vburojevic/beacon/internal/telemetry"
)

// DeviceCmd prints the device context attached to sessions and events
type DeviceCmd struct {
	InfoPlist string `help:"Read app version and build from this Info.plist" type:"existingfile"`
}

// DeviceOutput is the NDJSON record for the device command
type DeviceOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	domain.DeviceContext
}

// Run executes the device command
func (c *DeviceCmd) Run(globals *Globals) error {
	overrides := telemetry.DeviceOverrides(globals.Config.Device)
	if c.InfoPlist != "" {
		overrides.InfoPlist = c.InfoPlist
	}
	dev := device.NewProvider(overrides).Context()
	globals.Debug("resolved device context for %s", dev.UserAgent)

	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout).Write(DeviceOutput{
			Type:          "device",
			SchemaVersion: output.SchemaVersion,
			DeviceContext: dev,
		})
	}

	table := tablewriter.NewWriter(globals.Stdout)
	table.Header("Field", "Value")
	rows := [][]string{
		{"device type", dev.DeviceType},
		{"model", dev.Model},
		{"os version", dev.OSVersion},
		{"app", dev.AppName},
		{"app version", dev.AppVersion},
		{"app build", dev.AppBuild},
		{"user agent", dev.UserAgent},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
