package cli

import (
	"fmt"

	"go.yaml.in/yaml/v3"

	"github.com/vburojevic/beacon/internal/config"
	"github.com/vburojevic/beacon/internal/output"
)

// ConfigCmd groups configuration subcommands
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" default:"1" help:"Show the effective configuration"`
	Path     ConfigPathCmd     `cmd:"" help:"Show which config file is in use"`
	Generate ConfigGenerateCmd `cmd:"" help:"Print a sample beacon.yaml"`
}

// ConfigShowCmd prints the effective configuration
type ConfigShowCmd struct{}

// Run executes the config show command
func (c *ConfigShowCmd) Run(globals *Globals) error {
	cfg := globals.Config
	if cfg == nil {
		cfg = config.Default()
	}
	data, err := cfg.YAML()
	if err != nil {
		return outputErrorCommon(globals, "CONFIG_ENCODE_FAILED", err.Error())
	}

	if globals.Format == "ndjson" {
		var settings map[string]interface{}
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return outputErrorCommon(globals, "CONFIG_ENCODE_FAILED", err.Error())
		}
		record := map[string]interface{}{
			"type":          "config",
			"schemaVersion": output.SchemaVersion,
			"config_file":   config.ConfigFile(),
		}
		for k, v := range settings {
			record[k] = v
		}
		return output.NewNDJSONWriter(globals.Stdout).Write(record)
	}

	fmt.Fprintln(globals.Stdout, "Current Configuration:")
	if path := config.ConfigFile(); path != "" {
		fmt.Fprintf(globals.Stdout, "# loaded from %s\n", path)
	}
	fmt.Fprint(globals.Stdout, string(data))
	return nil
}

// ConfigPathCmd prints the config file location
type ConfigPathCmd struct{}

// Run executes the config path command
func (c *ConfigPathCmd) Run(globals *Globals) error {
	path := config.ConfigFile()
	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout).Write(map[string]interface{}{
			"type":          "config_path",
			"schemaVersion": output.SchemaVersion,
			"path":          path,
			"found":         path != "",
		})
	}
	if path == "" {
		fmt.Fprintln(globals.Stdout, "No configuration file found (searched beacon.yaml and .beaconrc)")
		return nil
	}
	fmt.Fprintf(globals.Stdout, "Config file: %s\n", path)
	return nil
}

// ConfigGenerateCmd prints a sample configuration with defaults filled in
type ConfigGenerateCmd struct{}

// Run executes the config generate command
func (c *ConfigGenerateCmd) Run(globals *Globals) error {
	data, err := config.Default().YAML()
	if err != nil {
		return outputErrorCommon(globals, "CONFIG_ENCODE_FAILED", err.Error())
	}
	fmt.Fprintln(globals.Stdout, "# beacon configuration file")
	fmt.Fprintln(globals.Stdout, "# Save as ~/.beaconrc or ./beacon.yaml. Every key can be overridden with BEACON_<SECTION>_<KEY>.")
	fmt.Fprint(globals.Stdout, string(data))
	return nil
}
