package cmd

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RunConfig is the CLI harness's own run configuration: which fixtures to
// load, which domain to start on, and a seed. Seed is decoded but neither
// replay nor serve reads it. This is
// distinct from the persisted-state JSON formats the core works with — it
// configures the harness invoking the core, not the core itself.
type RunConfig struct {
	Seed      int64  `yaml:"seed"`
	DataDir   string `yaml:"data_dir"`
	Domain    string `yaml:"domain"`
	Responses string `yaml:"responses"`
	StateDir  string `yaml:"state_dir"`
	Mode      string `yaml:"mode"`
	Addr      string `yaml:"addr"`
}

// LoadRunConfig reads and strictly decodes a YAML run-configuration file:
// unrecognized keys are rejected so a typo in the config file fails loudly
// instead of silently falling back to a flag default.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run config: %w", err)
	}
	var cfg RunConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing run config: %w", err)
	}
	return &cfg, nil
}

// applyString overrides dst with src when src is non-empty, used to let a
// YAML run config override a flag's value. A non-empty config field wins
// over the flag whether or not the user passed it; an empty field leaves the
// flag's value unchanged.
func applyString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}
