package main

import (
	"github.com/BurntSushi/toml"
)

// Config is the demo host's own configuration file (x0d.toml), grounded
// on chazu-maggie's BurntSushi/toml usage for small host-configuration
// files — flowa itself has no config file of its own (see DESIGN.md).
type Config struct {
	Listen   string `toml:"listen"`
	FlowFile string `toml:"flow_file"`
	EnvFile  string `toml:"env_file"`
	SMTPPort int    `toml:"smtp_port"`
}

func defaultConfig() *Config {
	return &Config{
		Listen:   ":8080",
		FlowFile: "main.flow",
		EnvFile:  ".env",
		SMTPPort: 587,
	}
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
