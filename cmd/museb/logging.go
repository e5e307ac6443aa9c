package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/museb/pkg/config"
)

// dotenvFiles are loaded before the environment is read; .env.local wins.
var dotenvFiles = []string{".env.local", ".env"}

// loadSettings resolves configuration for cmd: defaults, --config file, .env
// files and MUSEB_* variables, then explicitly set global flags on top.
// Logging stays silent unless a level is configured.
func loadSettings(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, dotenvFiles...)
	if err != nil {
		return nil, nil, err
	}

	overrides := map[string]*string{
		"log-level": &cfg.LogLevel,
		"backend":   &cfg.Backend,
		"scenario":  &cfg.Scenario,
	}
	for name, field := range overrides {
		if cmd.Flags().Changed(name) {
			*field, _ = cmd.Flags().GetString(name)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	logger.WithFields(logrus.Fields{
		"backend": cfg.Backend,
		"config":  path,
	}).Debug("Configuration loaded")
	return cfg, logger, nil
}
