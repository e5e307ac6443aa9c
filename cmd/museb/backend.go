package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/museb"
	"github.com/srg/museb/internal/bridge"
	"github.com/srg/museb/internal/headband"
	"github.com/srg/museb/internal/headband/goble"
	"github.com/srg/museb/internal/headband/replay"
	"github.com/srg/museb/pkg/config"
)

// backendFactory builds the SDK manager. Tests replace it with a mock.
var backendFactory = openBackend

// openBackend returns the manager selected by cfg and a release function.
func openBackend(cfg *config.Config, logger *logrus.Logger) (headband.Manager, func() error, error) {
	switch cfg.Backend {
	case config.BackendBLE:
		m := goble.NewManager(goble.Options{
			NamePrefix:     cfg.NamePrefix,
			ConnectTimeout: cfg.ConnectTimeout,
		}, logger)
		return m, m.Close, nil

	case config.BackendReplay:
		var (
			scenario *replay.Scenario
			err      error
		)
		if cfg.Scenario == "" {
			scenario, err = replay.ParseScenario(museb.DemoReplayScenario)
		} else {
			scenario, err = replay.LoadScenario(cfg.Scenario)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load replay scenario: %w", err)
		}
		m := replay.NewManager(scenario, logger)
		return m, m.StopListening, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// newDispatcher wires manager to sink with the configured policies.
func newDispatcher(cfg *config.Config, manager headband.Manager, sink bridge.Sink, logger *logrus.Logger) (*bridge.Dispatcher, error) {
	policy, err := bridge.ParseDuplicateNamePolicy(cfg.DuplicateNames)
	if err != nil {
		return nil, err
	}
	return bridge.NewDispatcher(manager, sink, bridge.Options{
		DuplicateNames:            policy,
		ResetSubscribersOnConnect: cfg.ResetSubscribersOnConnect,
	}, logger), nil
}
