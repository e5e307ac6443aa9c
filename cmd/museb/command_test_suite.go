//go:build test

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/museb/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// testScenario discovers two headbands quickly; Muse-A streams a short session without dropping.
const testScenario = `
version: replay 1.0
devices:
  - name: Muse-A
    id: 00:55:da:00:00:0a
    discover_after: 10ms
    session:
      - after: 30ms
        data: {type: eeg, timestamp: 100, values: [801.2, .nan, 799.0, 800.4, 0, 0]}
      - after: 10ms
        data: {type: battery, timestamp: 101, values: [77, 3800, 30]}
      - after: 10ms
        artifact: {headband_on: true, jaw_clench: true}
  - name: Muse-B
    id: 00:55:da:00:00:0b
    discover_after: 20ms
`

// CommandTestSuite runs commands in-process against a replay scenario.
// All cmd/museb test suites should embed it.
type CommandTestSuite struct {
	suite.Suite
	Helper       *testutils.TestHelper
	ScenarioPath string

	originalFactory func() // restores backendFactory
}

func (s *CommandTestSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())

	s.ScenarioPath = filepath.Join(s.T().TempDir(), "scenario.yaml")
	s.Require().NoError(os.WriteFile(s.ScenarioPath, []byte(testScenario), 0o600))

	original := backendFactory
	s.originalFactory = func() { backendFactory = original }

	// keep developer .env files and MUSEB_* variables out of the tests
	dotenvFiles = nil
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, "MUSEB_") {
			s.T().Setenv(name, "")
			_ = os.Unsetenv(name)
		}
	}

	resetFlags(rootCmd)
	runArgs = map[string]string{}
}

func (s *CommandTestSuite) TearDownTest() {
	s.originalFactory()
}

// resetFlags restores every flag of cmd and its children to its default so
// package-level flag variables do not leak between tests.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, child := range cmd.Commands() {
		resetFlags(child)
	}
}

// ExecuteCommand runs the root command with args and returns stdout, stderr and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

// WithReplay prefixes args with the replay backend flags.
func (s *CommandTestSuite) WithReplay(args ...string) []string {
	return append(args, "--backend", "replay", "--scenario", s.ScenarioPath)
}
