// Package museb embeds the sample assets shipped with the museb command.
package museb

import _ "embed"

// SampleAppLuaScript is the sample application run by `museb run` when no script is given.
//
//go:embed examples/sample_app.lua
var SampleAppLuaScript string

// DemoReplayScenario is the replay scenario used when the replay backend has no --scenario.
//
//go:embed examples/replay/demo.yaml
var DemoReplayScenario []byte
