//go:build test

package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/srg/museb/internal/headband"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// BridgeCase drives one script against mock headbands.
//
// Devices are discovered when the script starts scanning. After the script ran
// the runner waits for WaitForState (default "connected" when Events are
// given), then pushes Events into the first device.
type BridgeCase struct {
	Name         string   `yaml:"name"`
	Devices      []string `yaml:"devices,omitempty"`
	Script       string   `yaml:"script"`
	WaitForState string   `yaml:"wait_for_state,omitempty"`
	Events       []Event  `yaml:"events,omitempty"`

	ExpectScriptError string              `yaml:"expect_script_error,omitempty"`
	ExpectedStdout    string              `yaml:"expected_stdout,omitempty"`
	ExpectedErrors    []string            `yaml:"expected_errors,omitempty"`
	ExpectedPayloads  PayloadExpectations `yaml:"expected_payloads,omitempty"`
}

// Event is a single packet pushed by the mock headband. Exactly one field is set.
type Event struct {
	Connection *ConnectionEvent `yaml:"connection,omitempty"`
	Data       *DataEvent       `yaml:"data,omitempty"`
	Artifact   *ArtifactEvent   `yaml:"artifact,omitempty"`
}

type ConnectionEvent struct {
	Previous string `yaml:"previous"`
	Current  string `yaml:"current"`
}

type DataEvent struct {
	Type      string    `yaml:"type"`
	Timestamp int64     `yaml:"timestamp"`
	Values    []float64 `yaml:"values"`
}

type ArtifactEvent struct {
	HeadbandOn bool `yaml:"headband_on"`
	Blink      bool `yaml:"blink"`
	JawClench  bool `yaml:"jaw_clench"`
}

// PayloadExpectations maps "receiver.handler" to the JSON array of payloads that
// handler must receive. File order is kept so failures report in the order written.
type PayloadExpectations struct {
	*orderedmap.OrderedMap[string, string]
}

func (p *PayloadExpectations) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected_payloads must be a mapping", node.Line)
	}

	p.OrderedMap = orderedmap.New[string, string]()
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value

		var payloads []interface{}
		if err := node.Content[i+1].Decode(&payloads); err != nil {
			return fmt.Errorf("line %d: %s: %w", node.Content[i+1].Line, key, err)
		}
		data, err := json.Marshal(payloads)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		p.Set(key, string(data))
	}
	return nil
}

// Len is zero for a case without payload expectations.
func (p PayloadExpectations) Len() int {
	if p.OrderedMap == nil {
		return 0
	}
	return p.OrderedMap.Len()
}

// SplitTarget splits "receiver.handler".
func SplitTarget(target string) (receiver, handler string, err error) {
	receiver, handler, ok := strings.Cut(target, ".")
	if !ok || receiver == "" || handler == "" {
		return "", "", fmt.Errorf("invalid payload target %q: expected receiver.handler", target)
	}
	return receiver, handler, nil
}

// ParseBridgeCases reads a `test_cases` list. Inline YAML is dedented first.
func ParseBridgeCases(content string) ([]BridgeCase, error) {
	var doc struct {
		TestCases []BridgeCase `yaml:"test_cases"`
	}
	if err := yaml.Unmarshal([]byte(Dedent(content)), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse test cases: %w", err)
	}
	for i, tc := range doc.TestCases {
		if tc.Name == "" {
			return nil, fmt.Errorf("test case #%d has no name", i+1)
		}
		for j, e := range tc.Events {
			if _, err := e.Apply(nil); err != nil {
				return nil, fmt.Errorf("%s: event #%d: %w", tc.Name, j+1, err)
			}
		}
	}
	return doc.TestCases, nil
}

// StateToAwait returns the dispatcher session state the runner waits for, or "".
func (tc BridgeCase) StateToAwait() string {
	if tc.WaitForState == "" && len(tc.Events) > 0 {
		return "connected"
	}
	return tc.WaitForState
}

// Apply pushes the event into h and reports whether a listener took it.
// A nil h only validates the event.
func (e Event) Apply(h *MockHeadband) (bool, error) {
	set := 0
	for _, present := range []bool{e.Connection != nil, e.Data != nil, e.Artifact != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return false, fmt.Errorf("exactly one of connection, data, artifact must be set")
	}

	switch {
	case e.Connection != nil:
		prev, err := parseConnectionState(e.Connection.Previous)
		if err != nil {
			return false, err
		}
		cur, err := parseConnectionState(e.Connection.Current)
		if err != nil {
			return false, err
		}
		if h != nil {
			h.EmitConnection(prev, cur)
		}
		return true, nil

	case e.Data != nil:
		t, err := headband.ParsePacketType(e.Data.Type)
		if err != nil {
			return false, err
		}
		if h == nil {
			return true, nil
		}
		return h.EmitData(headband.DataPacket{Type: t, Timestamp: e.Data.Timestamp, Values: e.Data.Values}), nil

	default:
		if h == nil {
			return true, nil
		}
		return h.EmitArtifact(headband.ArtifactPacket{
			HeadbandOn: e.Artifact.HeadbandOn,
			Blink:      e.Artifact.Blink,
			JawClench:  e.Artifact.JawClench,
		}), nil
	}
}

func parseConnectionState(s string) (headband.ConnectionState, error) {
	for st := headband.StateUnknown; st <= headband.StateNeedsUpdate; st++ {
		if strings.EqualFold(st.String(), s) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown connection state %q", s)
}

// Dedent strips the common leading indentation so YAML can be written inline in Go raw strings.
// Tabs in the indentation count as four spaces; tabs after it are kept.
func Dedent(s string) string {
	const tab = "    "
	lines := strings.Split(s, "\n")

	minIndent := -1
	for i, line := range lines {
		rest := strings.TrimLeft(line, " \t")
		indent := strings.ReplaceAll(line[:len(line)-len(rest)], "\t", tab)
		lines[i] = indent + rest
		if rest == "" {
			continue
		}
		if minIndent == -1 || len(indent) < minIndent {
			minIndent = len(indent)
		}
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
			continue
		}
		if minIndent > 0 {
			lines[i] = line[minIndent:]
		}
	}
	return strings.Join(lines, "\n")
}
