//go:build test

package testutils

import (
	"testing"

	"github.com/srg/museb/internal/headband"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBridgeCases(t *testing.T) {
	cases, err := ParseBridgeCases(`
		test_cases:
		  - name: stream eeg
		    devices: [Muse-A]
		    script: |
		      print("hi")
		    events:
		      - data: {type: eeg, timestamp: 10, values: [1, 2, 3, 4, 5, 6]}
		      - artifact: {headband_on: true}
		    expected_payloads:
		      app.on_data:
		        - DataPacketType: EEG
		      app.on_connection:
		        - CurrentConnectionState: 2
	`)
	require.NoError(t, err)
	require.Len(t, cases, 1)

	tc := cases[0]
	assert.Equal(t, "stream eeg", tc.Name)
	assert.Equal(t, []string{"Muse-A"}, tc.Devices)
	assert.Equal(t, "print(\"hi\")\n", tc.Script)
	require.Len(t, tc.Events, 2)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, tc.Events[0].Data.Values)

	require.Equal(t, 2, tc.ExpectedPayloads.Len())
	first := tc.ExpectedPayloads.Oldest()
	assert.Equal(t, "app.on_data", first.Key, "payload expectations MUST keep file order")
	assert.JSONEq(t, `[{"DataPacketType":"EEG"}]`, first.Value)
	assert.Equal(t, "app.on_connection", first.Next().Key)
}

func TestParseBridgeCases_RejectsBadEvents(t *testing.T) {
	for name, content := range map[string]string{
		"unknown type":  "test_cases:\n  - name: x\n    script: x\n    events:\n      - data: {type: telepathy}\n",
		"two events":    "test_cases:\n  - name: x\n    script: x\n    events:\n      - data: {type: eeg}\n        artifact: {blink: true}\n",
		"unknown state": "test_cases:\n  - name: x\n    script: x\n    events:\n      - connection: {previous: CONNECTED, current: ASLEEP}\n",
		"no name":       "test_cases:\n  - script: x\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBridgeCases(content)
			assert.Error(t, err)
		})
	}
}

func TestEventApply(t *testing.T) {
	h := NewMockHeadband("Muse-A", "aa").WithoutAutoConnect().Build()
	listener := &countingDataListener{}
	h.RegisterDataListener(listener, headband.EEG)

	delivered, err := Event{Data: &DataEvent{Type: "EEG", Values: []float64{1}}}.Apply(h)
	require.NoError(t, err)
	assert.True(t, delivered)

	delivered, err = Event{Data: &DataEvent{Type: "battery"}}.Apply(h)
	require.NoError(t, err)
	assert.False(t, delivered, "unregistered types MUST NOT be delivered")

	assert.Equal(t, 1, listener.data)
}

func TestSplitTarget(t *testing.T) {
	r, h, err := SplitTarget("app.on_data")
	require.NoError(t, err)
	assert.Equal(t, "app", r)
	assert.Equal(t, "on_data", h)

	_, _, err = SplitTarget("app")
	assert.Error(t, err)
}

func TestDedent(t *testing.T) {
	assert.Equal(t, "a:\n  b: 1\n", Dedent("    a:\n      b: 1\n"))
	assert.Equal(t, "a: 1", Dedent("a: 1"))
	assert.Equal(t, "out: |\n  x\ty\n", Dedent("\t\tout: |\n\t\t  x\ty\n"), "tabs after the indentation MUST be kept")
}

type countingDataListener struct {
	data, artifacts int
}

func (l *countingDataListener) DataReceived(headband.DataPacket, headband.Headband)         { l.data++ }
func (l *countingDataListener) ArtifactReceived(headband.ArtifactPacket, headband.Headband) { l.artifacts++ }
