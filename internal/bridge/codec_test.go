package bridge

import (
	"math"
	"testing"

	"github.com/srg/museb/internal/headband"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryName_RoundTripForEveryPacketType(t *testing.T) {
	seen := map[string]headband.PacketType{}

	for _, pt := range headband.PacketTypes() {
		name := CategoryName(pt)
		require.NotEmpty(t, name, "packet type %s MUST have a wire name", pt)

		if other, dup := seen[name]; dup {
			t.Fatalf("wire name %q is shared by %s and %s", name, other, pt)
		}
		seen[name] = pt

		back, err := ParseCategory(name)
		require.NoError(t, err)
		assert.Equal(t, pt, back, "ParseCategory(CategoryName(%s)) MUST round-trip", pt)
	}
}

func TestCategories_CanonicalOrder(t *testing.T) {
	assert.Equal(t, []string{
		"ACCELEROMETER", "GYRO", "EEG", "QUANTIZATION", "BATTERY", "DRL_REF",
		"ALPHA_ABSOLUTE", "BETA_ABSOLUTE", "DELTA_ABSOLUTE", "THETA_ABSOLUTE", "GAMMA_ABSOLUTE",
		"ALPHA_RELATIVE", "BETA_RELATIVE", "DELTA_RELATIVE", "THETA_RELATIVE", "GAMMA_RELATIVE",
		"ALPHA_SCORE", "BETA_SCORE", "DELTA_SCORE", "THETA_SCORE", "GAMMA_SCORE",
		"HSI_PRECISION", "ARTIFACTS",
	}, Categories())
}

func TestParseCategory_Unrecognized(t *testing.T) {
	for _, name := range []string{"", "eeg", "ALPHA", "EEG ", "NOT_A_CATEGORY"} {
		_, err := ParseCategory(name)
		require.Error(t, err, "%q MUST be rejected", name)
		assert.ErrorIs(t, err, ErrUnrecognizedCategory)

		var catErr *UnrecognizedCategoryError
		require.ErrorAs(t, err, &catErr)
		assert.Equal(t, name, catErr.Name)
	}
}

func TestExtractValues(t *testing.T) {
	nan := math.NaN()

	tests := []struct {
		name   string
		packet headband.DataPacket
		want   []float64
	}{
		{
			name:   "accelerometer keeps axis order",
			packet: headband.DataPacket{Type: headband.Accelerometer, Values: []float64{0.1, -0.9, 0.3}},
			want:   []float64{0.1, -0.9, 0.3},
		},
		{
			name:   "gyro ignores extra values",
			packet: headband.DataPacket{Type: headband.Gyro, Values: []float64{1, 2, 3, 4, 5}},
			want:   []float64{1, 2, 3},
		},
		{
			name:   "battery",
			packet: headband.DataPacket{Type: headband.Battery, Values: []float64{87.5, 3950, 31}},
			want:   []float64{87.5, 3950, 31},
		},
		{
			name:   "drl ref takes two",
			packet: headband.DataPacket{Type: headband.DrlRef, Values: []float64{1.5, 2.5, 9, 9}},
			want:   []float64{1.5, 2.5},
		},
		{
			name:   "eeg replaces NaN with zero",
			packet: headband.DataPacket{Type: headband.EEG, Values: []float64{1.0, nan, 3.0, 4.0, 5.0, 6.0}},
			want:   []float64{1.0, 0, 3.0, 4.0, 5.0, 6.0},
		},
		{
			name:   "band power bounded by packet size",
			packet: headband.DataPacket{Type: headband.AlphaRelative, Values: []float64{0.2, nan, 0.4, 0.5}},
			want:   []float64{0.2, 0, 0.4, 0.5},
		},
		{
			name:   "hsi precision",
			packet: headband.DataPacket{Type: headband.HsiPrecision, Values: []float64{1, 2, 4, 1}},
			want:   []float64{1, 2, 4, 1},
		},
		{
			name:   "short accelerometer packet",
			packet: headband.DataPacket{Type: headband.Accelerometer, Values: []float64{0.5}},
			want:   []float64{0.5},
		},
		{
			name:   "empty packet",
			packet: headband.DataPacket{Type: headband.EEG},
			want:   []float64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractValues(tt.packet))
		})
	}
}

func TestExtractValues_NeverReturnsNaNForEEGFamily(t *testing.T) {
	nan := math.NaN()
	values := []float64{nan, nan, nan, nan, nan, nan}

	for _, pt := range headband.PacketTypes() {
		switch pt {
		case headband.Accelerometer, headband.Gyro, headband.Battery, headband.DrlRef:
			continue
		}
		for _, v := range ExtractValues(headband.DataPacket{Type: pt, Values: values}) {
			assert.False(t, math.IsNaN(v), "%s MUST NOT yield NaN", pt)
		}
	}
}

func TestExtractValues_FixedArity(t *testing.T) {
	full := []float64{1, 2, 3, 4, 5, 6, 7, 8}

	assert.Len(t, ExtractValues(headband.DataPacket{Type: headband.Accelerometer, Values: full}), 3)
	assert.Len(t, ExtractValues(headband.DataPacket{Type: headband.Gyro, Values: full}), 3)
	assert.Len(t, ExtractValues(headband.DataPacket{Type: headband.Battery, Values: full}), 3)
	assert.Len(t, ExtractValues(headband.DataPacket{Type: headband.DrlRef, Values: full}), 2)
	assert.Len(t, ExtractValues(headband.DataPacket{Type: headband.EEG, Values: full}), 6)
}
