package bridge

import (
	"math"

	"github.com/srg/museb/internal/headband"
)

// categoryNames is the wire name of every packet type.
var categoryNames = map[headband.PacketType]string{
	headband.Accelerometer: "ACCELEROMETER",
	headband.Gyro:          "GYRO",
	headband.EEG:           "EEG",
	headband.Quantization:  "QUANTIZATION",
	headband.Battery:       "BATTERY",
	headband.DrlRef:        "DRL_REF",
	headband.AlphaAbsolute: "ALPHA_ABSOLUTE",
	headband.BetaAbsolute:  "BETA_ABSOLUTE",
	headband.DeltaAbsolute: "DELTA_ABSOLUTE",
	headband.ThetaAbsolute: "THETA_ABSOLUTE",
	headband.GammaAbsolute: "GAMMA_ABSOLUTE",
	headband.AlphaRelative: "ALPHA_RELATIVE",
	headband.BetaRelative:  "BETA_RELATIVE",
	headband.DeltaRelative: "DELTA_RELATIVE",
	headband.ThetaRelative: "THETA_RELATIVE",
	headband.GammaRelative: "GAMMA_RELATIVE",
	headband.AlphaScore:    "ALPHA_SCORE",
	headband.BetaScore:     "BETA_SCORE",
	headband.DeltaScore:    "DELTA_SCORE",
	headband.ThetaScore:    "THETA_SCORE",
	headband.GammaScore:    "GAMMA_SCORE",
	headband.HsiPrecision:  "HSI_PRECISION",
	headband.Artifacts:     "ARTIFACTS",
}

var categoriesByName = func() map[string]headband.PacketType {
	m := make(map[string]headband.PacketType, len(categoryNames))
	for t, name := range categoryNames {
		m[name] = t
	}
	return m
}()

// CategoryName returns the wire name of t, or "" for an undeclared packet type.
func CategoryName(t headband.PacketType) string {
	return categoryNames[t]
}

// ParseCategory maps a wire name back to its packet type. Matching is exact.
func ParseCategory(name string) (headband.PacketType, error) {
	t, ok := categoriesByName[name]
	if !ok {
		return 0, &UnrecognizedCategoryError{Name: name}
	}
	return t, nil
}

// Categories returns every wire name in packet type order.
func Categories() []string {
	types := headband.PacketTypes()
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, categoryNames[t])
	}
	return names
}

// Value layouts per packet family, in outbound order.
var (
	axisLayout    = []int{headband.ForwardBackward, headband.UpDown, headband.LeftRight}
	batteryLayout = []int{headband.ChargePercentageRemaining, headband.Millivolts, headband.TemperatureCelsius}
	drlRefLayout  = []int{headband.Drl, headband.Ref}
	eegLayout     = []int{headband.EEG1, headband.EEG2, headband.EEG3, headband.EEG4, headband.AuxLeft, headband.AuxRight}
)

// ExtractValues returns the packet values in the fixed outbound order of its family.
// Extraction stops at the packet's own value count. EEG-family values that are
// NaN are replaced with 0; other families are passed through untouched.
func ExtractValues(p headband.DataPacket) []float64 {
	layout, zeroNaN := layoutFor(p.Type)

	n := len(layout)
	if size := p.ValuesSize(); size < n {
		n = size
	}

	values := make([]float64, 0, n)
	for _, idx := range layout[:n] {
		v := p.Values[idx]
		if zeroNaN && math.IsNaN(v) {
			v = 0
		}
		values = append(values, v)
	}
	return values
}

func layoutFor(t headband.PacketType) (layout []int, zeroNaN bool) {
	switch t {
	case headband.Accelerometer, headband.Gyro:
		return axisLayout, false
	case headband.Battery:
		return batteryLayout, false
	case headband.DrlRef:
		return drlRefLayout, false
	default:
		return eegLayout, true
	}
}
