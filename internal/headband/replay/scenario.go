package replay

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/srg/museb/internal/headband"
	"gopkg.in/yaml.v3"
)

// ScenarioVersion is the only scenario format version understood by this package.
const ScenarioVersion = "replay 1.0"

// Scenario describes the devices a replay Manager discovers and what each one streams.
type Scenario struct {
	Version string         `yaml:"version" validate:"required,eq=replay 1.0"`
	Devices []DeviceScript `yaml:"devices" validate:"required,min=1,unique=ID,dive"`
}

// DeviceScript is one simulated headband.
type DeviceScript struct {
	Name          string   `yaml:"name" validate:"required"`
	ID            string   `yaml:"id" validate:"required"`
	DiscoverAfter Duration `yaml:"discover_after" validate:"gte=0"`
	// Loop replays the session until the headband is disconnected.
	Loop    bool   `yaml:"loop"`
	Session []Step `yaml:"session" validate:"dive"`
}

// Step is one session event, emitted After the previous one.
// Exactly one of Data, Artifact or Drop must be set.
type Step struct {
	After    Duration      `yaml:"after" validate:"gte=0"`
	Data     *DataStep     `yaml:"data,omitempty"`
	Artifact *ArtifactStep `yaml:"artifact,omitempty"`
	Drop     bool          `yaml:"drop,omitempty"`
}

// DataStep is a telemetry sample. Type is a packet type name, case-insensitive.
type DataStep struct {
	Type      string    `yaml:"type" validate:"required,packet_type"`
	Timestamp int64     `yaml:"timestamp"`
	Values    []float64 `yaml:"values"`
}

// ArtifactStep is an artifact sample.
type ArtifactStep struct {
	HeadbandOn bool `yaml:"headband_on"`
	Blink      bool `yaml:"blink"`
	JawClench  bool `yaml:"jaw_clench"`
}

// Duration is a time.Duration written as a Go duration string ("150ms", "2s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", value.Line, err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (s DataStep) packet() headband.DataPacket {
	t, _ := headband.ParsePacketType(s.Type)
	return headband.DataPacket{Type: t, Timestamp: s.Timestamp, Values: append([]float64(nil), s.Values...)}
}

func (s ArtifactStep) packet() headband.ArtifactPacket {
	return headband.ArtifactPacket{HeadbandOn: s.HeadbandOn, Blink: s.Blink, JawClench: s.JawClench}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("packet_type", func(fl validator.FieldLevel) bool {
		_, err := headband.ParsePacketType(fl.Field().String())
		return err == nil
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		step := sl.Current().Interface().(Step)
		set := 0
		if step.Data != nil {
			set++
		}
		if step.Artifact != nil {
			set++
		}
		if step.Drop {
			set++
		}
		if set != 1 {
			sl.ReportError(step, "Step", "Step", "one_event", "")
		}
	}, Step{})
	return v
}

// Validate checks the scenario for structural errors.
func (s *Scenario) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}
	return nil
}

// ParseScenario decodes and validates a YAML scenario. Unknown keys are rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
