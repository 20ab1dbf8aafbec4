package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"servoctl/internal/output"
)

type Config struct {
	// Echo enables diagnostics for non-fatal events.
	Echo bool `yaml:"echo"`
	// DefaultUpdateCycleUs is the PWM refresh period used when an
	// actuator names none. Defaults to 20000 (20 ms).
	DefaultUpdateCycleUs int `yaml:"default_update_cycle_us"`
	// ReservedChannels are PWM/DMA channel ids never handed out.
	ReservedChannels []int `yaml:"reserved_channels"`
	// Pins maps externally held GPIO pins to their purpose. The
	// controller refuses to hand these pins out.
	Pins map[int]string `yaml:"pins"`

	Servos           []ServoConfig           `yaml:"servos"`
	ContinuousServos []ContinuousServoConfig `yaml:"continuous_servos"`
	LEDs             []LEDConfig             `yaml:"leds"`
}

type ServoConfig struct {
	Name          string  `yaml:"name"`
	Pin           int     `yaml:"pin"`
	UpdateCycleUs int     `yaml:"update_cycle_us"`
	RangeOfMotion float64 `yaml:"range_of_motion"`
	PulseMinMs    float64 `yaml:"pulse_min_ms"`
	PulseMaxMs    float64 `yaml:"pulse_max_ms"`
	Reverse       bool    `yaml:"reverse"`
}

type ContinuousServoConfig struct {
	Name          string  `yaml:"name"`
	Pin           int     `yaml:"pin"`
	UpdateCycleUs int     `yaml:"update_cycle_us"`
	PulseMinMs    float64 `yaml:"pulse_min_ms"`
	PulseMaxMs    float64 `yaml:"pulse_max_ms"`
	Reverse       bool    `yaml:"reverse"`
}

type LEDConfig struct {
	Name string `yaml:"name"`
	Pin  int    `yaml:"pin"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.DefaultUpdateCycleUs <= 0 {
		cfg.DefaultUpdateCycleUs = output.DefaultUpdateCycleUs
	}

	for _, ch := range cfg.ReservedChannels {
		if ch < 0 || ch >= output.MaxChannels {
			return Config{}, fmt.Errorf("reserved_channels: channel %d out of range [0, %d)", ch, output.MaxChannels)
		}
	}

	names := make(map[string]bool)
	pins := make(map[int]string)
	for pin, purpose := range cfg.Pins {
		pins[pin] = purpose
	}
	checkActuator := func(kind, name string, pin int) error {
		if name == "" {
			return fmt.Errorf("%s: name is required", kind)
		}
		if pin <= 0 {
			return fmt.Errorf("%s %q: pin is required", kind, name)
		}
		if names[name] {
			return fmt.Errorf("%s %q: duplicate actuator name", kind, name)
		}
		names[name] = true
		if held, ok := pins[pin]; ok {
			return fmt.Errorf("%s %q: pin %d already used for %q", kind, name, pin, held)
		}
		pins[pin] = name
		return nil
	}

	for _, s := range cfg.Servos {
		if err := checkActuator("servos", s.Name, s.Pin); err != nil {
			return Config{}, err
		}
	}
	for _, s := range cfg.ContinuousServos {
		if err := checkActuator("continuous_servos", s.Name, s.Pin); err != nil {
			return Config{}, err
		}
	}
	for _, l := range cfg.LEDs {
		if err := checkActuator("leds", l.Name, l.Pin); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

// Save writes the config back out, e.g. after runtime edits.
func (c Config) Save(path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
