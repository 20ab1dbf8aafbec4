package output

import (
	"errors"
	"fmt"
	"math"
)

// DefaultUpdateCycleUs is the PWM refresh period used when a config does
// not name one. 20 ms is the conventional hobby-servo frame.
const DefaultUpdateCycleUs = 20000

var (
	// ErrBadAngle is returned for angles outside the servo's open
	// (0, range-of-motion) interval.
	ErrBadAngle = errors.New("angle out of range")
	// ErrBadSpeed is returned for speeds outside the open (-1, 1) interval.
	ErrBadSpeed = errors.New("speed out of range")
)

// actuator is the capability every output kind provides: the current
// pulse in driver terms, and a push of that pulse to the hardware.
type actuator interface {
	Set(v float64) error
	Increment(delta float64) error
	Pulse() float64
	Apply() error
	location() (channel, pin int)
}

// ServoConfig carries the optional knobs for NewServo. Zero values select
// the defaults. PulseMinMs and PulseMaxMs are order-independent; they are
// canonicalized at construction.
type ServoConfig struct {
	UpdateCycleUs int
	RangeOfMotion float64 // total travel in degrees; default 90
	PulseMinMs    float64 // default 1.0
	PulseMaxMs    float64 // default 2.0
	Reverse       bool
}

func (c *ServoConfig) applyDefaults(defaultCycleUs int) {
	if c.UpdateCycleUs <= 0 {
		c.UpdateCycleUs = defaultCycleUs
	}
	if c.RangeOfMotion <= 0 {
		c.RangeOfMotion = 90
	}
	if c.PulseMinMs == 0 && c.PulseMaxMs == 0 {
		c.PulseMinMs, c.PulseMaxMs = 1.0, 2.0
	}
	if c.PulseMaxMs < c.PulseMinMs {
		c.PulseMinMs, c.PulseMaxMs = c.PulseMaxMs, c.PulseMinMs
	}
}

// Servo is a positional servo on one GPIO pin. The stored angle is the
// commanded position, not a measurement. With Reverse set, the maximum
// pulse width corresponds to position 0 rather than to the far end of the
// range of motion.
type Servo struct {
	drv     Driver
	name    string
	pin     int
	channel int

	rangeOfMotion float64
	pulseMinMs    float64
	pulseMaxMs    float64
	reverse       bool

	angle float64
}

func newServo(drv Driver, name string, pin, channel int, cfg ServoConfig) *Servo {
	return &Servo{
		drv:           drv,
		name:          name,
		pin:           pin,
		channel:       channel,
		rangeOfMotion: cfg.RangeOfMotion,
		pulseMinMs:    cfg.PulseMinMs,
		pulseMaxMs:    cfg.PulseMaxMs,
		reverse:       cfg.Reverse,
	}
}

// Set commands the servo to angle and pushes the new pulse. The angle
// must lie strictly inside (0, range-of-motion); nothing changes on a
// failed validation.
func (s *Servo) Set(angle float64) error {
	if !(angle > 0 && angle < s.rangeOfMotion) {
		return fmt.Errorf("output: servo %q: angle %v not in (0, %v): %w",
			s.name, angle, s.rangeOfMotion, ErrBadAngle)
	}
	s.angle = angle
	return s.Apply()
}

// Increment moves the servo by delta degrees, subject to the same
// validation as Set.
func (s *Servo) Increment(delta float64) error {
	return s.Set(s.angle + delta)
}

// Angle returns the commanded position in degrees.
func (s *Servo) Angle() float64 { return s.angle }

// Pulse returns the current pulse width in microseconds, floor-quantized
// to the driver's pulse increment.
func (s *Servo) Pulse() float64 {
	ratio := s.angle / s.rangeOfMotion
	if s.reverse {
		ratio = -ratio
	}
	pulseUs := (s.pulseMinMs + ratio*(s.pulseMaxMs-s.pulseMinMs)) * 1000
	incr := float64(s.drv.PulseIncrementUs())
	return math.Floor(pulseUs/incr) * incr
}

// Apply pushes the current pulse to the driver. The driver appends
// pulses, so the previous one is dropped first.
func (s *Servo) Apply() error {
	if err := s.drv.ClearPulse(s.channel, s.pin); err != nil {
		return fmt.Errorf("output: servo %q: %w", s.name, err)
	}
	width := int(s.Pulse()) / s.drv.PulseIncrementUs()
	if err := s.drv.EmitPulse(s.channel, s.pin, 0, width); err != nil {
		return fmt.Errorf("output: servo %q: %w", s.name, err)
	}
	return nil
}

func (s *Servo) location() (channel, pin int) { return s.channel, s.pin }

// ContinuousServoConfig carries the optional knobs for
// NewContinuousServo. Zero values select the defaults.
type ContinuousServoConfig struct {
	UpdateCycleUs int
	PulseMinMs    float64 // default 1.0
	PulseMaxMs    float64 // default 2.0
	Reverse       bool
}

func (c *ContinuousServoConfig) applyDefaults(defaultCycleUs int) {
	if c.UpdateCycleUs <= 0 {
		c.UpdateCycleUs = defaultCycleUs
	}
	if c.PulseMinMs == 0 && c.PulseMaxMs == 0 {
		c.PulseMinMs, c.PulseMaxMs = 1.0, 2.0
	}
	if c.PulseMaxMs < c.PulseMinMs {
		c.PulseMinMs, c.PulseMaxMs = c.PulseMaxMs, c.PulseMinMs
	}
}

// ContinuousServo is a continuous-rotation servo: the command is a speed
// in (-1, 1) around a neutral midpoint pulse, 0 meaning stopped.
type ContinuousServo struct {
	drv     Driver
	name    string
	pin     int
	channel int

	pulseMinMs float64
	pulseMaxMs float64
	reverse    bool

	speed float64
}

func newContinuousServo(drv Driver, name string, pin, channel int, cfg ContinuousServoConfig) *ContinuousServo {
	return &ContinuousServo{
		drv:        drv,
		name:       name,
		pin:        pin,
		channel:    channel,
		pulseMinMs: cfg.PulseMinMs,
		pulseMaxMs: cfg.PulseMaxMs,
		reverse:    cfg.Reverse,
	}
}

// Set commands the rotation speed and pushes the new pulse. The speed
// must lie strictly inside (-1, 1); nothing changes on a failed
// validation.
func (s *ContinuousServo) Set(speed float64) error {
	if !(speed > -1 && speed < 1) {
		return fmt.Errorf("output: continuous servo %q: speed %v not in (-1, 1): %w",
			s.name, speed, ErrBadSpeed)
	}
	s.speed = speed
	return s.Apply()
}

// Increment adjusts the speed by delta, subject to the same validation as
// Set.
func (s *ContinuousServo) Increment(delta float64) error {
	return s.Set(s.speed + delta)
}

// Speed returns the commanded speed.
func (s *ContinuousServo) Speed() float64 { return s.speed }

// Pulse returns the current pulse width in microseconds. Speed 0 lands on
// the midpoint of the pulse bounds; Reverse negates the speed before the
// conversion, mirroring the directional reversal used by Servo.
func (s *ContinuousServo) Pulse() float64 {
	speed := s.speed
	if s.reverse {
		speed = -speed
	}
	zeroMs := (s.pulseMinMs + s.pulseMaxMs) / 2
	return (zeroMs + speed*(s.pulseMaxMs-s.pulseMinMs)/2) * 1000
}

// Apply pushes the current pulse to the driver, floored to whole pulse
// increments.
func (s *ContinuousServo) Apply() error {
	if err := s.drv.ClearPulse(s.channel, s.pin); err != nil {
		return fmt.Errorf("output: continuous servo %q: %w", s.name, err)
	}
	width := int(s.Pulse()) / s.drv.PulseIncrementUs()
	if err := s.drv.EmitPulse(s.channel, s.pin, 0, width); err != nil {
		return fmt.Errorf("output: continuous servo %q: %w", s.name, err)
	}
	return nil
}

func (s *ContinuousServo) location() (channel, pin int) { return s.channel, s.pin }
