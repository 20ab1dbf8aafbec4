// Package output manages exclusive ownership of the board's GPIO pins and
// PWM/DMA channels and converts actuator commands (angle, speed,
// brightness) into quantized pulse widths for the hardware driver.
//
// A Controller and every actuator it creates must be used from a single
// goroutine. The board has one logical owner, none of this state is
// locked, and concurrent use from multiple goroutines is unsupported.
package output

import (
	"errors"
	"fmt"
)

// Config carries the controller's bookkeeping inputs. All fields are
// fixed for the controller's lifetime.
type Config struct {
	// Echo enables diagnostics for non-fatal events (releasing an
	// unclaimed pin, releasing an unbound cycle).
	Echo bool
	// DefaultUpdateCycleUs is used when an actuator config names no
	// update cycle. Defaults to DefaultUpdateCycleUs.
	DefaultUpdateCycleUs int
	// ReservedChannels are channel ids excluded from allocation.
	ReservedChannels []int
	// ClaimedPins are pins held by other subsystems, pin -> purpose.
	// They are recorded as claimed without touching the hardware.
	ClaimedPins map[int]string
}

// Controller orchestrates pin claims, channel allocation, and actuator
// construction against one hardware driver.
type Controller struct {
	drv            Driver
	echo           bool
	defaultCycleUs int

	pins     *pinRegistry
	channels *channelAllocator

	servos     map[string]*Servo
	continuous map[string]*ContinuousServo
	leds       map[string]*LED
}

// NewController builds a controller around drv. The driver is injected so
// tests can substitute a fake; the controller never reaches for ambient
// hardware state.
func NewController(drv Driver, cfg Config) *Controller {
	if cfg.DefaultUpdateCycleUs <= 0 {
		cfg.DefaultUpdateCycleUs = DefaultUpdateCycleUs
	}
	c := &Controller{
		drv:            drv,
		echo:           cfg.Echo,
		defaultCycleUs: cfg.DefaultUpdateCycleUs,
		pins:           newPinRegistry(drv, cfg.Echo),
		channels:       newChannelAllocator(cfg.ReservedChannels, cfg.Echo),
		servos:         make(map[string]*Servo),
		continuous:     make(map[string]*ContinuousServo),
		leds:           make(map[string]*LED),
	}
	c.pins.seed(cfg.ClaimedPins)
	return c
}

// NewServo claims pin, resolves the channel for the servo's update cycle,
// and registers the servo under name. Construction is all-or-nothing: the
// pin claim is rolled back if the channel cannot be resolved.
func (c *Controller) NewServo(name string, pin int, cfg ServoConfig) (*Servo, error) {
	if err := c.checkName(name); err != nil {
		return nil, err
	}
	cfg.applyDefaults(c.defaultCycleUs)
	if err := c.pins.Claim(pin, Out, fmt.Sprintf("servo %s", name)); err != nil {
		return nil, err
	}
	ch, err := c.cycleChannel(cfg.UpdateCycleUs)
	if err != nil {
		c.pins.Release(pin)
		return nil, err
	}
	s := newServo(c.drv, name, pin, ch, cfg)
	c.servos[name] = s
	return s, nil
}

// NewContinuousServo is NewServo for a continuous-rotation servo.
func (c *Controller) NewContinuousServo(name string, pin int, cfg ContinuousServoConfig) (*ContinuousServo, error) {
	if err := c.checkName(name); err != nil {
		return nil, err
	}
	cfg.applyDefaults(c.defaultCycleUs)
	if err := c.pins.Claim(pin, Out, fmt.Sprintf("continuous servo %s", name)); err != nil {
		return nil, err
	}
	ch, err := c.cycleChannel(cfg.UpdateCycleUs)
	if err != nil {
		c.pins.Release(pin)
		return nil, err
	}
	s := newContinuousServo(c.drv, name, pin, ch, cfg)
	c.continuous[name] = s
	return s, nil
}

// NewLED claims pin and registers an LED under name. An LED has no update
// cycle preference: it shares whichever channel is already bound if one
// exists, otherwise a fresh channel is allocated and configured with the
// default update cycle.
func (c *Controller) NewLED(name string, pin int) (*LED, error) {
	if err := c.checkName(name); err != nil {
		return nil, err
	}
	if err := c.pins.Claim(pin, Out, fmt.Sprintf("led %s", name)); err != nil {
		return nil, err
	}
	ch, fresh, err := c.channels.ChannelForLED()
	if err == nil && fresh {
		if cerr := c.drv.ConfigureChannel(ch, c.defaultCycleUs); cerr != nil {
			c.channels.releaseChannel(ch)
			err = fmt.Errorf("output: configure channel %d: %w", ch, cerr)
		}
	}
	if err != nil {
		c.pins.Release(pin)
		return nil, err
	}
	l := newLED(c.drv, name, pin, ch)
	c.leds[name] = l
	return l, nil
}

// cycleChannel resolves the channel for an update cycle, configuring it
// on the driver when the binding is new. A fresh binding is rolled back
// if the driver rejects the configuration.
func (c *Controller) cycleChannel(updateCycleUs int) (int, error) {
	ch, fresh, err := c.channels.ChannelFor(updateCycleUs)
	if err != nil {
		return 0, err
	}
	if fresh {
		if err := c.drv.ConfigureChannel(ch, updateCycleUs); err != nil {
			c.channels.releaseChannel(ch)
			return 0, fmt.Errorf("output: configure channel %d: %w", ch, err)
		}
	}
	return ch, nil
}

// RebindChannel points an update cycle at an explicit channel and
// configures it on the driver. The cycle must not be bound already;
// release it first with ReleaseUpdateCycle.
func (c *Controller) RebindChannel(updateCycleUs, channel int) error {
	if err := c.channels.Rebind(updateCycleUs, channel); err != nil {
		return err
	}
	if err := c.drv.ConfigureChannel(channel, updateCycleUs); err != nil {
		c.channels.releaseChannel(channel)
		return fmt.Errorf("output: configure channel %d: %w", channel, err)
	}
	return nil
}

// ReleaseUpdateCycle drops a cycle's channel binding.
func (c *Controller) ReleaseUpdateCycle(updateCycleUs int) {
	c.channels.ReleaseCycle(updateCycleUs)
}

// Servo returns the servo registered under name.
func (c *Controller) Servo(name string) (*Servo, bool) {
	s, ok := c.servos[name]
	return s, ok
}

// ContinuousServo returns the continuous servo registered under name.
func (c *Controller) ContinuousServo(name string) (*ContinuousServo, bool) {
	s, ok := c.continuous[name]
	return s, ok
}

// LED returns the LED registered under name.
func (c *Controller) LED(name string) (*LED, bool) {
	l, ok := c.leds[name]
	return l, ok
}

// Set commands the actuator registered under name, whatever its kind.
func (c *Controller) Set(name string, value float64) error {
	a, ok := c.byName(name)
	if !ok {
		return fmt.Errorf("output: no actuator named %q", name)
	}
	return a.Set(value)
}

// Increment adjusts the actuator registered under name by delta.
func (c *Controller) Increment(name string, delta float64) error {
	a, ok := c.byName(name)
	if !ok {
		return fmt.Errorf("output: no actuator named %q", name)
	}
	return a.Increment(delta)
}

// Remove clears the actuator's pulse, releases its pin, and drops it from
// the registry. Channel bindings persist; channels are shared.
func (c *Controller) Remove(name string) error {
	a, ok := c.byName(name)
	if !ok {
		return fmt.Errorf("output: no actuator named %q", name)
	}
	channel, pin := a.location()
	err := c.drv.ClearPulse(channel, pin)
	c.pins.Release(pin)
	delete(c.servos, name)
	delete(c.continuous, name)
	delete(c.leds, name)
	if err != nil {
		return fmt.Errorf("output: remove %q: %w", name, err)
	}
	return nil
}

// Close clears every scheduled pulse and releases every actuator pin. The
// driver stays open; the caller owns it.
func (c *Controller) Close() error {
	var errs []error
	for name := range c.servos {
		if err := c.Remove(name); err != nil {
			errs = append(errs, err)
		}
	}
	for name := range c.continuous {
		if err := c.Remove(name); err != nil {
			errs = append(errs, err)
		}
	}
	for name := range c.leds {
		if err := c.Remove(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) byName(name string) (actuator, bool) {
	if s, ok := c.servos[name]; ok {
		return s, true
	}
	if s, ok := c.continuous[name]; ok {
		return s, true
	}
	if l, ok := c.leds[name]; ok {
		return l, true
	}
	return nil, false
}

func (c *Controller) checkName(name string) error {
	if name == "" {
		return fmt.Errorf("output: actuator name is required")
	}
	if _, ok := c.byName(name); ok {
		return fmt.Errorf("output: actuator %q already exists", name)
	}
	return nil
}
