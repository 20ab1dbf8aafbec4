package output

import (
	"errors"
	"fmt"
)

// ErrBadBrightness is returned for brightness values outside the open
// (0, 100) interval.
var ErrBadBrightness = errors.New("brightness out of range")

// LED is a dimmable LED on one GPIO pin, driven by duty cycle over the
// channel's subcycle.
type LED struct {
	drv     Driver
	name    string
	pin     int
	channel int

	brightness float64
}

func newLED(drv Driver, name string, pin, channel int) *LED {
	return &LED{drv: drv, name: name, pin: pin, channel: channel}
}

// Set commands the brightness in percent and pushes the new pulse. The
// value must lie strictly inside (0, 100); nothing changes on a failed
// validation.
func (l *LED) Set(brightness float64) error {
	if !(brightness > 0 && brightness < 100) {
		return fmt.Errorf("output: led %q: brightness %v not in (0, 100): %w",
			l.name, brightness, ErrBadBrightness)
	}
	l.brightness = brightness
	return l.Apply()
}

// Increment adjusts the brightness by delta percent, subject to the same
// validation as Set.
func (l *LED) Increment(delta float64) error {
	return l.Set(l.brightness + delta)
}

// Brightness returns the commanded brightness in percent.
func (l *LED) Brightness() float64 { return l.brightness }

// Pulse returns the current pulse width in pulse-increment units: the
// duty ratio applied to the channel's subcycle, divided down to the
// driver's granularity.
func (l *LED) Pulse() float64 {
	subcycle := float64(l.drv.SubcycleTimeUs(l.channel))
	incr := float64(l.drv.PulseIncrementUs())
	return l.brightness / 100 * subcycle / incr
}

// Apply clears any prior pulse on the pin and programs the new one at
// offset 0.
func (l *LED) Apply() error {
	if err := l.drv.ClearPulse(l.channel, l.pin); err != nil {
		return fmt.Errorf("output: led %q: %w", l.name, err)
	}
	if err := l.drv.EmitPulse(l.channel, l.pin, 0, int(l.Pulse())); err != nil {
		return fmt.Errorf("output: led %q: %w", l.name, err)
	}
	return nil
}

func (l *LED) location() (channel, pin int) { return l.channel, l.pin }
