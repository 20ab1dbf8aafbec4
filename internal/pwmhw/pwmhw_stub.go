//go:build !linux

package pwmhw

import (
	"fmt"

	"servoctl/internal/output"
)

// Stub implementation for non-Linux platforms.

type Driver struct{}

var _ output.Driver = (*Driver)(nil)

func Open() (*Driver, error) {
	return nil, fmt.Errorf("pwmhw: unsupported OS (need linux)")
}

func (d *Driver) SetPinDirection(pin int, dir output.Direction) error {
	return fmt.Errorf("pwmhw: unsupported OS")
}

func (d *Driver) ConfigureChannel(channel, updateCycleUs int) error {
	return fmt.Errorf("pwmhw: unsupported OS")
}

func (d *Driver) EmitPulse(channel, pin, startOffset, width int) error {
	return fmt.Errorf("pwmhw: unsupported OS")
}

func (d *Driver) ClearPulse(channel, pin int) error {
	return fmt.Errorf("pwmhw: unsupported OS")
}

func (d *Driver) SubcycleTimeUs(channel int) int { return 20000 }

func (d *Driver) PulseIncrementUs() int { return 10 }

func (d *Driver) Close() error { return nil }
