package output

// Direction configures a GPIO pin as input or output.
type Direction int

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// Driver is the minimal interface the output controller needs from a
// PWM/GPIO backend.
//
// Channels carry every pulse programmed for one update cycle (the PWM
// refresh period). Pulse start offsets and widths are expressed in units
// of the driver's pulse increment, the smallest time step the hardware
// can resolve. The driver may append pulses rather than replace them, so
// callers clear a pin's previous pulse before emitting a new one.
type Driver interface {
	SetPinDirection(pin int, dir Direction) error
	ConfigureChannel(channel, updateCycleUs int) error
	EmitPulse(channel, pin, startOffset, width int) error
	ClearPulse(channel, pin int) error
	SubcycleTimeUs(channel int) int
	PulseIncrementUs() int
}
