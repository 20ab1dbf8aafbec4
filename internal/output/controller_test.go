package output

import (
	"errors"
	"fmt"
	"testing"
)

// fakeDriver records every driver call so tests can assert on ordering
// and arguments without hardware.
type fakeDriver struct {
	incrUs    int
	subcycles map[int]int // channel -> configured update cycle

	directions map[int]Direction
	ops        []string

	failDirection error
	failConfigure error
	failEmit      error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		incrUs:     10,
		subcycles:  make(map[int]int),
		directions: make(map[int]Direction),
	}
}

func (d *fakeDriver) SetPinDirection(pin int, dir Direction) error {
	if d.failDirection != nil {
		return d.failDirection
	}
	d.directions[pin] = dir
	d.ops = append(d.ops, fmt.Sprintf("dir %d %s", pin, dir))
	return nil
}

func (d *fakeDriver) ConfigureChannel(channel, updateCycleUs int) error {
	if d.failConfigure != nil {
		return d.failConfigure
	}
	d.subcycles[channel] = updateCycleUs
	d.ops = append(d.ops, fmt.Sprintf("config %d %d", channel, updateCycleUs))
	return nil
}

func (d *fakeDriver) EmitPulse(channel, pin, startOffset, width int) error {
	if d.failEmit != nil {
		return d.failEmit
	}
	d.ops = append(d.ops, fmt.Sprintf("emit %d %d %d %d", channel, pin, startOffset, width))
	return nil
}

func (d *fakeDriver) ClearPulse(channel, pin int) error {
	d.ops = append(d.ops, fmt.Sprintf("clear %d %d", channel, pin))
	return nil
}

func (d *fakeDriver) SubcycleTimeUs(channel int) int {
	if us, ok := d.subcycles[channel]; ok {
		return us
	}
	return DefaultUpdateCycleUs
}

func (d *fakeDriver) PulseIncrementUs() int { return d.incrUs }

func (d *fakeDriver) lastOp() string {
	if len(d.ops) == 0 {
		return ""
	}
	return d.ops[len(d.ops)-1]
}

func TestNewServoClaimsPinAndConfiguresChannel(t *testing.T) {
	drv := newFakeDriver()
	c := NewController(drv, Config{})

	s, err := c.NewServo("pan", 17, ServoConfig{})
	if err != nil {
		t.Fatalf("NewServo: %v", err)
	}
	if got := drv.directions[17]; got != Out {
		t.Fatalf("pin 17 direction=%v want out", got)
	}
	if got := drv.subcycles[0]; got != DefaultUpdateCycleUs {
		t.Fatalf("channel 0 cycle=%d want %d", got, DefaultUpdateCycleUs)
	}
	if s.channel != 0 {
		t.Fatalf("channel=%d want 0", s.channel)
	}
}

func TestNewServoRegistersUnderSuppliedName(t *testing.T) {
	drv := newFakeDriver()
	c := NewController(drv, Config{})

	if _, err := c.NewServo("pan", 17, ServoConfig{}); err != nil {
		t.Fatalf("NewServo pan: %v", err)
	}
	if _, err := c.NewServo("tilt", 18, ServoConfig{}); err != nil {
		t.Fatalf("NewServo tilt: %v", err)
	}

	pan, ok := c.Servo("pan")
	if !ok || pan.pin != 17 {
		t.Fatalf("lookup pan: ok=%v pin=%v", ok, pan)
	}
	tilt, ok := c.Servo("tilt")
	if !ok || tilt.pin != 18 {
		t.Fatalf("lookup tilt: ok=%v pin=%v", ok, tilt)
	}
}

func TestNewServoRejectsDuplicateName(t *testing.T) {
	drv := newFakeDriver()
	c := NewController(drv, Config{})

	if _, err := c.NewServo("pan", 17, ServoConfig{}); err != nil {
		t.Fatalf("NewServo: %v", err)
	}
	if _, err := c.NewServo("pan", 18, ServoConfig{}); err == nil {
		t.Fatalf("expected duplicate name to fail")
	}
	// The rejected constructor must not leak its pin claim.
	if c.pins.Claimed(18) {
		t.Fatalf("pin 18 left claimed after rejected construction")
	}
}

func TestServosSharingCycleShareChannel(t *testing.T) {
	drv := newFakeDriver()
	c := NewController(drv, Config{})

	a, err := c.NewServo("a", 17, ServoConfig{UpdateCycleUs: 20000})
	if err != nil {
		t.Fatalf("NewServo a: %v", err)
	}
	b, err := c.NewServo("b", 18, ServoConfig{UpdateCycleUs: 20000})
	if err != nil {
		t.Fatalf("NewServo b: %v", err)
	}
	other, err := c.NewServo("c", 19, ServoConfig{UpdateCycleUs: 10000})
	if err != nil {
		t.Fatalf("NewServo c: %v", err)
	}

	if a.channel != b.channel {
		t.Fatalf("same cycle, different channels: %d vs %d", a.channel, b.channel)
	}
	if other.channel == a.channel {
		t.Fatalf("distinct cycles share channel %d", a.channel)
	}
}

func TestNewServoRollsBackPinOnChannelFailure(t *testing.T) {
	drv := newFakeDriver()
	// Every channel reserved: allocation must fail.
	reserved := make([]int, MaxChannels)
	for i := range reserved {
		reserved[i] = i
	}
	c := NewController(drv, Config{ReservedChannels: reserved})

	if _, err := c.NewServo("pan", 17, ServoConfig{}); !errors.Is(err, ErrNoChannel) {
		t.Fatalf("err=%v want ErrNoChannel", err)
	}
	if c.pins.Claimed(17) {
		t.Fatalf("pin 17 left claimed after failed construction")
	}
}

func TestNewServoRollsBackOnDriverConfigureFailure(t *testing.T) {
	drv := newFakeDriver()
	drv.failConfigure = errors.New("pwm chip missing")
	c := NewController(drv, Config{})

	if _, err := c.NewServo("pan", 17, ServoConfig{}); err == nil {
		t.Fatalf("expected configure failure to propagate")
	}
	if c.pins.Claimed(17) {
		t.Fatalf("pin 17 left claimed")
	}

	// Both the pin and the channel binding must be reusable afterwards.
	drv.failConfigure = nil
	s, err := c.NewServo("pan", 17, ServoConfig{})
	if err != nil {
		t.Fatalf("NewServo retry: %v", err)
	}
	if s.channel != 0 {
		t.Fatalf("channel=%d want 0 after rollback", s.channel)
	}
}

func TestNewLEDReusesExistingChannel(t *testing.T) {
	drv := newFakeDriver()
	c := NewController(drv, Config{})

	s, err := c.NewServo("pan", 17, ServoConfig{})
	if err != nil {
		t.Fatalf("NewServo: %v", err)
	}
	l, err := c.NewLED("lamp", 22)
	if err != nil {
		t.Fatalf("NewLED: %v", err)
	}
	if l.channel != s.channel {
		t.Fatalf("led channel=%d want shared %d", l.channel, s.channel)
	}
}

func TestNewLEDAllocatesFreshChannelWhenNoneBound(t *testing.T) {
	drv := newFakeDriver()
	c := NewController(drv, Config{ReservedChannels: []int{0}})

	l, err := c.NewLED("lamp", 22)
	if err != nil {
		t.Fatalf("NewLED: %v", err)
	}
	if l.channel != 1 {
		t.Fatalf("channel=%d want 1", l.channel)
	}
	// Fresh LED channels still need hardware timing.
	if got := drv.subcycles[1]; got != DefaultUpdateCycleUs {
		t.Fatalf("channel 1 cycle=%d want %d", got, DefaultUpdateCycleUs)
	}
}

func TestControllerSetDispatchesByName(t *testing.T) {
	drv := newFakeDriver()
	c := NewController(drv, Config{})

	if _, err := c.NewServo("pan", 17, ServoConfig{}); err != nil {
		t.Fatalf("NewServo: %v", err)
	}
	if _, err := c.NewLED("lamp", 22); err != nil {
		t.Fatalf("NewLED: %v", err)
	}

	if err := c.Set("pan", 45); err != nil {
		t.Fatalf("Set pan: %v", err)
	}
	if err := c.Increment("lamp", 50); err != nil {
		t.Fatalf("Increment lamp: %v", err)
	}
	if err := c.Set("nope", 1); err == nil {
		t.Fatalf("expected unknown name to fail")
	}
}

func TestRemoveClearsPulseAndFreesPin(t *testing.T) {
	drv := newFakeDriver()
	c := NewController(drv, Config{})

	s, err := c.NewServo("pan", 17, ServoConfig{})
	if err != nil {
		t.Fatalf("NewServo: %v", err)
	}
	if err := s.Set(45); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := c.Remove("pan"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got, want := drv.lastOp(), "clear 0 17"; got != want {
		t.Fatalf("last op=%q want %q", got, want)
	}
	if _, ok := c.Servo("pan"); ok {
		t.Fatalf("servo still registered after Remove")
	}

	// The pin is free for a new claim.
	if _, err := c.NewLED("lamp", 17); err != nil {
		t.Fatalf("reclaim pin 17: %v", err)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	drv := newFakeDriver()
	c := NewController(drv, Config{})

	if _, err := c.NewServo("pan", 17, ServoConfig{}); err != nil {
		t.Fatalf("NewServo: %v", err)
	}
	if _, err := c.NewContinuousServo("drive", 27, ContinuousServoConfig{}); err != nil {
		t.Fatalf("NewContinuousServo: %v", err)
	}
	if _, err := c.NewLED("lamp", 22); err != nil {
		t.Fatalf("NewLED: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, pin := range []int{17, 27, 22} {
		if c.pins.Claimed(pin) {
			t.Fatalf("pin %d still claimed after Close", pin)
		}
	}
}

func TestRebindChannelRequiresExplicitRelease(t *testing.T) {
	drv := newFakeDriver()
	c := NewController(drv, Config{})

	if _, err := c.NewServo("pan", 17, ServoConfig{UpdateCycleUs: 20000}); err != nil {
		t.Fatalf("NewServo: %v", err)
	}

	if err := c.RebindChannel(20000, 5); !errors.Is(err, ErrChannelBound) {
		t.Fatalf("err=%v want ErrChannelBound", err)
	}

	c.ReleaseUpdateCycle(20000)
	if err := c.RebindChannel(20000, 5); err != nil {
		t.Fatalf("RebindChannel after release: %v", err)
	}
	if got := drv.subcycles[5]; got != 20000 {
		t.Fatalf("channel 5 cycle=%d want 20000", got)
	}
}
